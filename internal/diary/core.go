// Package diary keeps a live, ordered view of one identity's diary and issues
// mutations against the document store that backs it.
package diary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/julianstephens/daybook/internal/constants"
	errs "github.com/julianstephens/daybook/internal/errors"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
	"github.com/julianstephens/daybook/internal/utils"
)

var (
	// ErrEmptyText is the cause of a ValidationError for blank submissions
	ErrEmptyText = errors.New("entry text cannot be empty")
	// ErrNoIdentity is the cause of an IdentityError when nothing is open
	ErrNoIdentity = errors.New("no identity is active")
)

type Option func(*Core)

// WithClock sets the source of "now", used for the initial selected date.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// WithLocation sets the timezone that calendar dates are read in.
func WithLocation(loc *time.Location) Option {
	return func(c *Core) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithNamespace sets the app namespace every scope is built under.
func WithNamespace(namespace string) Option {
	return func(c *Core) { c.namespace = namespace }
}

// WithMutationRetries bounds retries of transient store failures. Zero disables retry.
func WithMutationRetries(n int) Option {
	return func(c *Core) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithMutationTimeout bounds each create or delete, retries included.
func WithMutationTimeout(d time.Duration) Option {
	return func(c *Core) { c.timeout = d }
}

// EntryOption customizes a created entry.
type EntryOption func(*storage.NewEntry)

// WithTitle sets an entry headline.
func WithTitle(title string) EntryOption {
	return func(e *storage.NewEntry) { e.Title = strings.TrimSpace(title) }
}

// Core owns the live subscription for the signed-in identity and the ViewModel
// derived from it. It is the only writer of that ViewModel.
type Core struct {
	store     storage.Provider
	namespace string
	loc       *time.Location
	now       func() time.Time
	retries   int
	timeout   time.Duration

	mu sync.Mutex
	// generation tags the active subscription; callbacks carrying an older
	// value are dropped before they touch any state.
	generation uint64
	cancel     storage.CancelFunc
	phase      Phase
	identity   string
	entries    []models.Entry
	selected   time.Time
	err        error
	notice     error
	view       ViewModel

	watchers    map[uint64]chan ViewModel
	nextWatcher uint64
}

// New creates a Core in the Unauthenticated phase with today selected.
func New(store storage.Provider, opts ...Option) *Core {
	c := &Core{
		store:     store,
		namespace: constants.DefaultNamespace,
		loc:       time.Local,
		now:       time.Now,
		retries:   constants.DefaultMutationRetries,
		timeout:   constants.DefaultMutationTimeout,
		entries:   []models.Entry{},
		watchers:  make(map[uint64]chan ViewModel),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.selected = utils.StartOfDay(c.now().In(c.loc))

	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return c
}

// Open subscribes to identity's collection. Re-opening the identity that is
// already pending or live is a no-op; a different identity replaces the
// current subscription. A rejected scope moves the Core to PhaseErrored and
// the error is returned as a SubscriptionError.
func (c *Core) Open(ctx context.Context, identity string) error {
	c.mu.Lock()
	if c.identity == identity && (c.phase == PhaseSubscriptionPending || c.phase == PhaseLive) {
		c.mu.Unlock()
		return nil
	}

	prev := c.cancel
	c.cancel = nil
	c.generation++
	gen := c.generation
	if c.identity != identity {
		c.entries = []models.Entry{}
	}
	c.identity = identity
	c.phase = PhaseSubscriptionPending
	c.err = nil
	c.notice = nil
	c.publishLocked()
	c.mu.Unlock()

	// Cancel outside the lock: a store may wait for its delivery goroutine,
	// which can be blocked on c.mu.
	if prev != nil {
		prev()
	}

	scope := c.scopeFor(identity)
	if err := scope.Validate(); err != nil {
		return c.failSubscription(gen, err)
	}

	logger.Debug("Opening diary subscription", "scope", scope.Path())
	cancel, err := c.store.Subscribe(ctx, scope, c.snapshotHandler(gen), c.errorHandler(gen))
	if err != nil {
		return c.failSubscription(gen, err)
	}

	c.mu.Lock()
	if c.generation != gen {
		// Superseded by another Open or Close while subscribing
		c.mu.Unlock()
		cancel()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	logger.Info("Diary subscription opened", "scope", scope.Path(), "store", c.store.Describe())
	return nil
}

// Close cancels the active subscription. No snapshot is applied afterwards.
func (c *Core) Close() {
	c.mu.Lock()
	prev := c.cancel
	c.cancel = nil
	c.generation++
	c.phase = PhaseUnauthenticated
	c.identity = ""
	c.entries = []models.Entry{}
	c.err = nil
	c.notice = nil
	c.publishLocked()
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Create writes a new entry dated by logicalDate. Nothing is appended locally;
// the entry appears with the next snapshot. The id is fixed before the first
// attempt, so a retry after a lost reply cannot store a second copy.
func (c *Core) Create(ctx context.Context, text string, logicalDate time.Time, opts ...EntryOption) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", c.reject(errs.ValidationError("create", ErrEmptyText))
	}

	scope, err := c.activeScope("create")
	if err != nil {
		return "", c.reject(err)
	}

	payload := storage.NewEntry{
		ID:      uuid.NewString(),
		Text:    text,
		DateKey: utils.DeriveKey(logicalDate),
	}
	for _, opt := range opts {
		opt(&payload)
	}

	var id string
	err = c.mutate(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.store.Create(ctx, scope, payload)
		return err
	})
	if err != nil {
		logger.Error("Failed to create entry", "scope", scope.Path(), "date", payload.DateKey, "error", err)
		return "", c.reject(errs.MutationError("create", err))
	}

	logger.Debug("Entry created", "scope", scope.Path(), "id", id, "date", payload.DateKey)
	c.clearNotice()
	return id, nil
}

// Delete removes an entry by id. The local view changes only when the next
// snapshot arrives.
func (c *Core) Delete(ctx context.Context, id string) error {
	scope, err := c.activeScope("delete")
	if err != nil {
		return c.reject(err)
	}

	c.mu.Lock()
	known := false
	for _, e := range c.entries {
		if e.ID == id {
			known = true
			break
		}
	}
	c.mu.Unlock()
	if !known {
		return c.reject(errs.MutationError("delete", fmt.Errorf("%w: %s", storage.ErrNotFound, id)))
	}

	attempts := 0
	err = c.mutate(ctx, func(ctx context.Context) error {
		attempts++
		err := c.store.Delete(ctx, scope, id)
		// An earlier attempt landed and only its reply was lost
		if attempts > 1 && errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		logger.Error("Failed to delete entry", "scope", scope.Path(), "id", id, "error", err)
		return c.reject(errs.MutationError("delete", err))
	}

	logger.Debug("Entry deleted", "scope", scope.Path(), "id", id)
	c.clearNotice()
	return nil
}

// SelectDate changes the selected calendar date without contacting the store.
func (c *Core) SelectDate(date time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, c.loc)
	c.publishLocked()
}

// DismissNotice clears the last mutation notice.
func (c *Core) DismissNotice() {
	c.clearNotice()
}

// View returns the most recently published ViewModel.
func (c *Core) View() ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// State returns the current lifecycle phase.
func (c *Core) State() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Identity returns the identity the Core is opened for, if any.
func (c *Core) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Location returns the timezone calendar dates are read in.
func (c *Core) Location() *time.Location {
	return c.loc
}

// Watch returns a channel that always holds the latest ViewModel. A slow reader
// skips intermediate views but never sees them out of order.
func (c *Core) Watch() (<-chan ViewModel, func()) {
	ch := make(chan ViewModel, 1)

	c.mu.Lock()
	c.nextWatcher++
	id := c.nextWatcher
	c.watchers[id] = ch
	ch <- c.view
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

// Ready blocks until the first snapshot after Open is applied, the
// subscription fails, or ctx is done.
func (c *Core) Ready(ctx context.Context) (ViewModel, error) {
	views, stop := c.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return c.View(), ctx.Err()
		case vm := <-views:
			switch vm.Phase {
			case PhaseLive:
				return vm, nil
			case PhaseErrored:
				return vm, vm.Err
			case PhaseUnauthenticated:
				return vm, errs.IdentityError("ready", ErrNoIdentity)
			}
		}
	}
}

func (c *Core) scopeFor(identity string) storage.Scope {
	return storage.Scope{Namespace: c.namespace, Identity: identity}
}

func (c *Core) activeScope(op string) (storage.Scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != PhaseSubscriptionPending && c.phase != PhaseLive {
		return storage.Scope{}, errs.IdentityError(op, ErrNoIdentity)
	}
	return c.scopeFor(c.identity), nil
}

func (c *Core) snapshotHandler(gen uint64) storage.SnapshotFunc {
	return func(entries []models.Entry) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.generation || c.phase == PhaseErrored {
			logger.Debug("Dropping stale snapshot", "generation", gen)
			return
		}
		c.entries = orderEntries(entries)
		c.phase = PhaseLive
		c.publishLocked()
	}
}

func (c *Core) errorHandler(gen uint64) storage.ErrorFunc {
	return func(err error) {
		_ = c.failSubscription(gen, err)
	}
}

// failSubscription moves the Core to PhaseErrored, keeping the last entries.
func (c *Core) failSubscription(gen uint64, err error) error {
	serr := errs.SubscriptionError("open", err)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return serr
	}
	prev := c.cancel
	c.cancel = nil
	c.phase = PhaseErrored
	c.err = serr
	c.publishLocked()
	identity := c.identity
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
	logger.Warn("Diary subscription failed", "identity", identity, "error", err)
	return serr
}

func (c *Core) mutate(ctx context.Context, fn func(context.Context) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewConstant(constants.MutationRetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, storage.ErrUnavailable) {
			logger.Debug("Retrying mutation", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Core) reject(err error) error {
	c.mu.Lock()
	c.notice = err
	c.publishLocked()
	c.mu.Unlock()
	return err
}

func (c *Core) clearNotice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice != nil {
		c.notice = nil
		c.publishLocked()
	}
}

// publishLocked rebuilds the ViewModel and hands it to every watcher.
func (c *Core) publishLocked() {
	c.view = ViewModel{
		OrderedEntries:       c.entries,
		EntryForSelectedDate: entryForDate(c.entries, c.selected),
		SelectedDate:         c.selected,
		Status:               statusFor(c.phase),
		Phase:                c.phase,
		Identity:             c.identity,
		Err:                  c.err,
		Notice:               c.notice,
	}

	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c.view:
		default:
		}
	}
}
