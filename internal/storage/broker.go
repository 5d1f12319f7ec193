package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/models"
)

// FetchFunc loads the current contents of a scope's collection.
type FetchFunc func(ctx context.Context, scope Scope) ([]models.Entry, error)

// Broker fans full snapshots out to subscribers. Backends call Refresh after a
// change; each subscriber gets its snapshots in order on its own goroutine.
type Broker struct {
	fetch FetchFunc

	// refreshMu keeps fetch+enqueue atomic so snapshots are queued in fetch order
	refreshMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	id         uint64
	scope      Scope
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu        sync.Mutex
	queue     [][]models.Entry
	last      []models.Entry
	failure   error
	cancelled bool
	wake      chan struct{}
	done      chan struct{}
}

// NewBroker creates a broker that loads snapshots with fetch.
func NewBroker(fetch FetchFunc) *Broker {
	return &Broker{
		fetch: fetch,
		subs:  make(map[string]map[uint64]*subscriber),
	}
}

// Subscribe registers a subscriber and queues the initial snapshot.
func (b *Broker) Subscribe(ctx context.Context, scope Scope, onSnapshot SnapshotFunc, onError ErrorFunc) (CancelFunc, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("snapshot callback is required")
	}

	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	initial, err := b.fetch(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", scope, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	sub := &subscriber{
		id:         b.nextID,
		scope:      scope,
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	key := scope.Path()
	if b.subs[key] == nil {
		b.subs[key] = make(map[uint64]*subscriber)
	}
	b.subs[key][sub.id] = sub
	b.mu.Unlock()

	sub.enqueue(initial)
	go sub.deliver()

	logger.Debug("Subscription opened", "scope", key, "subscriber", sub.id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(sub)
			sub.cancel()
			logger.Debug("Subscription cancelled", "scope", key, "subscriber", sub.id)
		})
	}, nil
}

// Refresh reloads the scope and queues the snapshot for its subscribers.
func (b *Broker) Refresh(ctx context.Context, scope Scope) error {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	subs := b.subscribers(scope.Path())
	if len(subs) == 0 {
		return nil
	}

	entries, err := b.fetch(ctx, scope)
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", scope, err)
	}
	for _, sub := range subs {
		sub.enqueue(entries)
	}
	return nil
}

// RefreshAll refreshes every scope that has at least one subscriber.
func (b *Broker) RefreshAll(ctx context.Context) error {
	var firstErr error
	for _, scope := range b.Scopes() {
		if err := b.Refresh(ctx, scope); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fail ends every subscription on scope with err.
func (b *Broker) Fail(scope Scope, err error) {
	b.failWhere(func(s *subscriber) bool { return s.scope == scope }, err)
}

// FailAll ends every subscription with err.
func (b *Broker) FailAll(err error) {
	b.failWhere(func(*subscriber) bool { return true }, err)
}

// Scopes returns the scopes that currently have subscribers.
func (b *Broker) Scopes() []Scope {
	b.mu.Lock()
	defer b.mu.Unlock()

	scopes := make([]Scope, 0, len(b.subs))
	for _, group := range b.subs {
		for _, sub := range group {
			scopes = append(scopes, sub.scope)
			break
		}
	}
	return scopes
}

// Close cancels every subscription without invoking error callbacks.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	var all []*subscriber
	for _, group := range b.subs {
		for _, sub := range group {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[uint64]*subscriber)
	b.mu.Unlock()

	for _, sub := range all {
		sub.cancel()
	}
}

func (b *Broker) subscribers(key string) []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	group := b.subs[key]
	subs := make([]*subscriber, 0, len(group))
	for _, sub := range group {
		subs = append(subs, sub)
	}
	return subs
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := sub.scope.Path()
	if group, ok := b.subs[key]; ok {
		delete(group, sub.id)
		if len(group) == 0 {
			delete(b.subs, key)
		}
	}
}

func (b *Broker) failWhere(match func(*subscriber) bool, err error) {
	b.mu.Lock()
	var failed []*subscriber
	for key, group := range b.subs {
		for id, sub := range group {
			if match(sub) {
				failed = append(failed, sub)
				delete(group, id)
			}
		}
		if len(group) == 0 {
			delete(b.subs, key)
		}
	}
	b.mu.Unlock()

	for _, sub := range failed {
		sub.fail(err)
	}
}

func (s *subscriber) enqueue(entries []models.Entry) {
	s.mu.Lock()
	if s.cancelled || s.failure != nil {
		s.mu.Unlock()
		return
	}
	// The first snapshot always goes out; later ones only when something changed.
	if s.last != nil && sameSnapshot(s.last, entries) {
		s.mu.Unlock()
		return
	}
	snapshot := models.CloneEntries(entries)
	if snapshot == nil {
		snapshot = []models.Entry{}
	}
	s.last = snapshot
	s.queue = append(s.queue, snapshot)
	s.mu.Unlock()
	s.signal()
}

func sameSnapshot(a, b []models.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Title != y.Title || x.Text != y.Text || x.DateKey != y.DateKey {
			return false
		}
		if (x.CreatedAt == nil) != (y.CreatedAt == nil) {
			return false
		}
		if x.CreatedAt != nil && !x.CreatedAt.Equal(*y.CreatedAt) {
			return false
		}
	}
	return true
}

func (s *subscriber) fail(err error) {
	s.mu.Lock()
	if s.cancelled || s.failure != nil {
		s.mu.Unlock()
		return
	}
	s.failure = err
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// deliver drains the queue in order. A failure is reported after queued snapshots.
func (s *subscriber) deliver() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.cancelled {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 {
				failure := s.failure
				s.mu.Unlock()
				if failure != nil {
					if s.onError != nil {
						s.onError(failure)
					}
					return
				}
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.onSnapshot(next)
		}
	}
}
