// Package memory is an in-process document store. It backs tests and the
// "memory" store endpoint.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
)

type Option func(*Store)

// WithClock sets the timestamp source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPendingTimestamps makes Create publish the new entry with a nil CreatedAt
// first and the resolved timestamp in a second snapshot.
func WithPendingTimestamps() Option {
	return func(s *Store) { s.pending = true }
}

type Store struct {
	mu          sync.Mutex
	collections map[string][]models.Entry
	broker      *storage.Broker
	now         func() time.Time
	pending     bool
	closed      bool

	failSubscribe   error
	failCreate      error
	failAfterCreate error
	failDelete      error

	creates int
	deletes int
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string][]models.Entry),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.broker = storage.NewBroker(s.fetch)
	return s
}

func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Load(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.broker.Close()
	return nil
}

func (s *Store) Describe() string {
	return "memory"
}

func (s *Store) Subscribe(ctx context.Context, scope storage.Scope, onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) (storage.CancelFunc, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, storage.ErrClosed
	}
	if err := s.failSubscribe; err != nil {
		s.failSubscribe = nil
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.broker.Subscribe(ctx, scope, onSnapshot, onError)
}

func (s *Store) Create(ctx context.Context, scope storage.Scope, entry storage.NewEntry) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := storage.ValidateNewEntry(entry); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", storage.ErrClosed
	}
	if err := s.failCreate; err != nil {
		s.failCreate = nil
		s.mu.Unlock()
		return "", err
	}
	s.creates++
	key := scope.Path()
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	if owner, ok := s.owner(id); ok {
		s.mu.Unlock()
		if owner != key {
			return "", fmt.Errorf("%w: %s", storage.ErrConflict, id)
		}
		return id, nil
	}

	doc := models.Entry{
		ID:      id,
		Title:   entry.Title,
		Text:    entry.Text,
		DateKey: entry.DateKey,
	}
	if !s.pending {
		ts := s.now()
		doc.CreatedAt = &ts
	}
	s.collections[key] = append(s.collections[key], doc)
	lost := s.failAfterCreate
	s.failAfterCreate = nil
	s.mu.Unlock()

	s.refresh(ctx, scope, "create")
	if s.pending {
		s.resolve(scope, doc.ID)
		s.refresh(ctx, scope, "create")
	}
	if lost != nil {
		return "", lost
	}
	return doc.ID, nil
}

// owner returns the collection holding id. Callers hold s.mu.
func (s *Store) owner(id string) (string, bool) {
	for key, docs := range s.collections {
		for _, doc := range docs {
			if doc.ID == id {
				return key, true
			}
		}
	}
	return "", false
}

// refresh publishes scope after a write. The write already happened, so a
// failure is logged rather than returned.
func (s *Store) refresh(ctx context.Context, scope storage.Scope, op string) {
	if err := s.broker.Refresh(ctx, scope); err != nil {
		logger.Warn("Failed to refresh subscribers", "op", op, "scope", scope.Path(), "error", err)
	}
}

func (s *Store) Delete(ctx context.Context, scope storage.Scope, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return storage.ErrClosed
	}
	if err := s.failDelete; err != nil {
		s.failDelete = nil
		s.mu.Unlock()
		return err
	}
	key := scope.Path()
	docs := s.collections[key]
	idx := -1
	for i, doc := range docs {
		if doc.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	s.deletes++
	s.collections[key] = append(docs[:idx:idx], docs[idx+1:]...)
	s.mu.Unlock()

	s.refresh(ctx, scope, "delete")
	return nil
}

// Seed inserts entries as-is, keeping their ids and timestamps, and publishes a snapshot.
func (s *Store) Seed(ctx context.Context, scope storage.Scope, entries ...models.Entry) error {
	s.mu.Lock()
	key := scope.Path()
	s.collections[key] = append(s.collections[key], models.CloneEntries(entries)...)
	s.mu.Unlock()
	return s.broker.Refresh(ctx, scope)
}

// FailSubscribe makes the next Subscribe call return err.
func (s *Store) FailSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubscribe = err
}

// FailNextCreate makes the next Create call return err without writing.
func (s *Store) FailNextCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = err
}

// LoseNextCreateResponse makes the next Create write the entry and then
// return err, as when a reply is lost after the write landed.
func (s *Store) LoseNextCreateResponse(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfterCreate = err
}

// FailNextDelete makes the next Delete call return err without writing.
func (s *Store) FailNextDelete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete = err
}

// Drop ends every live subscription on scope with err, as a dropped feed would.
func (s *Store) Drop(scope storage.Scope, err error) {
	s.broker.Fail(scope, err)
}

// Calls reports how many creates and deletes reached the store.
func (s *Store) Calls() (creates, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.deletes
}

func (s *Store) resolve(scope storage.Scope, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[scope.Path()]
	for i := range docs {
		if docs[i].ID == id && docs[i].CreatedAt == nil {
			ts := s.now()
			docs[i].CreatedAt = &ts
		}
	}
}

func (s *Store) fetch(ctx context.Context, scope storage.Scope) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := models.CloneEntries(s.collections[scope.Path()])
	if entries == nil {
		entries = []models.Entry{}
	}
	return entries, nil
}
