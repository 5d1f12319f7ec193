package diary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/julianstephens/daybook/internal/errors"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
	"github.com/julianstephens/daybook/internal/storage/memory"
)

// manualStore hands callbacks back to the test so delivery order is explicit.
type manualStore struct {
	mu        sync.Mutex
	subs      []*manualSub
	subErr    error
	createErr  []error
	deleteErr  error
	deleteErrs []error
	creates   []storage.NewEntry
	deletes   []string
}

type manualSub struct {
	scope      storage.Scope
	onSnapshot storage.SnapshotFunc
	onError    storage.ErrorFunc
	cancelled  bool
}

func (m *manualStore) Init(context.Context) error { return nil }
func (m *manualStore) Load(context.Context) error { return nil }
func (m *manualStore) Close() error               { return nil }
func (m *manualStore) Describe() string           { return "manual" }

func (m *manualStore) Subscribe(ctx context.Context, scope storage.Scope, onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) (storage.CancelFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	sub := &manualSub{scope: scope, onSnapshot: onSnapshot, onError: onError}
	m.subs = append(m.subs, sub)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		sub.cancelled = true
	}, nil
}

func (m *manualStore) Create(ctx context.Context, scope storage.Scope, entry storage.NewEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, entry)
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		if err != nil {
			return "", err
		}
	}
	return "new-id", nil
}

func (m *manualStore) Delete(ctx context.Context, scope storage.Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, id)
	if len(m.deleteErrs) > 0 {
		err := m.deleteErrs[0]
		m.deleteErrs = m.deleteErrs[1:]
		return err
	}
	return m.deleteErr
}

func (m *manualStore) sub(t *testing.T, i int) *manualSub {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(t, len(m.subs), i, "subscription %d was never opened", i)
	return m.subs[i]
}

func ts(sec int64) *time.Time {
	t := time.Unix(sec, 0).UTC()
	return &t
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestCore(store storage.Provider, opts ...Option) *Core {
	base := []Option{
		WithLocation(time.UTC),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
		WithMutationTimeout(time.Second),
	}
	return New(store, append(base, opts...)...)
}

func TestInitialViewIsLoadingWithTodayPlaceholder(t *testing.T) {
	c := newTestCore(&manualStore{})
	v := c.View()

	assert.Equal(t, PhaseUnauthenticated, v.Phase)
	assert.Equal(t, StatusLoading, v.Status)
	assert.Equal(t, day(2025, 6, 1), v.SelectedDate)
	assert.True(t, v.EntryForSelectedDate.Placeholder)
	assert.Empty(t, v.OrderedEntries)
}

func TestEmptySnapshotYieldsPlaceholder(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))
	assert.Equal(t, PhaseSubscriptionPending, c.State())

	store.sub(t, 0).onSnapshot([]models.Entry{})
	c.SelectDate(day(2025, 6, 1))

	v := c.View()
	assert.Equal(t, StatusReady, v.Status)
	assert.Empty(t, v.OrderedEntries)
	assert.True(t, v.EntryForSelectedDate.Placeholder)
	assert.Equal(t, "2025-06-01", v.EntryForSelectedDate.DateKey)
	assert.Equal(t, "[no entry] 2025.06.01", v.EntryForSelectedDate.Title)
}

func TestSnapshotResolvesSelectedDate(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	store.sub(t, 0).onSnapshot([]models.Entry{
		{ID: "a", DateKey: "2025-06-01", Text: "practice", CreatedAt: ts(100)},
	})
	c.SelectDate(day(2025, 6, 1))

	v := c.View()
	assert.Equal(t, "a", v.EntryForSelectedDate.ID)
	assert.Equal(t, "practice", v.EntryForSelectedDate.Text)
	assert.False(t, v.EntryForSelectedDate.Placeholder)
}

func TestPendingEntrySortsFirst(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	store.sub(t, 0).onSnapshot([]models.Entry{
		{ID: "old", DateKey: "2025-05-30", Text: "x", CreatedAt: ts(50)},
		{ID: "done", DateKey: "2025-05-31", Text: "x", CreatedAt: ts(100)},
		{ID: "pending", DateKey: "2025-06-01", Text: "x"},
	})

	v := c.View()
	assert.Equal(t, []string{"pending", "done", "old"}, entryIDs(v.OrderedEntries))
}

func TestOrderingIsStableForEqualTimestamps(t *testing.T) {
	got := orderEntries([]models.Entry{
		{ID: "p1"},
		{ID: "a", CreatedAt: ts(100)},
		{ID: "p2"},
		{ID: "b", CreatedAt: ts(100)},
		{ID: "c", CreatedAt: ts(200)},
	})
	assert.Equal(t, []string{"p1", "p2", "c", "a", "b"}, entryIDs(got))
}

func TestDuplicateDateResolvesToNewest(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	store.sub(t, 0).onSnapshot([]models.Entry{
		{ID: "first", DateKey: "2025-06-01", Text: "morning", CreatedAt: ts(100)},
		{ID: "second", DateKey: "2025-06-01", Text: "evening", CreatedAt: ts(200)},
	})

	assert.Equal(t, "second", c.View().EntryForSelectedDate.ID)
}

func TestDeleteThenSnapshotRevertsToPlaceholder(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	sub := store.sub(t, 0)
	sub.onSnapshot([]models.Entry{
		{ID: "a", DateKey: "2025-06-01", Text: "practice", CreatedAt: ts(100)},
	})
	require.NoError(t, c.Delete(context.Background(), "a"))

	// Local state waits for the store.
	assert.Equal(t, "a", c.View().EntryForSelectedDate.ID)

	sub.onSnapshot([]models.Entry{})
	v := c.View()
	assert.Empty(t, v.OrderedEntries)
	assert.True(t, v.EntryForSelectedDate.Placeholder)
	assert.Equal(t, []string{"a"}, store.deletes)
}

func TestSwitchingIdentityDropsStaleCallbacks(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)

	require.NoError(t, c.Open(context.Background(), "x"))
	require.NoError(t, c.Open(context.Background(), "y"))

	subX, subY := store.sub(t, 0), store.sub(t, 1)
	assert.True(t, subX.cancelled)
	assert.False(t, subY.cancelled)
	assert.Equal(t, "y", subY.scope.Identity)

	subY.onSnapshot([]models.Entry{{ID: "y1", DateKey: "2025-06-01", Text: "y", CreatedAt: ts(1)}})
	subX.onSnapshot([]models.Entry{{ID: "x1", DateKey: "2025-06-01", Text: "x", CreatedAt: ts(2)}})
	subX.onError(errors.New("late error from x"))

	v := c.View()
	assert.Equal(t, PhaseLive, v.Phase)
	assert.Equal(t, "y", v.Identity)
	assert.Equal(t, []string{"y1"}, entryIDs(v.OrderedEntries))
	assert.NoError(t, v.Err)
}

func TestReopenSameIdentityIsNoop(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)

	require.NoError(t, c.Open(context.Background(), "u1"))
	require.NoError(t, c.Open(context.Background(), "u1"))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.subs, 1)
}

func TestCloseDropsLaterCallbacks(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))
	sub := store.sub(t, 0)

	c.Close()
	assert.True(t, sub.cancelled)

	sub.onSnapshot([]models.Entry{{ID: "a", DateKey: "2025-06-01", Text: "x", CreatedAt: ts(1)}})
	v := c.View()
	assert.Equal(t, PhaseUnauthenticated, v.Phase)
	assert.Empty(t, v.OrderedEntries)
}

func TestSubscriptionErrorKeepsLastEntries(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	sub := store.sub(t, 0)
	sub.onSnapshot([]models.Entry{{ID: "a", DateKey: "2025-06-01", Text: "x", CreatedAt: ts(1)}})
	sub.onError(storage.ErrUnauthorized)

	v := c.View()
	assert.Equal(t, PhaseErrored, v.Phase)
	assert.Equal(t, StatusError, v.Status)
	assert.True(t, errs.IsSubscription(v.Err))
	assert.ErrorIs(t, v.Err, storage.ErrUnauthorized)
	assert.Equal(t, []string{"a"}, entryIDs(v.OrderedEntries))
	assert.True(t, sub.cancelled)

	// Reopening the same identity recovers.
	require.NoError(t, c.Open(context.Background(), "u1"))
	assert.Equal(t, PhaseSubscriptionPending, c.State())
	assert.Equal(t, []string{"a"}, entryIDs(c.View().OrderedEntries))
}

func TestOpenFailures(t *testing.T) {
	store := &manualStore{subErr: storage.ErrUnavailable}
	c := newTestCore(store)

	err := c.Open(context.Background(), "u1")
	assert.True(t, errs.IsSubscription(err))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, PhaseErrored, c.State())

	err = c.Open(context.Background(), "bad/identity")
	assert.True(t, errs.IsSubscription(err))
	assert.ErrorIs(t, err, storage.ErrInvalidScope)
}

func TestCreateRejectsEmptyText(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Create(context.Background(), text, day(2025, 6, 1))
		assert.True(t, errs.IsValidation(err), "text %q", text)
		assert.ErrorIs(t, err, ErrEmptyText)
	}
	assert.Empty(t, store.creates)
	assert.True(t, errs.IsValidation(c.View().Notice))
}

func TestMutationsRequireIdentity(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)

	_, err := c.Create(context.Background(), "hello", day(2025, 6, 1))
	assert.True(t, errs.IsIdentity(err))
	assert.ErrorIs(t, err, ErrNoIdentity)

	err = c.Delete(context.Background(), "a")
	assert.True(t, errs.IsIdentity(err))
	assert.Empty(t, store.creates)
	assert.Empty(t, store.deletes)
}

func TestCreateSendsDerivedKey(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))

	logical := time.Date(2025, 2, 9, 23, 30, 0, 0, time.UTC)
	id, err := c.Create(context.Background(), "practice", logical, WithTitle("  Recital  "))
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)

	require.Len(t, store.creates, 1)
	sent := store.creates[0]
	assert.NotEmpty(t, sent.ID)
	sent.ID = ""
	assert.Equal(t, storage.NewEntry{Title: "Recital", Text: "practice", DateKey: "2025-02-09"}, sent)
	assert.Empty(t, c.View().OrderedEntries, "create must not append locally")
}

func TestCreateRetriesTransientFailures(t *testing.T) {
	store := &manualStore{createErr: []error{storage.ErrUnavailable, storage.ErrUnavailable}}
	c := newTestCore(store, WithMutationRetries(2))
	require.NoError(t, c.Open(context.Background(), "u1"))

	_, err := c.Create(context.Background(), "practice", day(2025, 6, 1))
	require.NoError(t, err)
	require.Len(t, store.creates, 3)
	for _, sent := range store.creates[1:] {
		assert.Equal(t, store.creates[0].ID, sent.ID, "retries reuse the entry id")
	}
}

func TestRetriedCreateAfterLostReplyStoresOnce(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	c := newTestCore(store, WithMutationRetries(2))
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), "u1"))
	require.Eventually(t, func() bool { return c.State() == PhaseLive }, 2*time.Second, 5*time.Millisecond)

	store.LoseNextCreateResponse(storage.ErrUnavailable)
	id, err := c.Create(context.Background(), "practice", day(2025, 6, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return len(c.View().OrderedEntries) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, id, c.View().OrderedEntries[0].ID)
	assert.NoError(t, c.View().Notice)

	creates, _ := store.Calls()
	assert.Equal(t, 2, creates)
}

func TestRetriedDeleteAfterLostReply(t *testing.T) {
	store := &manualStore{deleteErrs: []error{storage.ErrUnavailable, storage.ErrNotFound}}
	c := newTestCore(store, WithMutationRetries(2))
	require.NoError(t, c.Open(context.Background(), "u1"))
	store.sub(t, 0).onSnapshot([]models.Entry{{ID: "a", DateKey: "2025-06-01", Text: "x", CreatedAt: ts(1)}})

	require.NoError(t, c.Delete(context.Background(), "a"))
	assert.Equal(t, []string{"a", "a"}, store.deletes)
}

func TestDeleteNotFoundOnFirstAttemptIsAnError(t *testing.T) {
	store := &manualStore{deleteErrs: []error{storage.ErrNotFound}}
	c := newTestCore(store, WithMutationRetries(2))
	require.NoError(t, c.Open(context.Background(), "u1"))
	store.sub(t, 0).onSnapshot([]models.Entry{{ID: "a", DateKey: "2025-06-01", Text: "x", CreatedAt: ts(1)}})

	err := c.Delete(context.Background(), "a")
	assert.True(t, errs.IsMutation(err))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateFailureSetsNoticeWithoutChangingStatus(t *testing.T) {
	boom := errors.New("permission denied")
	store := &manualStore{createErr: []error{boom}}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))
	store.sub(t, 0).onSnapshot([]models.Entry{})

	_, err := c.Create(context.Background(), "practice", day(2025, 6, 1))
	assert.True(t, errs.IsMutation(err))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, store.creates, 1, "permanent errors are not retried")

	v := c.View()
	assert.Equal(t, StatusReady, v.Status)
	assert.ErrorIs(t, v.Notice, boom)

	c.DismissNotice()
	assert.NoError(t, c.View().Notice)
}

func TestDeleteUnknownIDSkipsStore(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)
	require.NoError(t, c.Open(context.Background(), "u1"))
	store.sub(t, 0).onSnapshot([]models.Entry{})

	err := c.Delete(context.Background(), "missing")
	assert.True(t, errs.IsMutation(err))
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, store.deletes)
}

func TestSelectDateTouchesNoStore(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)

	c.SelectDate(time.Date(2024, 2, 29, 18, 0, 0, 0, time.UTC))
	v := c.View()
	assert.Equal(t, day(2024, 2, 29), v.SelectedDate)
	assert.Equal(t, "2024-02-29", v.EntryForSelectedDate.DateKey)
	assert.Empty(t, store.subs)
}

func TestWatchDeliversLatestView(t *testing.T) {
	store := &manualStore{}
	c := newTestCore(store)

	ch, stop := c.Watch()
	defer stop()

	first := <-ch
	assert.Equal(t, PhaseUnauthenticated, first.Phase)

	c.SelectDate(day(2025, 1, 1))
	c.SelectDate(day(2025, 1, 2))
	c.SelectDate(day(2025, 1, 3))

	latest := <-ch
	assert.Equal(t, day(2025, 1, 3), latest.SelectedDate)

	select {
	case v := <-ch:
		t.Fatalf("unexpected extra view: %v", v.SelectedDate)
	default:
	}
}

func TestWatchStopClosesChannel(t *testing.T) {
	c := newTestCore(&manualStore{})
	ch, stop := c.Watch()
	<-ch
	stop()
	stop()

	_, ok := <-ch
	assert.False(t, ok)

	c.SelectDate(day(2025, 1, 1))
}

func TestRoundTripThroughMemoryStore(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	c := newTestCore(store)
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), "u1"))
	require.Eventually(t, func() bool { return c.State() == PhaseLive }, 2*time.Second, 5*time.Millisecond)

	c.SelectDate(day(2025, 6, 1))
	id, err := c.Create(context.Background(), "practice", day(2025, 6, 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.View().EntryForSelectedDate.ID == id
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "practice", c.View().EntryForSelectedDate.Text)

	require.NoError(t, c.Delete(context.Background(), id))
	require.Eventually(t, func() bool {
		return c.View().EntryForSelectedDate.Placeholder
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMemoryStoreDropMovesToErrored(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	c := newTestCore(store)
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), "u1"))
	require.Eventually(t, func() bool { return c.State() == PhaseLive }, 2*time.Second, 5*time.Millisecond)

	store.Drop(storage.Scope{Namespace: "daybook-default-app", Identity: "u1"}, storage.ErrUnauthorized)
	require.Eventually(t, func() bool { return c.State() == PhaseErrored }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.View().Err, storage.ErrUnauthorized)
}

func entryIDs(entries []models.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestReady(t *testing.T) {
	t.Run("live", func(t *testing.T) {
		store := &manualStore{}
		c := newTestCore(store)
		require.NoError(t, c.Open(context.Background(), "u1"))

		sub := store.sub(t, 0)
		go sub.onSnapshot([]models.Entry{{ID: "a", DateKey: "2025-06-01", Text: "x", CreatedAt: ts(1)}})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		v, err := c.Ready(ctx)
		require.NoError(t, err)
		assert.Len(t, v.OrderedEntries, 1)
	})

	t.Run("errored", func(t *testing.T) {
		store := &manualStore{}
		c := newTestCore(store)
		require.NoError(t, c.Open(context.Background(), "u1"))
		store.sub(t, 0).onError(storage.ErrUnauthorized)

		_, err := c.Ready(context.Background())
		assert.True(t, errs.IsSubscription(err))
		assert.ErrorIs(t, err, storage.ErrUnauthorized)
	})

	t.Run("never opened", func(t *testing.T) {
		c := newTestCore(&manualStore{})
		_, err := c.Ready(context.Background())
		assert.True(t, errs.IsIdentity(err))
	})

	t.Run("deadline", func(t *testing.T) {
		c := newTestCore(&manualStore{})
		require.NoError(t, c.Open(context.Background(), "u1"))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := c.Ready(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
