package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
	"github.com/julianstephens/daybook/migrations"
)

var scope = storage.Scope{Namespace: "daybook-default-app", Identity: "u1"}

func setupTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "daybook.db")
	store := NewStore(dbPath, opts...)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

type feed struct {
	snapshots chan []models.Entry
	errs      chan error
}

func subscribe(t *testing.T, s *Store, sc storage.Scope) *feed {
	t.Helper()
	f := &feed{snapshots: make(chan []models.Entry, 16), errs: make(chan error, 1)}
	cancel, err := s.Subscribe(context.Background(), sc,
		func(e []models.Entry) { f.snapshots <- e },
		func(err error) { f.errs <- err },
	)
	require.NoError(t, err)
	t.Cleanup(cancel)
	return f
}

func (f *feed) next(t *testing.T) []models.Entry {
	t.Helper()
	select {
	case s := <-f.snapshots:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestTableExists(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())

	exists, err := store.tableExists("diaries")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.tableExists("DIARIES")
	require.NoError(t, err)
	assert.True(t, exists, "lookup is case-insensitive")

	exists, err = store.tableExists("tasks")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoadRequiresInit(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.db"), WithoutWatcher())
	defer store.Close()

	err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "daybook init"), err.Error())
}

func TestLoadAfterInit(t *testing.T) {
	_, dbPath := setupTestStore(t, WithoutWatcher())

	reopened := NewStore(dbPath, WithoutWatcher())
	defer reopened.Close()
	require.NoError(t, reopened.Load(context.Background()))

	current, latest, err := reopened.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, latest, current)
	assert.GreaterOrEqual(t, latest, 1)
}

func TestInitIsIdempotent(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())
	require.NoError(t, store.Init(context.Background()))

	applied, err := store.Migrate(nil)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestCreateAndDeleteSnapshots(t *testing.T) {
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	store, _ := setupTestStore(t, WithoutWatcher(), WithClock(func() time.Time { return base }))

	f := subscribe(t, store, scope)
	initial := f.next(t)
	assert.NotNil(t, initial)
	assert.Empty(t, initial)

	id, err := store.Create(context.Background(), scope, storage.NewEntry{
		Title:   "Recital",
		Text:    "practice",
		DateKey: "2025-06-01",
	})
	require.NoError(t, err)

	snap := f.next(t)
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
	assert.Equal(t, "Recital", snap[0].Title)
	assert.Equal(t, "practice", snap[0].Text)
	assert.Equal(t, "2025-06-01", snap[0].DateKey)
	require.NotNil(t, snap[0].CreatedAt)
	assert.True(t, base.Equal(*snap[0].CreatedAt))

	require.NoError(t, store.Delete(context.Background(), scope, id))
	assert.Empty(t, f.next(t))

	var deletedAt *string
	require.NoError(t, store.db.QueryRow("SELECT deleted_at FROM diaries WHERE id = ?", id).Scan(&deletedAt))
	assert.NotNil(t, deletedAt, "delete is soft")
}

func TestDeleteUnknownOrForeign(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())

	err := store.Delete(context.Background(), scope, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	id, err := store.Create(context.Background(), scope, storage.NewEntry{Text: "mine", DateKey: "2025-06-01"})
	require.NoError(t, err)

	other := storage.Scope{Namespace: scope.Namespace, Identity: "u2"}
	assert.ErrorIs(t, store.Delete(context.Background(), other, id), storage.ErrNotFound)
}

func TestScopesAreIsolated(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())

	_, err := store.Create(context.Background(), scope, storage.NewEntry{Text: "mine", DateKey: "2025-06-01"})
	require.NoError(t, err)

	other := storage.Scope{Namespace: scope.Namespace, Identity: "u2"}
	f := subscribe(t, store, other)
	assert.Empty(t, f.next(t))
}

func TestCreateValidation(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())

	_, err := store.Create(context.Background(), scope, storage.NewEntry{Text: "  ", DateKey: "2025-06-01"})
	assert.Error(t, err)
	_, err = store.Create(context.Background(), storage.Scope{Namespace: "app", Identity: "../x"}, storage.NewEntry{Text: "x", DateKey: "2025-06-01"})
	assert.ErrorIs(t, err, storage.ErrInvalidScope)
}

func TestWatcherPicksUpOtherProcessWrites(t *testing.T) {
	reader, dbPath := setupTestStore(t, WithDebounce(10*time.Millisecond))
	f := subscribe(t, reader, scope)
	f.next(t)

	writer := NewStore(dbPath, WithoutWatcher())
	defer writer.Close()
	require.NoError(t, writer.Load(context.Background()))

	id, err := writer.Create(context.Background(), scope, storage.NewEntry{Text: "from elsewhere", DateKey: "2025-06-02"})
	require.NoError(t, err)

	snap := f.next(t)
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
}

func TestCreateIsIdempotentOnID(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())
	f := subscribe(t, store, scope)
	f.next(t)

	entry := storage.NewEntry{ID: "e-1", Text: "practice", DateKey: "2025-06-01"}
	id, err := store.Create(context.Background(), scope, entry)
	require.NoError(t, err)
	assert.Equal(t, "e-1", id)

	entry.Text = "a retry carrying the same id"
	id, err = store.Create(context.Background(), scope, entry)
	require.NoError(t, err)
	assert.Equal(t, "e-1", id)

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM diaries").Scan(&count))
	assert.Equal(t, 1, count)

	other := storage.Scope{Namespace: scope.Namespace, Identity: "u2"}
	_, err = store.Create(context.Background(), other, entry)
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestCommittedWriteSurvivesFailedRefresh(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())
	f := subscribe(t, store, scope)
	f.next(t)

	// An unreadable row makes every refresh of scope fail.
	_, err := store.db.Exec(`INSERT INTO diaries (id, namespace, identity, text, date_key, created_at)
		VALUES ('bad', ?, ?, 'x', '2025-06-01', 'yesterday-ish')`, scope.Namespace, scope.Identity)
	require.NoError(t, err)

	id, err := store.Create(context.Background(), scope, storage.NewEntry{Text: "kept", DateKey: "2025-06-02"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(context.Background(), scope, id))

	var deletedAt *string
	require.NoError(t, store.db.QueryRow("SELECT deleted_at FROM diaries WHERE id = ?", id).Scan(&deletedAt))
	assert.NotNil(t, deletedAt)
}

func TestSnapshotsAreChronological(t *testing.T) {
	stamps := []time.Time{
		time.Date(2025, 6, 1, 8, 0, 5, 0, time.UTC),
		time.Date(2025, 6, 1, 8, 0, 5, 500_000_000, time.UTC),
		time.Date(2025, 6, 1, 8, 0, 4, 900_000_000, time.UTC),
	}
	next := 0
	clock := func() time.Time {
		ts := stamps[next%len(stamps)]
		next++
		return ts
	}
	store, _ := setupTestStore(t, WithoutWatcher(), WithClock(clock))

	for _, text := range []string{"whole second", "half past", "just before"} {
		_, err := store.Create(context.Background(), scope, storage.NewEntry{Text: text, DateKey: "2025-06-01"})
		require.NoError(t, err)
	}

	entries, err := store.fetch(context.Background(), scope)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "half past", entries[0].Text)
	assert.Equal(t, "whole second", entries[1].Text)
	assert.Equal(t, "just before", entries[2].Text)
}

func TestTimestampMigrationPadsOldRows(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())

	_, err := store.db.Exec(`INSERT INTO diaries (id, namespace, identity, text, date_key, created_at, deleted_at)
		VALUES ('old', ?, ?, 'x', '2025-06-01', '2025-06-01T08:00:05Z', '2025-06-02T09:30:00.25Z')`,
		scope.Namespace, scope.Identity)
	require.NoError(t, err)

	script, err := migrations.FS.ReadFile("sqlite/002_fixed_width_timestamps.sql")
	require.NoError(t, err)
	_, err = store.db.Exec(string(script))
	require.NoError(t, err)

	var createdAt, deletedAt string
	require.NoError(t, store.db.QueryRow("SELECT created_at, deleted_at FROM diaries WHERE id = 'old'").Scan(&createdAt, &deletedAt))
	assert.Equal(t, "2025-06-01T08:00:05.000000000Z", createdAt)
	assert.Equal(t, "2025-06-02T09:30:00.250000000Z", deletedAt)
}
