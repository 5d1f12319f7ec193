package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/storage"
)

func TestBackupAndRestore(t *testing.T) {
	clock := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	store, dbPath := setupTestStore(t, WithoutWatcher(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := store.Create(ctx, scope, storage.NewEntry{Text: "kept", DateKey: "2025-06-15"})
	require.NoError(t, err)

	backupPath, err := store.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(dbPath), "backups", "daybook-20250615-103000.db"), backupPath)

	_, err = store.Backup(ctx)
	assert.ErrorContains(t, err, "already exists")

	_, err = store.Create(ctx, scope, storage.NewEntry{Text: "lost", DateKey: "2025-06-16"})
	require.NoError(t, err)

	require.NoError(t, store.Restore(ctx, backupPath))

	reopened := NewStore(dbPath, WithoutWatcher())
	require.NoError(t, reopened.Load(ctx))
	defer reopened.Close()

	entries, err := reopened.fetch(ctx, scope)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Text)

	// The pre-restore copy is listed next to the original backup
	backups, err := reopened.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRestoreMissingFile(t *testing.T) {
	store, dbPath := setupTestStore(t, WithoutWatcher())

	err := store.Restore(context.Background(), filepath.Join(filepath.Dir(dbPath), "nope.db"))
	assert.ErrorContains(t, err, "backup file not found")
}

func TestBackupsArePruned(t *testing.T) {
	clock := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	store, _ := setupTestStore(t, WithoutWatcher(), WithClock(func() time.Time { return clock }))

	var first string
	for i := 0; i < constants.MaxBackups+2; i++ {
		path, err := store.Backup(context.Background())
		require.NoError(t, err)
		if i == 0 {
			first = path
		}
		clock = clock.Add(time.Minute)
	}

	backups, err := store.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, constants.MaxBackups)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
	for _, b := range backups {
		assert.NotEqual(t, first, b.Path)
	}
}

func TestListBackupsWithoutDirectory(t *testing.T) {
	store, _ := setupTestStore(t, WithoutWatcher())

	backups, err := store.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}
