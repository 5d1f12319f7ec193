package backups

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/daybook/internal/cli"
	"github.com/julianstephens/daybook/internal/config"
	"github.com/julianstephens/daybook/internal/session"
	"github.com/julianstephens/daybook/internal/storage/sqlite"
)

func newContext(t *testing.T, store string) (*cli.Context, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Store = store
	cfg.Timezone = "UTC"
	cfg.Identity = "u1"

	s, err := session.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var out bytes.Buffer
	ctx := cli.NewContext(s)
	ctx.Out = &out
	return ctx, &out
}

func initDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "diary.db")
	store := sqlite.NewStore(dbPath, sqlite.WithoutWatcher())
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Close())
	return dbPath
}

func TestBackupRequiresSQLite(t *testing.T) {
	ctx, _ := newContext(t, config.MemoryStore)

	err := (&BackupCreateCmd{}).Run(ctx)
	assert.ErrorContains(t, err, "only available for the sqlite store")
}

func TestBackupLifecycle(t *testing.T) {
	dbPath := initDatabase(t)

	t.Run("empty list", func(t *testing.T) {
		ctx, out := newContext(t, dbPath)
		require.NoError(t, (&BackupListCmd{}).Run(ctx))
		assert.Contains(t, out.String(), "No backups found.")
	})

	var name string
	t.Run("create", func(t *testing.T) {
		ctx, out := newContext(t, dbPath)
		require.NoError(t, (&BackupCreateCmd{}).Run(ctx))
		assert.Contains(t, out.String(), "✓ Backup created: daybook-")

		name = strings.TrimSpace(strings.TrimPrefix(out.String(), "✓ Backup created: "))
	})

	t.Run("list", func(t *testing.T) {
		ctx, out := newContext(t, dbPath)
		require.NoError(t, (&BackupListCmd{}).Run(ctx))
		assert.Contains(t, out.String(), "Available backups (1 total")
		assert.Contains(t, out.String(), name)
	})

	t.Run("restore cancelled", func(t *testing.T) {
		stdin = strings.NewReader("n\n")
		t.Cleanup(func() { stdin = strings.NewReader("") })

		ctx, out := newContext(t, dbPath)
		require.NoError(t, (&BackupRestoreCmd{BackupFile: name}).Run(ctx))
		assert.Contains(t, out.String(), "Restore cancelled.")
	})

	t.Run("restore confirmed", func(t *testing.T) {
		ctx, out := newContext(t, dbPath)
		require.NoError(t, (&BackupRestoreCmd{BackupFile: name, Yes: true}).Run(ctx))
		assert.Contains(t, out.String(), "✓ Database restored successfully!")

		// The restored file is a working database
		store := sqlite.NewStore(dbPath, sqlite.WithoutWatcher())
		require.NoError(t, store.Load(context.Background()))
		require.NoError(t, store.Close())
	})

	t.Run("restore unknown file", func(t *testing.T) {
		ctx, _ := newContext(t, dbPath)
		err := (&BackupRestoreCmd{BackupFile: "missing.db", Yes: true}).Run(ctx)
		assert.ErrorContains(t, err, "backup file not found")
	})
}
