package sqlite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/logger"
)

const backupTimeLayout = "20060102-150405"

type BackupInfo struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// BackupDir is where backups of this database are kept.
func (s *Store) BackupDir() string {
	return filepath.Join(filepath.Dir(s.path), "backups")
}

// Backup writes a consistent copy of the database with VACUUM INTO and prunes
// all but the newest constants.MaxBackups copies.
func (s *Store) Backup(ctx context.Context) (string, error) {
	return s.backup(ctx, "")
}

func (s *Store) backup(ctx context.Context, tag string) (string, error) {
	if err := s.open(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.BackupDir(), 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := constants.AppName + "-" + s.now().UTC().Format(backupTimeLayout)
	if tag != "" {
		name += "-" + tag
	}
	name += ".db"
	dest := filepath.Join(s.BackupDir(), name)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("backup already exists: %s", dest)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Chmod(dest, 0600); err != nil {
		return "", err
	}
	logger.Info("Database backed up", "path", dest)

	if err := s.pruneBackups(); err != nil {
		logger.Warn("Failed to prune old backups", "error", err)
	}
	return dest, nil
}

// ListBackups returns the backups in BackupDir, newest first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	files, err := os.ReadDir(s.BackupDir())
	if os.IsNotExist(err) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	backups := []BackupInfo{}
	prefix := constants.AppName + "-"
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		stamp := strings.TrimPrefix(name, prefix)
		if len(stamp) < len(backupTimeLayout) {
			continue
		}
		ts, err := time.Parse(backupTimeLayout, stamp[:len(backupTimeLayout)])
		if err != nil {
			continue
		}
		info, err := f.Info()
		if err != nil {
			return nil, err
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(s.BackupDir(), name),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

func (s *Store) pruneBackups() error {
	backups, err := s.ListBackups()
	if err != nil {
		return err
	}
	for i := constants.MaxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return err
		}
		logger.Debug("Pruned backup", "path", backups[i].Path)
	}
	return nil
}

// Restore replaces the database with src. The current database is backed up
// first and the store is closed; it cannot be used afterwards.
func (s *Store) Restore(ctx context.Context, src string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("backup file not found: %s", src)
	}

	// Stage src before the safety backup can prune it
	tmp := s.path + ".restore"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	defer os.Remove(tmp)

	if _, err := os.Stat(s.path); err == nil {
		safety, err := s.backup(ctx, "pre-restore")
		if err != nil {
			return fmt.Errorf("failed to back up current database: %w", err)
		}
		logger.Info("Saved current database before restore", "path", safety)
	}

	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	logger.Info("Database restored", "from", src)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
