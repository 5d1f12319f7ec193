package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/storage"
)

func (s *Store) Subscribe(ctx context.Context, scope storage.Scope, onSnapshot storage.SnapshotFunc, onError storage.ErrorFunc) (storage.CancelFunc, error) {
	if err := s.requireDB(); err != nil {
		return nil, err
	}
	return s.broker.Subscribe(ctx, scope, onSnapshot, onError)
}

func (s *Store) Create(ctx context.Context, scope storage.Scope, entry storage.NewEntry) (string, error) {
	if err := s.requireDB(); err != nil {
		return "", err
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := storage.ValidateNewEntry(entry); err != nil {
		return "", err
	}

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO diaries (id, namespace, identity, title, text, date_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, scope.Namespace, scope.Identity, entry.Title, entry.Text, entry.DateKey, formatTimestamp(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert entry: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if inserted == 0 {
		if err := s.ownsEntry(ctx, scope, id); err != nil {
			return "", err
		}
		logger.Debug("Create repeated an existing entry", "scope", scope.Path(), "id", id)
	}

	// The row is committed; subscribers catch up on the next refresh or watcher event.
	if err := s.broker.Refresh(ctx, scope); err != nil {
		logger.Warn("Failed to refresh subscribers after create", "scope", scope.Path(), "error", err)
	}
	return id, nil
}

// ownsEntry reports ErrConflict unless id already belongs to scope.
func (s *Store) ownsEntry(ctx context.Context, scope storage.Scope, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM diaries WHERE id = ? AND namespace = ? AND identity = ?`,
		id, scope.Namespace, scope.Identity,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrConflict, id)
	}
	return err
}

// Delete soft-deletes an entry; it stops appearing in snapshots.
func (s *Store) Delete(ctx context.Context, scope storage.Scope, id string) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	if err := scope.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE diaries SET deleted_at = ?
		WHERE id = ? AND namespace = ? AND identity = ? AND deleted_at IS NULL`,
		formatTimestamp(s.now()), id, scope.Namespace, scope.Identity,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}

	if err := s.broker.Refresh(ctx, scope); err != nil {
		logger.Warn("Failed to refresh subscribers after delete", "scope", scope.Path(), "error", err)
	}
	return nil
}

// timestampLayout is fixed width so created_at sorts chronologically as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func (s *Store) fetch(ctx context.Context, scope storage.Scope) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, text, date_key, created_at
		FROM diaries
		WHERE namespace = ? AND identity = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id`,
		scope.Namespace, scope.Identity,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var e models.Entry
		var createdAt sql.NullString
		if err := rows.Scan(&e.ID, &e.Title, &e.Text, &e.DateKey, &createdAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			ts, err := time.Parse(time.RFC3339Nano, createdAt.String)
			if err != nil {
				return nil, fmt.Errorf("entry %s has invalid created_at %q: %w", e.ID, createdAt.String, err)
			}
			e.CreatedAt = &ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
