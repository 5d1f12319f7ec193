package postgres

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
	cancel, err := s.broker.Subscribe(ctx, scope, onSnapshot, onError)
	return cancel, classify(err)
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
		INSERT INTO diaries (id, namespace, identity, title, text, date_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		id, scope.Namespace, scope.Identity, entry.Title, entry.Text, entry.DateKey,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert entry: %w", classify(err))
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

	// The trigger notifies every listener; refreshing here as well keeps this
	// process's own subscribers from waiting on the round trip. The row is
	// committed either way, so a failed refresh is only logged.
	if err := s.broker.Refresh(ctx, scope); err != nil {
		logger.Warn("Failed to refresh subscribers after create", "scope", scope.Path(), "error", err)
	}
	return id, nil
}

func (s *Store) ownsEntry(ctx context.Context, scope storage.Scope, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM diaries WHERE id = $1 AND namespace = $2 AND identity = $3`,
		id, scope.Namespace, scope.Identity,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", storage.ErrConflict, id)
	}
	return classify(err)
}

// Delete soft-deletes an entry.
func (s *Store) Delete(ctx context.Context, scope storage.Scope, id string) error {
	if err := s.requireDB(); err != nil {
		return err
	}
	if err := scope.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE diaries SET deleted_at = now()
		WHERE id = $1 AND namespace = $2 AND identity = $3 AND deleted_at IS NULL`,
		id, scope.Namespace, scope.Identity,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", classify(err))
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

func (s *Store) fetch(ctx context.Context, scope storage.Scope) ([]models.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, text, date_key, created_at
		FROM diaries
		WHERE namespace = $1 AND identity = $2 AND deleted_at IS NULL
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
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.Title, &e.Text, &e.DateKey, &createdAt); err != nil {
			return nil, err
		}
		createdAt = createdAt.UTC()
		e.CreatedAt = &createdAt
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
