package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/models"
)

var (
	// ErrNotFound is returned when an entry id is unknown to the store
	ErrNotFound = errors.New("entry not found")
	// ErrInvalidScope is returned when a scope cannot address a collection
	ErrInvalidScope = errors.New("invalid scope")
	// ErrUnavailable marks transient failures that are safe to retry
	ErrUnavailable = errors.New("store unavailable")
	// ErrUnauthorized is returned when the store refuses the caller's credentials
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store closed")
	// ErrConflict is returned when a create reuses an id held by another scope
	ErrConflict = errors.New("entry id already in use")
)

// SnapshotFunc receives the full contents of a collection on every change.
type SnapshotFunc func(entries []models.Entry)

// ErrorFunc receives a fatal error for a live subscription. No snapshots follow it.
type ErrorFunc func(err error)

// CancelFunc stops a subscription. It is safe to call more than once.
type CancelFunc func()

// NewEntry is the payload of a create request. The store assigns CreatedAt.
// ID is chosen by the writer so a retried create lands on the same document;
// stores mint one when it is empty.
type NewEntry struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Text    string `json:"text"`
	DateKey string `json:"date_key"`
}

const maxEntryIDLength = 128

// Provider is the document store capability the diary core depends on.
type Provider interface {
	// Lifecycle
	Init(ctx context.Context) error
	Load(ctx context.Context) error
	Close() error

	// Subscribe delivers an initial snapshot and then a full snapshot after every change
	// to the scope's collection, in emission order.
	Subscribe(ctx context.Context, scope Scope, onSnapshot SnapshotFunc, onError ErrorFunc) (CancelFunc, error)
	// Create is idempotent on entry.ID: repeating a create that already
	// landed in scope returns the same id without writing again.
	Create(ctx context.Context, scope Scope, entry NewEntry) (string, error)
	Delete(ctx context.Context, scope Scope, id string) error

	// Describe returns a non-sensitive identifier for the backend
	Describe() string
}

// Scope addresses one identity's diary collection within an app namespace.
type Scope struct {
	Namespace string
	Identity  string
}

// Path returns the logical collection path, artifacts/{namespace}/users/{identity}/diaries.
func (s Scope) Path() string {
	return strings.Join([]string{constants.ScopeRoot, s.Namespace, "users", s.Identity, constants.CollectionName}, "/")
}

func (s Scope) String() string {
	return s.Path()
}

// Validate rejects scopes that cannot address a single collection.
func (s Scope) Validate() error {
	segments := []struct{ name, value string }{
		{"namespace", s.Namespace},
		{"identity", s.Identity},
	}
	for _, seg := range segments {
		name, segment := seg.name, seg.value
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidScope, name)
		}
		if strings.ContainsAny(segment, "/\\") || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidScope, name, segment)
		}
	}
	return nil
}

// ParseScopePath is the inverse of Scope.Path.
func ParseScopePath(path string) (Scope, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 5 || parts[0] != constants.ScopeRoot || parts[2] != "users" || parts[4] != constants.CollectionName {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, path)
	}
	scope := Scope{Namespace: parts[1], Identity: parts[3]}
	return scope, scope.Validate()
}

// ValidateNewEntry checks the fields every backend requires before writing.
func ValidateNewEntry(entry NewEntry) error {
	if entry.ID != "" && (strings.ContainsAny(entry.ID, "/ \t\n") || len(entry.ID) > maxEntryIDLength) {
		return fmt.Errorf("invalid entry id %q", entry.ID)
	}
	if strings.TrimSpace(entry.Text) == "" {
		return errors.New("entry text cannot be empty")
	}
	if _, err := time.Parse(constants.DateFormat, entry.DateKey); err != nil {
		return fmt.Errorf("invalid date key %q", entry.DateKey)
	}
	return nil
}
