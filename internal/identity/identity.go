// Package identity resolves who the diary belongs to. The rest of the program
// only sees the opaque ID.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	errs "github.com/julianstephens/daybook/internal/errors"
	"github.com/julianstephens/daybook/internal/keyring"
	"github.com/julianstephens/daybook/internal/logger"
)

// ErrEmptyIdentity is returned when a provider has nothing to offer.
var ErrEmptyIdentity = errors.New("identity is empty")

// Identity is a resolved principal.
type Identity struct {
	ID string
	// Token is the bearer credential the identity was resolved from, if any.
	Token     string
	Anonymous bool
}

// Provider resolves the current identity. Failures are IdentityErrors.
type Provider interface {
	Resolve(ctx context.Context) (Identity, error)
}

// Static always resolves to the same identity.
type Static struct {
	ID string
}

func (s Static) Resolve(ctx context.Context) (Identity, error) {
	if strings.TrimSpace(s.ID) == "" {
		return Identity{}, errs.IdentityError("resolve", ErrEmptyIdentity)
	}
	return Identity{ID: s.ID}, nil
}

// Anonymous mints a random identity once and keeps it in the OS keyring so
// later runs open the same diary.
type Anonymous struct {
	load func() (string, error)
	save func(string) error

	mu sync.Mutex
	id string
}

func NewAnonymous() *Anonymous {
	return &Anonymous{load: keyring.GetIdentity, save: keyring.SetIdentity}
}

func (a *Anonymous) Resolve(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, errs.IdentityError("resolve", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.id != "" {
		return Identity{ID: a.id, Anonymous: true}, nil
	}

	stored, err := a.load()
	switch {
	case err == nil:
		if _, perr := uuid.Parse(stored); perr == nil {
			a.id = stored
			return Identity{ID: a.id, Anonymous: true}, nil
		}
		logger.Warn("Stored identity is malformed, minting a new one")
	case errors.Is(err, keyring.ErrNotFound):
	default:
		a.id = uuid.NewString()
		logger.Warn("Keyring unavailable, using an ephemeral identity", "error", err)
		return Identity{ID: a.id, Anonymous: true}, nil
	}

	a.id = uuid.NewString()
	if err := a.save(a.id); err != nil {
		logger.Warn("Failed to persist identity, it will not survive this session", "error", err)
	} else {
		logger.Info("Minted anonymous identity")
	}
	return Identity{ID: a.id, Anonymous: true}, nil
}

// Reset forgets the persisted anonymous identity.
func Reset() error {
	if err := keyring.DeleteIdentity(); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
