// Package session wires a Config into the identity provider, store and diary
// core that a command runs against.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/julianstephens/daybook/internal/config"
	"github.com/julianstephens/daybook/internal/diary"
	errs "github.com/julianstephens/daybook/internal/errors"
	"github.com/julianstephens/daybook/internal/identity"
	"github.com/julianstephens/daybook/internal/keyring"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/storage"
	"github.com/julianstephens/daybook/internal/storage/memory"
	"github.com/julianstephens/daybook/internal/storage/postgres"
	"github.com/julianstephens/daybook/internal/storage/remote"
	"github.com/julianstephens/daybook/internal/storage/sqlite"
)

// ConnectionEnv holds a PostgreSQL connection string for the "postgres" store.
const ConnectionEnv = "DAYBOOK_DB_CONNECTION"

// Session is everything a command needs. It owns the store.
type Session struct {
	Config   config.Config
	Identity identity.Provider
	Store    storage.Provider
	Core     *diary.Core

	who identity.Identity
}

// New builds a session without touching the store or the keyring.
func New(cfg config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider := NewIdentityProvider(cfg)
	store, err := NewStore(cfg, provider)
	if err != nil {
		return nil, err
	}
	return NewWith(cfg, provider, store)
}

// NewWith builds a session from an explicit provider and store.
func NewWith(cfg config.Config, provider identity.Provider, store storage.Provider) (*Session, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	core := diary.New(store,
		diary.WithLocation(loc),
		diary.WithNamespace(cfg.Namespace),
		diary.WithMutationRetries(cfg.MutationRetries),
		diary.WithMutationTimeout(cfg.MutationTimeout),
	)
	return &Session{Config: cfg, Identity: provider, Store: store, Core: core}, nil
}

// NewIdentityProvider picks the credential token, then the fixed identity,
// then the anonymous one.
func NewIdentityProvider(cfg config.Config) identity.Provider {
	switch {
	case strings.TrimSpace(cfg.Credential) != "":
		return identity.NewToken(cfg.Credential, signingKey(cfg))
	case cfg.Identity != "":
		return identity.Static{ID: cfg.Identity}
	default:
		return identity.NewAnonymous()
	}
}

// NewStore selects the backend named by cfg.Store. A token provider also
// authenticates remote requests.
func NewStore(cfg config.Config, provider identity.Provider) (storage.Provider, error) {
	switch cfg.Kind() {
	case config.StoreMemory:
		return memory.NewStore(), nil

	case config.StorePostgres:
		connStr, err := ConnectionString(cfg.Store)
		if err != nil {
			return nil, err
		}
		return postgres.New(connStr), nil

	case config.StoreRemote:
		opts := []remote.Option{}
		if cfg.Secret != "" {
			opts = append(opts, remote.WithSecret(cfg.Secret))
		}
		if tok, ok := provider.(*identity.Token); ok {
			if raw := tok.Raw(); raw != "" {
				opts = append(opts, remote.WithToken(raw))
			}
		}
		return remote.New(cfg.Store, opts...), nil

	default:
		return sqlite.NewStore(cfg.StorePath()), nil
	}
}

// ConnectionString returns the PostgreSQL connection string for store. An
// explicit URL must not embed a password; the "postgres" keyword reads the
// environment and then the keyring, where a password is allowed.
func ConnectionString(store string) (string, error) {
	if store != config.KeyringPostgres {
		if valid, err := postgres.ValidateConnString(store); !valid {
			if errors.Is(err, postgres.ErrEmbeddedCredentials) {
				return "", fmt.Errorf("%w: store the connection string with 'daybook keyring set' or %s, or use .pgpass", err, ConnectionEnv)
			}
			return "", err
		}
		return store, nil
	}

	if env := os.Getenv(ConnectionEnv); env != "" {
		return env, nil
	}
	connStr, err := keyring.GetConnectionString()
	if err != nil {
		return "", fmt.Errorf("no PostgreSQL connection string in %s or the keyring: %w", ConnectionEnv, err)
	}
	return connStr, nil
}

// Load opens the store without resolving an identity.
func (s *Session) Load(ctx context.Context) error {
	if err := s.Store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load %s store: %w", s.Config.Kind(), err)
	}
	return nil
}

// Start loads the store, resolves the identity and opens its diary.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	return s.Open(ctx)
}

// Open resolves the identity and subscribes the core to its collection.
func (s *Session) Open(ctx context.Context) error {
	who, err := s.Identity.Resolve(ctx)
	if err != nil {
		if !errs.IsIdentity(err) {
			err = errs.IdentityError("resolve", err)
		}
		return err
	}
	s.who = who
	logger.Debug("Resolved identity", "anonymous", who.Anonymous, "scope", s.Scope().Path())
	return s.Core.Open(ctx, who.ID)
}

// Who returns the identity resolved by Open.
func (s *Session) Who() identity.Identity {
	return s.who
}

// Scope is the collection the session reads and writes.
func (s *Session) Scope() storage.Scope {
	return storage.Scope{Namespace: s.Config.Namespace, Identity: s.who.ID}
}

// Close cancels the subscription and closes the store.
func (s *Session) Close() error {
	s.Core.Close()
	return s.Store.Close()
}

func signingKey(cfg config.Config) []byte {
	if cfg.SigningKey == "" {
		return nil
	}
	return []byte(cfg.SigningKey)
}

// SigningKey returns the configured token key, or nil.
func (s *Session) SigningKey() []byte {
	return signingKey(s.Config)
}
