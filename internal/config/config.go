// Package config holds the settings every daybook command runs with.
//
// Values come from defaults, the JSON config file, DAYBOOK_* environment
// variables and flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/daybook/internal/constants"
	"github.com/julianstephens/daybook/internal/logger"
	"github.com/julianstephens/daybook/internal/storage"
	"github.com/julianstephens/daybook/internal/utils"
)

// StoreKind names the backend a store endpoint selects.
type StoreKind int

const (
	StoreSQLite StoreKind = iota
	StorePostgres
	StoreRemote
	StoreMemory
)

func (k StoreKind) String() string {
	switch k {
	case StoreSQLite:
		return "sqlite"
	case StorePostgres:
		return "postgresql"
	case StoreRemote:
		return "remote"
	case StoreMemory:
		return "memory"
	default:
		return "unknown"
	}
}

const (
	// MemoryStore selects the in-process store.
	MemoryStore = "memory"
	// KeyringPostgres selects PostgreSQL with the connection string taken from
	// DAYBOOK_DB_CONNECTION or the OS keyring.
	KeyringPostgres = "postgres"
)

// Config is embedded in the CLI grammar, so its kong tags define the flags.
type Config struct {
	Store           string        `help:"Diary store: SQLite path, postgres:// URL, ws(s):// or http(s):// server, 'local' or 'memory'." default:"${default_store}" env:"DAYBOOK_STORE"`
	Namespace       string        `help:"App namespace that scopes every collection." default:"${default_namespace}" env:"DAYBOOK_NAMESPACE"`
	Identity        string        `help:"Open a fixed identity instead of the anonymous one." env:"DAYBOOK_IDENTITY"`
	Credential      string        `help:"Bootstrap token (JWT) whose subject is the identity." env:"DAYBOOK_CREDENTIAL"`
	SigningKey      string        `help:"HS256 key for verifying and issuing tokens." env:"DAYBOOK_SIGNING_KEY"`
	Secret          string        `help:"Shared secret for a remote server." env:"DAYBOOK_SERVER_SECRET"`
	Timezone        string        `help:"IANA timezone for calendar dates." default:"Local" env:"DAYBOOK_TIMEZONE"`
	MutationRetries int           `help:"Retries for transient write failures." default:"2" env:"DAYBOOK_MUTATION_RETRIES"`
	MutationTimeout time.Duration `help:"Deadline for a write, retries included." default:"10s" env:"DAYBOOK_MUTATION_TIMEOUT"`
	LogDir          string        `help:"Directory for the rotating log file." default:"${default_log_dir}" env:"DAYBOOK_LOG_DIR"`
	LogLevel        string        `help:"Log level (debug, info, warn, error); overrides --debug for the file." env:"DAYBOOK_LOG_LEVEL"`
	Debug           bool          `help:"Verbose logging to stderr." env:"DAYBOOK_DEBUG"`
}

// Vars are the kong interpolation variables the Config tags refer to.
func Vars() kong.Vars {
	return kong.Vars{
		"default_store":     constants.DefaultConfigPath,
		"default_namespace": constants.DefaultNamespace,
		"default_log_dir":   filepath.Join(constants.DefaultConfigDir, "logs"),
	}
}

// Default returns a Config populated with the same defaults kong applies.
func Default() Config {
	return Config{
		Store:           constants.DefaultConfigPath,
		Namespace:       constants.DefaultNamespace,
		Timezone:        constants.DefaultTimezone,
		MutationRetries: constants.DefaultMutationRetries,
		MutationTimeout: constants.DefaultMutationTimeout,
		LogDir:          filepath.Join(constants.DefaultConfigDir, "logs"),
	}
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store) == "" {
		return errors.New("store cannot be empty")
	}
	sample := storage.Scope{Namespace: c.Namespace, Identity: "sample"}
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid namespace: %w", err)
	}
	if c.Identity != "" {
		if err := (storage.Scope{Namespace: c.Namespace, Identity: c.Identity}).Validate(); err != nil {
			return fmt.Errorf("invalid identity: %w", err)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MutationRetries < 0 {
		return fmt.Errorf("mutation retries must be zero or more, got %d", c.MutationRetries)
	}
	if c.MutationTimeout <= 0 {
		return fmt.Errorf("mutation timeout must be positive, got %s", c.MutationTimeout)
	}
	if c.LogLevel != "" {
		if _, err := logger.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Kind reports which backend Store selects.
func (c *Config) Kind() StoreKind {
	s := strings.TrimSpace(c.Store)
	switch {
	case s == MemoryStore:
		return StoreMemory
	case s == KeyringPostgres, strings.HasPrefix(s, "postgres://"), strings.HasPrefix(s, "postgresql://"):
		return StorePostgres
	case s == "local",
		strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"),
		strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return StoreRemote
	default:
		return StoreSQLite
	}
}

// StorePath is Store with a leading ~ expanded. Only meaningful for SQLite.
func (c *Config) StorePath() string {
	return ExpandHome(c.Store)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := utils.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Logger returns the logger settings for this config.
func (c *Config) Logger() logger.Config {
	return logger.Config{Debug: c.Debug, LogDir: ExpandHome(c.LogDir), Level: c.LogLevel}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
