package constants

import "time"

// SessionState represents the current state of the TUI application
type SessionState int

const (
	AppName             = "daybook"
	DefaultKeyringUser  = "database-connection"
	IdentityKeyringUser = "anonymous-identity"
	DefaultConfigDir    = "~/.config/daybook"
	DefaultConfigPath   = "~/.config/daybook/daybook.db"
	DefaultConfigFile   = "~/.config/daybook/config.json"
	Version             = "v0.3.0"

	// Default app id used to namespace every identity's collection
	DefaultNamespace = "daybook-default-app"
	CollectionName   = "diaries"
	ScopeRoot        = "artifacts"

	// Mutation hardening
	DefaultMutationRetries = 2
	DefaultMutationTimeout = 10 * time.Second
	MutationRetryDelay     = 150 * time.Millisecond

	// Keep this many SQLite backups
	MaxBackups = 10

	// Log rotation
	LogMaxSizeMB  = 10
	LogMaxBackups = 3
	LogMaxAgeDays = 28

	// Server constants
	DefaultServerAddr     = "127.0.0.1:7317"
	ServerLockfileName    = "daybook-server.lock"
	ServerSecretHeader    = "X-Daybook-Secret"
	ServerExecutable      = "daybook"
	ServerWriteTimeout    = 5 * time.Second
	ServerShutdownTimeout = 5 * time.Second

	// Change feed constants
	PostgresNotifyChannel = "daybook_diaries"
	WatchDebounce         = 75 * time.Millisecond

	// Entry presentation
	ExcerptLength    = 80
	PlaceholderTitle = "[no entry]"
	SeedTitle        = "Today's entry"
	SeedText         = "Nothing written yet. Open the calendar and tell today's story."
	YearWindow       = 5
)

// Session States
const (
	StateCalendar SessionState = iota
	StateEntries
	StateCompose
	StatePickYear
	StatePickMonth
	StateConfirmDelete
)
