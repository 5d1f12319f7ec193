package constants

const (
	// DateFormat is the canonical date key format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// DisplayDateFormat is the human-readable label format. Never use it as a lookup key.
	DisplayDateFormat = "2006.01.02"

	// DefaultTimezone uses the system local timezone
	DefaultTimezone = "Local"
)
