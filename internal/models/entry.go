package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Entry is a single diary record scoped to one identity's collection
type Entry struct {
	ID      string `json:"id" yaml:"id" toml:"id"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty" toml:"title,omitempty"`
	Text    string `json:"text" yaml:"text" toml:"text"`
	DateKey string `json:"date_key" yaml:"date_key" toml:"date_key"` // YYYY-MM-DD format
	// CreatedAt is assigned by the store; nil while the write is still pending.
	CreatedAt *time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty" toml:"created_at,omitempty"`
	// Placeholder marks a synthesized entry for a date with nothing stored.
	Placeholder bool `json:"placeholder,omitempty" yaml:"-" toml:"-"`
}

// Pending reports whether the store has not yet resolved CreatedAt.
func (e Entry) Pending() bool {
	return e.CreatedAt == nil
}

// Headline returns the title, falling back to the first line of the text.
func (e Entry) Headline() string {
	if strings.TrimSpace(e.Title) != "" {
		return e.Title
	}
	first, _, _ := strings.Cut(strings.TrimSpace(e.Text), "\n")
	return first
}

// Excerpt returns at most n runes of the text, with an ellipsis when truncated.
func (e Entry) Excerpt(n int) string {
	text := strings.Join(strings.Fields(e.Text), " ")
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

// Clone returns a copy that shares no pointers with e.
func (e Entry) Clone() Entry {
	if e.CreatedAt != nil {
		ts := *e.CreatedAt
		e.CreatedAt = &ts
	}
	return e
}

// CloneEntries copies a slice of entries deeply.
func CloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
