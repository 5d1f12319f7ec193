package models

import (
	"testing"
	"time"
)

func TestEntryHeadline(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{name: "title wins", entry: Entry{Title: "Practice", Text: "shot drills"}, want: "Practice"},
		{name: "first line of text", entry: Entry{Text: "  free throws\nthen laps"}, want: "free throws"},
		{name: "blank title ignored", entry: Entry{Title: "  ", Text: "laps"}, want: "laps"},
		{name: "empty", entry: Entry{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Headline(); got != tt.want {
				t.Errorf("Headline() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEntryExcerpt(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want string
	}{
		{name: "short text unchanged", text: "practice", n: 80, want: "practice"},
		{name: "whitespace collapsed", text: "a\n\n b   c", n: 80, want: "a b c"},
		{name: "truncated by runes", text: "今日はシュート練習", n: 3, want: "今日は..."},
		{name: "zero limit keeps all", text: "abc", n: 0, want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Entry{Text: tt.text}).Excerpt(tt.n); got != tt.want {
				t.Errorf("Excerpt(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestCloneEntriesDoesNotShareTimestamps(t *testing.T) {
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	src := []Entry{{ID: "a", CreatedAt: &ts}, {ID: "b"}}

	out := CloneEntries(src)
	*out[0].CreatedAt = ts.Add(time.Hour)

	if !src[0].CreatedAt.Equal(ts) {
		t.Errorf("source timestamp changed to %v", src[0].CreatedAt)
	}
	if !out[1].Pending() {
		t.Error("pending entry should stay pending after clone")
	}
	if CloneEntries(nil) != nil {
		t.Error("CloneEntries(nil) should return nil")
	}
}
