package diary

import (
	"sort"
	"time"

	"github.com/julianstephens/daybook/internal/models"
	"github.com/julianstephens/daybook/internal/utils"
)

// Phase is the subscription lifecycle state of a Core.
type Phase int

const (
	PhaseUnauthenticated Phase = iota
	PhaseSubscriptionPending
	PhaseLive
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseSubscriptionPending:
		return "subscription-pending"
	case PhaseLive:
		return "live"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Status is the coarse state the presentation layer renders.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

func statusFor(p Phase) Status {
	switch p {
	case PhaseLive:
		return StatusReady
	case PhaseErrored:
		return StatusError
	default:
		return StatusLoading
	}
}

// ViewModel is an immutable snapshot published by the Core. Readers must not
// modify the slices it carries.
type ViewModel struct {
	OrderedEntries       []models.Entry
	EntryForSelectedDate models.Entry
	SelectedDate         time.Time
	Status               Status
	Phase                Phase
	Identity             string
	// Err is the failure behind StatusError.
	Err error
	// Notice is the most recent rejected or failed mutation; it does not change Status.
	Notice error
}

// EntryFor returns the authoritative entry for a date key.
func (v ViewModel) EntryFor(key string) (models.Entry, bool) {
	return resolve(v.OrderedEntries, key)
}

// DateKeys returns the set of date keys that have at least one entry.
func (v ViewModel) DateKeys() map[string]bool {
	keys := make(map[string]bool, len(v.OrderedEntries))
	for _, e := range v.OrderedEntries {
		keys[e.DateKey] = true
	}
	return keys
}

// orderEntries sorts newest first. Pending entries count as newest, and equal
// keys keep their snapshot order.
func orderEntries(in []models.Entry) []models.Entry {
	out := models.CloneEntries(in)
	if out == nil {
		out = []models.Entry{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i], out[j])
	})
	return out
}

func newer(a, b models.Entry) bool {
	switch {
	case a.CreatedAt == nil:
		return b.CreatedAt != nil
	case b.CreatedAt == nil:
		return false
	default:
		return a.CreatedAt.After(*b.CreatedAt)
	}
}

// resolve picks the first ordered entry with the key, so duplicates for a day
// resolve to the most recently created one.
func resolve(ordered []models.Entry, key string) (models.Entry, bool) {
	for _, e := range ordered {
		if e.DateKey == key && !e.Placeholder {
			return e, true
		}
	}
	return models.Entry{}, false
}

func entryForDate(ordered []models.Entry, date time.Time) models.Entry {
	if e, ok := resolve(ordered, utils.DeriveKey(date)); ok {
		return e
	}
	return utils.PlaceholderFor(date)
}
