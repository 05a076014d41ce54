package domain

import (
	"encoding/json"
	"time"
)

// State represents the lifecycle state of a space
type State string

const (
	StateScheduled State = "Scheduled"
	StateRunning   State = "Running"
	StateEnded     State = "Ended"
)

// ParseState maps the upstream state string to a State.
// Unknown values pass through unchanged so they fail loudly downstream
// instead of being silently coerced.
func ParseState(s string) State {
	switch State(s) {
	case StateScheduled, StateRunning, StateEnded:
		return State(s)
	}
	return State(s)
}

// Broadcast represents one audio space session, live or archived.
// It is immutable after resolution; derived locators are memoized by the
// playlist resolver, not stored here.
type Broadcast struct {
	ID                     string `json:"id"`
	Title                  string `json:"title"`
	CreatorName            string `json:"creator_name"`
	CreatorScreenName      string `json:"creator_screen_name"`
	CreatorID              string `json:"creator_id,omitempty"`
	CreatorProfileImageURL string `json:"creator_profile_image_url,omitempty"`

	// StartedAt and ScheduledStart are kept as distinct optional fields.
	// Which one is authoritative depends on whether the space actually
	// started; StartTime resolves the precedence for callers that only
	// need one value.
	StartedAt      time.Time `json:"started_at,omitempty"`
	ScheduledStart time.Time `json:"scheduled_start,omitempty"`

	State              State  `json:"state"`
	AvailableForReplay bool   `json:"available_for_replay"`
	MediaKey           string `json:"media_key"`

	// Raw is the unmodified upstream response, retained for the metadata
	// export and for diagnostics. It is never merged into the typed fields.
	Raw json.RawMessage `json:"-"`
}

// URL returns the canonical space URL
func (b *Broadcast) URL() string {
	return "https://twitter.com/i/spaces/" + b.ID
}

// StartTime returns the actual start time when known, falling back to the
// scheduled start for spaces that have not begun.
func (b *Broadcast) StartTime() time.Time {
	if !b.StartedAt.IsZero() {
		return b.StartedAt
	}
	return b.ScheduledStart
}

// Replayable reports whether stream locators can still be resolved for
// this broadcast. An ended space without replay is terminally unavailable.
func (b *Broadcast) Replayable() bool {
	return b.State != StateEnded || b.AvailableForReplay
}
