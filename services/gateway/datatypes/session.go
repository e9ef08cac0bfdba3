package datatypes

import (
	"time"
)

// Session states. The gateway treats these as opaque labels; only the intake
// collaborator interprets them.
const (
	SessionStateCollecting  = "collecting"
	SessionStateRecommended = "recommended"
	SessionStateClosed      = "closed"
)

// Turn is one exchange entry in a session's history.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the authoritative durable record for one conversation.
//
// Exactly one durable record exists per id; cache entries derived from it are
// a disposable projection. At most one request mutates a session at a time
// (enforced by the session lock), and a session is mutated at most once per
// completed request cycle.
type Session struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	History   []Turn         `json:"history"`
	State     string         `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// NewSession creates a session record in the collecting state.
func NewSession(id, ownerID string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		OwnerID:   ownerID,
		Context:   make(map[string]any),
		History:   make([]Turn, 0, 8),
		State:     SessionStateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// AppendTurn adds a turn and trims the oldest entries beyond maxTurns.
func (s *Session) AppendTurn(role, content string, maxTurns int) {
	s.History = append(s.History, Turn{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if maxTurns > 0 && len(s.History) > maxTurns {
		s.History = s.History[len(s.History)-maxTurns:]
	}
}

// Touch updates the modification time and pushes expiry forward.
func (s *Session) Touch(ttl time.Duration) {
	now := time.Now().UTC()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Expired reports whether the record is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RecentHistory returns up to n of the most recent turns, oldest first.
func (s *Session) RecentHistory(n int) []Turn {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
