package audit

import "time"

// Entry is an immutable, append-only audit record of a committed lifecycle
// transition.
//
// Invariants:
// - Entries are never updated or deleted.
// - Recording is best-effort; no lifecycle flow blocks on audit failures.
//
// Storage recommendation (Postgres):
// - Table call_audit with an INSERT-only policy.
// - Optional: partition by time for retention.
type Entry struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Type indicates the category of the audit record.
	Type EntryType `json:"type" db:"type"`

	// ActorID is the participant who caused the transition; empty for
	// system-initiated transitions (sweeper reclamation).
	ActorID string `json:"actor_id,omitempty" db:"actor_id"`

	FromState string `json:"from_state,omitempty" db:"from_state"`
	ToState   string `json:"to_state" db:"to_state"`
	Reason    string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeTransition EntryType = "transition"
)
