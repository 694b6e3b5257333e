package calls

import (
	"context"
	"time"
)

// Changes is the field set a transition writes alongside the new state.
// ConnectedAt is set-once: stores must keep an existing value. The duration
// is not a field here on purpose: stores derive it from the merged
// connected_at and ch.EndedAt inside the same atomic unit as the state
// guard, so a concurrent accept can never leave a terminal row with a
// connected_at its duration does not account for.
type Changes struct {
	To          State
	ConnectedAt *time.Time
	EndedAt     *time.Time
	EndedBy     string
	EndReason   string
}

// StaleAnchor selects which timestamp a staleness scan measures age from.
// Never-answered calls age from creation; a call stuck in CONNECTING ages
// from its accept, not from when it was first placed.
type StaleAnchor string

const (
	AnchorCreated   StaleAnchor = "created_at"
	AnchorConnected StaleAnchor = "connected_at"
)

// TransitionResult is the outcome of a conditional transition attempt.
type TransitionResult struct {
	// Session is the record after the attempt: the updated row when
	// Applied, otherwise the current (possibly concurrently updated) row.
	Session Session

	// From is the state observed at decision time, inside the same
	// atomic unit as the write.
	From State

	Applied bool
}

// SessionStore is the durable, transactional repository of call sessions.
// It is the single source of truth: correctness under concurrent access
// from multiple processes is enforced here and nowhere else.
//
// Every mutation is conditional. A store implementation must guarantee that
// the read of the current state and the write of the new one happen in one
// atomic unit, and that CreateIfAdmitted's admission check cannot race with
// a concurrent create for either participant.
type SessionStore interface {
	// CreateIfAdmitted persists a new session unless either participant
	// already has a non-terminal session, in which case it returns
	// *AlreadyInCallError carrying the blocking session.
	CreateIfAdmitted(ctx context.Context, s Session) (Session, error)

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, callID string) (Session, error)

	// ConditionalTransition applies ch only if the session's current state
	// is one of from. When the guard fails it reports Applied=false and
	// returns the current record; it is not an error.
	ConditionalTransition(ctx context.Context, callID string, from []State, ch Changes) (TransitionResult, error)

	// FindNonTerminalByParticipant returns the participant's live session,
	// if any. At most one can exist (admission invariant).
	FindNonTerminalByParticipant(ctx context.Context, participantID string) (Session, bool, error)

	// FindStaleByStateAndAge returns up to limit sessions in any of states
	// whose anchor timestamp is before olderThan.
	FindStaleByStateAndAge(ctx context.Context, states []State, anchor StaleAnchor, olderThan time.Time, limit int) ([]Session, error)

	// SetMediaRef records the advisory media credential bundle. A no-op on
	// terminal sessions; never required for a transition to succeed.
	SetMediaRef(ctx context.Context, callID, ref string) error

	// SetMetadata replaces the session's metadata while it is non-terminal.
	// Returns *InvalidTransitionError once the session is terminal.
	SetMetadata(ctx context.Context, callID, metadata string) (Session, error)
}
