package calls

import "time"

// Session represents a two-party call from initiation to termination.
//
// Invariants:
// - Exactly two distinct participants; immutable after creation.
// - State only moves forward per the transition table; terminal states are final.
// - At most one non-terminal session per participant (enforced by the store
//   at creation time, see SessionStore.CreateIfAdmitted).
//
// Sessions are never deleted; terminal rows remain as call history and are
// excluded from active-session queries.
type Session struct {
	CallID string `json:"call_id" db:"call_id"`

	// Initiator placed the call; Receiver was called.
	Initiator string `json:"initiator_id" db:"initiator_id"`
	Receiver  string `json:"receiver_id" db:"receiver_id"`

	Kind  Kind  `json:"kind" db:"kind"`
	State State `json:"state" db:"state"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// EndedBy and EndReason are populated only on the terminal transition.
	// EndedBy is empty when the system (sweeper) terminated the session.
	EndedBy   string `json:"ended_by,omitempty" db:"ended_by"`
	EndReason string `json:"end_reason,omitempty" db:"end_reason"`

	// DurationSeconds is derived on the terminal transition:
	// ended_at - connected_at when the call connected, else 0.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// Metadata holds opaque connection-quality annotations.
	// Mutable only while the session is non-terminal.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	// MediaRef is an opaque join-credential bundle from the media service.
	// Advisory only; no transition depends on it.
	MediaRef string `json:"media_ref,omitempty" db:"media_ref"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Participants returns both participant ids, initiator first.
func (s Session) Participants() []string {
	return []string{s.Initiator, s.Receiver}
}

func (s Session) HasParticipant(id string) bool {
	return id != "" && (id == s.Initiator || id == s.Receiver)
}

type Kind string

const (
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	switch k {
	case KindVoice, KindVideo:
		return true
	default:
		return false
	}
}

type State string

const (
	StateInitiated  State = "initiated"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateDeclined   State = "declined"
	StateMissed     State = "missed"
	StateFailed     State = "failed"
)

func (s State) Valid() bool {
	switch s {
	case StateInitiated, StateRinging, StateConnecting, StateActive,
		StateEnded, StateDeclined, StateMissed, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) IsTerminal() bool {
	switch s {
	case StateEnded, StateDeclined, StateMissed, StateFailed:
		return true
	default:
		return false
	}
}

// NonTerminalStates returns a fresh slice of the live states.
func NonTerminalStates() []State {
	return []State{StateInitiated, StateRinging, StateConnecting, StateActive}
}

// Trigger is a lifecycle event applied to a session.
type Trigger string

const (
	TriggerRing           Trigger = "ring"
	TriggerAccept         Trigger = "accept"
	TriggerDecline        Trigger = "decline"
	TriggerTimeout        Trigger = "timeout"
	TriggerMarkActive     Trigger = "mark_active"
	TriggerConnectTimeout Trigger = "connect_timeout"
	TriggerEnd            Trigger = "end"
)

type transitionRule struct {
	From []State
	To   State
}

// transitionTable is the single source of truth for legal state changes.
// Every write path (client operations and the sweeper) resolves its
// expected-from set and target state here; nothing else compares states.
var transitionTable = map[Trigger]transitionRule{
	TriggerRing:           {From: []State{StateInitiated}, To: StateRinging},
	TriggerAccept:         {From: []State{StateInitiated, StateRinging}, To: StateConnecting},
	TriggerDecline:        {From: []State{StateInitiated, StateRinging}, To: StateDeclined},
	TriggerTimeout:        {From: []State{StateInitiated, StateRinging}, To: StateMissed},
	TriggerMarkActive:     {From: []State{StateConnecting}, To: StateActive},
	TriggerConnectTimeout: {From: []State{StateConnecting}, To: StateFailed},
	TriggerEnd:            {From: NonTerminalStates(), To: StateEnded},
}

func ruleFor(t Trigger) (transitionRule, bool) {
	r, ok := transitionTable[t]
	return r, ok
}

// durationSeconds derives the stored duration for a terminal transition.
// Sessions that never connected have duration 0.
func durationSeconds(connectedAt *time.Time, endedAt time.Time) int {
	if connectedAt == nil {
		return 0
	}
	d := int(endedAt.Sub(*connectedAt) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
