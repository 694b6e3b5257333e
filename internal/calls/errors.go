package calls

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers (HTTP layer, sweeper, retrying clients) branch on
// these with errors.Is / errors.As; no store-specific error text crosses
// this boundary.
var (
	// ErrNotFound means the call id does not exist.
	ErrNotFound = errors.New("call not found")

	// ErrInvalidArgument covers malformed input: bad kind, missing
	// participant, unknown status target. Never retryable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSelfCall means initiator and receiver are the same participant.
	ErrSelfCall = fmt.Errorf("%w: initiator and receiver must differ", ErrInvalidArgument)
)

// AlreadyInCallError reports that a participant already has a live
// (non-terminal) session. It carries the blocking session so clients can
// resolve the conflict (rejoin, end, or surface it).
type AlreadyInCallError struct {
	ParticipantID string
	Existing      Session
}

func (e *AlreadyInCallError) Error() string {
	return fmt.Sprintf("participant %s already in call %s", e.ParticipantID, e.Existing.CallID)
}

// NotParticipantError reports an operation attempted by someone outside the
// session's two participants.
type NotParticipantError struct {
	CallID        string
	ParticipantID string
}

func (e *NotParticipantError) Error() string {
	return fmt.Sprintf("participant %s is not part of call %s", e.ParticipantID, e.CallID)
}

// InvalidTransitionError reports a transition that is not legal from the
// session's current state. It carries the current record: a retry that
// already landed sees this as a benign conflict, a genuinely wrong attempt
// sees what the state actually is.
type InvalidTransitionError struct {
	Trigger Trigger
	Current Session
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("call %s: cannot %s from state %s", e.Current.CallID, e.Trigger, e.Current.State)
}

// TransientError wraps store-level timeouts and transaction conflicts.
// Safe to retry with backoff: every lifecycle operation is idempotent with
// respect to its own target state.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable at the store layer.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
