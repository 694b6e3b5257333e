package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MediaService obtains per-participant join credentials from the external
// media provider. Enrichment only: a session reaches a terminal state even
// if every call to this interface fails.
type MediaService interface {
	JoinCredentials(ctx context.Context, callID string, kind Kind, participants []string) (string, error)
}

// Notifier alerts the receiver out-of-band (push) when a call is placed.
// Best-effort; failures never affect session state.
type Notifier interface {
	CallInitiated(ctx context.Context, s Session) error
}

// TransitionAuditor durably records committed transitions. Best-effort.
type TransitionAuditor interface {
	RecordTransition(ctx context.Context, s Session, from State, actor, reason string) error
}

// Manager owns the call lifecycle. Every transition it performs is a single
// conditional update through the SessionStore; the manager itself holds no
// authoritative state, so any number of process instances can run it
// concurrently against the same store.
type Manager struct {
	store    SessionStore
	pub      Publisher
	media    MediaService
	notifier Notifier
	audit    TransitionAuditor

	clock func() time.Time
	log   *slog.Logger
}

// ManagerDeps wires the manager's collaborators. Store is required; the
// rest may be nil and are skipped.
type ManagerDeps struct {
	Store    SessionStore
	Events   Publisher
	Media    MediaService
	Notifier Notifier
	Audit    TransitionAuditor
	Logger   *slog.Logger
}

func NewManager(d ManagerDeps) *Manager {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    d.Store,
		pub:      d.Events,
		media:    d.Media,
		notifier: d.Notifier,
		audit:    d.Audit,
		clock:    time.Now,
		log:      log,
	}
}

// Initiate creates a session in INITIATED for the given pair. The admission
// check (neither participant already in a live call) and the creation are
// one atomic unit inside the store.
func (m *Manager) Initiate(ctx context.Context, initiatorID, receiverID string, kind Kind) (Session, error) {
	if initiatorID == "" || receiverID == "" {
		return Session{}, fmt.Errorf("%w: initiator and receiver are required", ErrInvalidArgument)
	}
	if initiatorID == receiverID {
		return Session{}, ErrSelfCall
	}
	if !kind.Valid() {
		return Session{}, fmt.Errorf("%w: unknown call kind %q", ErrInvalidArgument, kind)
	}

	now := m.clock().UTC()
	s := Session{
		CallID:    uuid.NewString(),
		Initiator: initiatorID,
		Receiver:  receiverID,
		Kind:      kind,
		State:     StateInitiated,
		CreatedAt: now,
	}

	created, err := m.store.CreateIfAdmitted(ctx, s)
	if err != nil {
		return Session{}, err
	}

	m.publish(ctx, EventCallInitiated, created, "", "")
	m.recordAudit(ctx, created, "", initiatorID, "")
	if m.notifier != nil {
		if err := m.notifier.CallInitiated(ctx, created); err != nil {
			m.log.Warn("call notify failed", "call_id", created.CallID, "err", err)
		}
	}
	return created, nil
}

// Accept moves INITIATED/RINGING to CONNECTING, setting connected_at once.
// If a concurrent accept already landed, the already-CONNECTING record is
// returned without error; a second write never happens.
func (m *Manager) Accept(ctx context.Context, callID, participantID string) (Session, error) {
	s, err := m.requireParticipant(ctx, callID, participantID)
	if err != nil {
		return Session{}, err
	}

	now := m.clock().UTC()
	res, err := m.transition(ctx, s.CallID, TriggerAccept, Changes{ConnectedAt: &now}, participantID, "")
	if err != nil {
		return Session{}, err
	}
	if !res.Applied {
		if res.Session.State == StateConnecting {
			// Lost the race to an identical accept; benign.
			return res.Session, nil
		}
		return Session{}, &InvalidTransitionError{Trigger: TriggerAccept, Current: res.Session}
	}

	return m.enrichMedia(ctx, res.Session), nil
}

// Decline moves INITIATED/RINGING to DECLINED. Idempotent against an
// already-declined session.
func (m *Manager) Decline(ctx context.Context, callID, participantID string) (Session, error) {
	s, err := m.requireParticipant(ctx, callID, participantID)
	if err != nil {
		return Session{}, err
	}

	now := m.clock().UTC()
	ch := Changes{EndedAt: &now, EndedBy: participantID, EndReason: "declined"}
	res, err := m.transition(ctx, s.CallID, TriggerDecline, ch, participantID, "declined")
	if err != nil {
		return Session{}, err
	}
	if !res.Applied {
		if res.Session.State == StateDeclined {
			return res.Session, nil
		}
		return Session{}, &InvalidTransitionError{Trigger: TriggerDecline, Current: res.Session}
	}
	return res.Session, nil
}

// UpdateStatus applies a client-reported status. Exactly two targets are
// accepted: "ringing" (receiver's device acknowledged the incoming call)
// and "active" (media is flowing). Terminal targets are rejected here so
// the duration and ended_by invariants cannot be bypassed; ending a call
// goes through End.
func (m *Manager) UpdateStatus(ctx context.Context, callID, participantID, status string) (Session, error) {
	s, err := m.requireParticipant(ctx, callID, participantID)
	if err != nil {
		return Session{}, err
	}

	var trigger Trigger
	switch status {
	case string(StateRinging):
		if participantID != s.Receiver {
			return Session{}, fmt.Errorf("%w: only the receiver reports ringing", ErrInvalidArgument)
		}
		trigger = TriggerRing
	case string(StateActive):
		trigger = TriggerMarkActive
	default:
		return Session{}, fmt.Errorf("%w: status %q cannot be set directly", ErrInvalidArgument, status)
	}

	res, err := m.transition(ctx, s.CallID, trigger, Changes{}, participantID, "")
	if err != nil {
		return Session{}, err
	}
	if !res.Applied {
		if string(res.Session.State) == status {
			return res.Session, nil
		}
		return Session{}, &InvalidTransitionError{Trigger: trigger, Current: res.Session}
	}
	return res.Session, nil
}

// End terminates the session from any non-terminal state. Idempotent: a
// session that is already terminal is returned unchanged, with the same
// ended_at and duration as the first call.
func (m *Manager) End(ctx context.Context, callID, participantID, reason string) (Session, error) {
	s, err := m.requireParticipant(ctx, callID, participantID)
	if err != nil {
		return Session{}, err
	}
	if s.State.IsTerminal() {
		return s, nil
	}
	if reason == "" {
		reason = "normal"
	}

	// The duration is derived by the store inside the transition itself;
	// computing it from the session read above would miss an accept that
	// commits between that read and the conditional update.
	now := m.clock().UTC()
	ch := Changes{EndedAt: &now, EndedBy: participantID, EndReason: reason}
	res, err := m.transition(ctx, s.CallID, TriggerEnd, ch, participantID, reason)
	if err != nil {
		return Session{}, err
	}
	// Applied=false means another terminal transition committed first;
	// the end of an already-terminal call is a no-op.
	return res.Session, nil
}

// TimeoutCall is the sweeper's transition: INITIATED/RINGING to MISSED.
// Safe to run redundantly from any number of instances; a session another
// sweep (or a client) already moved is reported as not applied.
func (m *Manager) TimeoutCall(ctx context.Context, callID string) (Session, bool, error) {
	now := m.clock().UTC()
	ch := Changes{EndedAt: &now, EndReason: "timeout"}
	res, err := m.transition(ctx, callID, TriggerTimeout, ch, "", "timeout")
	if err != nil {
		return Session{}, false, err
	}
	return res.Session, res.Applied, nil
}

// FailStuckConnecting reclaims sessions stuck in CONNECTING: the accept
// happened but media never came up and nobody ended the call.
func (m *Manager) FailStuckConnecting(ctx context.Context, callID string) (Session, bool, error) {
	now := m.clock().UTC()
	ch := Changes{EndedAt: &now, EndReason: "connect_timeout"}
	res, err := m.transition(ctx, callID, TriggerConnectTimeout, ch, "", "connect_timeout")
	if err != nil {
		return Session{}, false, err
	}
	return res.Session, res.Applied, nil
}

// Get returns the session to one of its participants.
func (m *Manager) Get(ctx context.Context, callID, participantID string) (Session, error) {
	return m.requireParticipant(ctx, callID, participantID)
}

// ActiveForParticipant returns the participant's live session, if any.
func (m *Manager) ActiveForParticipant(ctx context.Context, participantID string) (Session, bool, error) {
	if participantID == "" {
		return Session{}, false, fmt.Errorf("%w: participant is required", ErrInvalidArgument)
	}
	return m.store.FindNonTerminalByParticipant(ctx, participantID)
}

// SetMetadata replaces connection-quality annotations while the session is
// non-terminal.
func (m *Manager) SetMetadata(ctx context.Context, callID, participantID, metadata string) (Session, error) {
	if _, err := m.requireParticipant(ctx, callID, participantID); err != nil {
		return Session{}, err
	}
	return m.store.SetMetadata(ctx, callID, metadata)
}

// transition resolves the trigger against the transition table and performs
// the conditional store update. Committed transitions are published and
// audited; guard failures are returned to the caller for per-operation
// idempotency decisions.
func (m *Manager) transition(ctx context.Context, callID string, trigger Trigger, ch Changes, actor, reason string) (TransitionResult, error) {
	rule, ok := ruleFor(trigger)
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown trigger %q", ErrInvalidArgument, trigger)
	}
	ch.To = rule.To

	res, err := m.store.ConditionalTransition(ctx, callID, rule.From, ch)
	if err != nil {
		return TransitionResult{}, err
	}
	if res.Applied {
		m.publish(ctx, eventTypeFor(trigger), res.Session, res.From, reason)
		m.recordAudit(ctx, res.Session, res.From, actor, reason)
	}
	return res, nil
}

func (m *Manager) requireParticipant(ctx context.Context, callID, participantID string) (Session, error) {
	if callID == "" {
		return Session{}, fmt.Errorf("%w: call id is required", ErrInvalidArgument)
	}
	if participantID == "" {
		return Session{}, fmt.Errorf("%w: participant is required", ErrInvalidArgument)
	}
	s, err := m.store.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	if !s.HasParticipant(participantID) {
		return Session{}, &NotParticipantError{CallID: callID, ParticipantID: participantID}
	}
	return s, nil
}

// enrichMedia attaches join credentials to a freshly accepted session.
// Advisory: any failure is logged and the session is returned as-is.
func (m *Manager) enrichMedia(ctx context.Context, s Session) Session {
	if m.media == nil {
		return s
	}
	ref, err := m.media.JoinCredentials(ctx, s.CallID, s.Kind, s.Participants())
	if err != nil {
		m.log.Warn("media credentials unavailable", "call_id", s.CallID, "err", err)
		return s
	}
	if err := m.store.SetMediaRef(ctx, s.CallID, ref); err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Warn("media ref not persisted", "call_id", s.CallID, "err", err)
	}
	s.MediaRef = ref
	return s
}

func (m *Manager) publish(ctx context.Context, t EventType, s Session, from State, reason string) {
	if m.pub == nil {
		return
	}
	ev := Event{
		ID:           uuid.NewString(),
		Type:         t,
		CallID:       s.CallID,
		FromState:    from,
		ToState:      s.State,
		Participants: s.Participants(),
		Reason:       reason,
		OccurredAt:   m.clock().UTC(),
	}
	if err := m.pub.Publish(ctx, ev); err != nil {
		m.log.Warn("event publish failed", "call_id", s.CallID, "type", t, "err", err)
	}
}

func (m *Manager) recordAudit(ctx context.Context, s Session, from State, actor, reason string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.RecordTransition(ctx, s, from, actor, reason); err != nil {
		m.log.Warn("audit record failed", "call_id", s.CallID, "err", err)
	}
}

func eventTypeFor(t Trigger) EventType {
	switch t {
	case TriggerRing:
		return EventCallRinging
	case TriggerAccept:
		return EventCallAccepted
	case TriggerMarkActive:
		return EventCallActive
	case TriggerDecline:
		return EventCallDeclined
	case TriggerTimeout:
		return EventCallTimeout
	case TriggerConnectTimeout:
		return EventCallFailed
	default:
		return EventCallEnded
	}
}
