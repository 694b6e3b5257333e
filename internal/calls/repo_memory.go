package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory SessionStore for tests and local development.
// It provides the same atomicity guarantees as the Postgres store (a single
// mutex stands in for the transaction) so lifecycle tests exercise the real
// conditional-transition semantics.
//
// NOTE: not for production; state dies with the process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session

	// activeByParticipant mirrors the call_active_participants table:
	// one live call pointer per participant, removed on terminal transition.
	activeByParticipant map[string]string

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:            map[string]Session{},
		activeByParticipant: map[string]string{},
		clock:               time.Now,
	}
}

func (m *MemoryStore) CreateIfAdmitted(ctx context.Context, s Session) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range s.Participants() {
		if existingID, ok := m.activeByParticipant[p]; ok {
			existing := m.sessions[existingID]
			return Session{}, &AlreadyInCallError{ParticipantID: p, Existing: existing}
		}
	}

	s.UpdatedAt = s.CreatedAt
	m.sessions[s.CallID] = s
	m.activeByParticipant[s.Initiator] = s.CallID
	m.activeByParticipant[s.Receiver] = s.CallID
	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, callID string) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[callID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ConditionalTransition(ctx context.Context, callID string, from []State, ch Changes) (TransitionResult, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[callID]
	if !ok {
		return TransitionResult{}, ErrNotFound
	}

	prev := s.State
	if !stateIn(prev, from) {
		return TransitionResult{Session: s, From: prev, Applied: false}, nil
	}

	s = applyChanges(s, ch, m.clock().UTC())
	m.sessions[callID] = s
	if ch.To.IsTerminal() {
		m.releaseParticipants(s)
	}
	return TransitionResult{Session: s, From: prev, Applied: true}, nil
}

func (m *MemoryStore) FindNonTerminalByParticipant(ctx context.Context, participantID string) (Session, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.activeByParticipant[participantID]
	if !ok {
		return Session{}, false, nil
	}
	return m.sessions[id], true, nil
}

func (m *MemoryStore) FindStaleByStateAndAge(ctx context.Context, states []State, anchor StaleAnchor, olderThan time.Time, limit int) ([]Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0)
	for _, s := range m.sessions {
		if !stateIn(s.State, states) {
			continue
		}
		ts := s.CreatedAt
		if anchor == AnchorConnected {
			if s.ConnectedAt == nil {
				continue
			}
			ts = *s.ConnectedAt
		}
		if !ts.Before(olderThan) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) SetMediaRef(ctx context.Context, callID, ref string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[callID]
	if !ok {
		return ErrNotFound
	}
	if s.State.IsTerminal() {
		return nil
	}
	s.MediaRef = ref
	s.UpdatedAt = m.clock().UTC()
	m.sessions[callID] = s
	return nil
}

func (m *MemoryStore) SetMetadata(ctx context.Context, callID, metadata string) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[callID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.State.IsTerminal() {
		return Session{}, &InvalidTransitionError{Trigger: "set_metadata", Current: s}
	}
	s.Metadata = metadata
	s.UpdatedAt = m.clock().UTC()
	m.sessions[callID] = s
	return s, nil
}

func (m *MemoryStore) releaseParticipants(s Session) {
	for _, p := range s.Participants() {
		if m.activeByParticipant[p] == s.CallID {
			delete(m.activeByParticipant, p)
		}
	}
}

func stateIn(s State, set []State) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

// applyChanges produces the post-transition record. ConnectedAt is
// set-once; terminal fields are written only on terminal transitions. The
// duration is derived here, after the connected_at merge, so it always
// accounts for an accept that committed before this transition.
func applyChanges(s Session, ch Changes, now time.Time) Session {
	s.State = ch.To
	if s.ConnectedAt == nil && ch.ConnectedAt != nil {
		t := *ch.ConnectedAt
		s.ConnectedAt = &t
	}
	if ch.To.IsTerminal() {
		if ch.EndedAt != nil {
			t := *ch.EndedAt
			s.EndedAt = &t
			s.DurationSeconds = durationSeconds(s.ConnectedAt, t)
		}
		s.EndedBy = ch.EndedBy
		s.EndReason = ch.EndReason
	}
	s.UpdatedAt = now
	return s
}
