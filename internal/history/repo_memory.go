package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"callsignal/internal/calls"
)

// MemoryRepo is a simple in-memory history repository for tests and early
// development.
type MemoryRepo struct {
	mu       sync.Mutex
	Sessions []calls.Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListTerminalByParticipant(ctx context.Context, participantID string, from, to time.Time, limit int) ([]calls.Session, error) {
	_ = ctx
	if participantID == "" {
		return nil, errors.New("participant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]calls.Session, 0)
	for _, s := range r.Sessions {
		if !s.State.IsTerminal() {
			continue
		}
		if !s.HasParticipant(participantID) {
			continue
		}
		if s.EndedAt == nil || s.EndedAt.Before(from) || !s.EndedAt.Before(to) {
			continue
		}
		out = append(out, s)
	}

	// Newest first, matching the Postgres query ordering.
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndedAt.After(*out[j].EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) TallyTerminalByParticipant(ctx context.Context, participantID string, from, to time.Time) (Tally, error) {
	_ = ctx
	if participantID == "" {
		return Tally{}, errors.New("participant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var t Tally
	for _, s := range r.Sessions {
		if !s.State.IsTerminal() || !s.HasParticipant(participantID) {
			continue
		}
		if s.EndedAt == nil || s.EndedAt.Before(from) || !s.EndedAt.Before(to) {
			continue
		}
		t.Total++
		switch s.State {
		case calls.StateMissed:
			t.Missed++
		case calls.StateDeclined:
			t.Declined++
		}
		if s.ConnectedAt != nil {
			t.Connected++
			t.DurationSeconds += int64(s.DurationSeconds)
		}
	}
	return t, nil
}
