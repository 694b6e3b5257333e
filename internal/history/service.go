package history

import (
	"context"
	"errors"
	"time"

	"callsignal/internal/calls"
)

// Repository abstracts call-history persistence. Only terminal sessions are
// history; live sessions belong to the lifecycle manager.
type Repository interface {
	ListTerminalByParticipant(ctx context.Context, participantID string, from, to time.Time, limit int) ([]calls.Session, error)

	// TallyTerminalByParticipant aggregates over every terminal session in
	// the window; unlike the list it is not limit-bounded.
	TallyTerminalByParticipant(ctx context.Context, participantID string, from, to time.Time) (Tally, error)
}

// Tally is the repository-level aggregate backing Summary.
type Tally struct {
	Total           int
	Connected       int
	Missed          int
	Declined        int
	DurationSeconds int64
}

// Service answers participant-scoped call-history queries. Pure reads; the
// lifecycle invariants guarantee the underlying rows never change again.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidHistoryReq = errors.New("invalid history request")

const defaultWindow = 30 * 24 * time.Hour
const defaultLimit = 100

// Summary aggregates a participant's terminal calls in a window.
type Summary struct {
	ParticipantID        string `json:"participant_id"`
	TotalCalls           int    `json:"total_calls"`
	ConnectedCalls       int    `json:"connected_calls"`
	MissedCalls          int    `json:"missed_calls"`
	DeclinedCalls        int    `json:"declined_calls"`
	TotalDurationSeconds int64  `json:"total_duration_seconds"`
}

func (s *Service) ListForParticipant(ctx context.Context, participantID string, from, to time.Time, limit int) ([]calls.Session, error) {
	if participantID == "" {
		return nil, ErrInvalidHistoryReq
	}
	from, to = s.window(from, to)
	if !from.Before(to) {
		return nil, ErrInvalidHistoryReq
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.repo.ListTerminalByParticipant(ctx, participantID, from, to, limit)
}

// Summarize aggregates in the repository, not over a fetched page, so the
// numbers stay correct for participants with more terminal calls than any
// list limit.
func (s *Service) Summarize(ctx context.Context, participantID string, from, to time.Time) (Summary, error) {
	if participantID == "" {
		return Summary{}, ErrInvalidHistoryReq
	}
	from, to = s.window(from, to)
	if !from.Before(to) {
		return Summary{}, ErrInvalidHistoryReq
	}

	t, err := s.repo.TallyTerminalByParticipant(ctx, participantID, from, to)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ParticipantID:        participantID,
		TotalCalls:           t.Total,
		ConnectedCalls:       t.Connected,
		MissedCalls:          t.Missed,
		DeclinedCalls:        t.Declined,
		TotalDurationSeconds: t.DurationSeconds,
	}, nil
}

func (s *Service) window(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = s.clock().UTC()
	}
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	return from, to
}
