package audit

import (
	"context"
	"errors"
	"time"

	"callsignal/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit entries. Append-only:
// entries are never updated or deleted.
type Repository interface {
	Append(ctx context.Context, e Entry) error
}

// Service records internal audit information about call transitions.
//
// Callers must treat recording as best-effort: the lifecycle manager logs
// and continues when this service fails.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" {
		return ErrInvalidEntry
	}
	if e.Type == "" || e.ToState == "" {
		return ErrInvalidEntry
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// RecordTransition implements the lifecycle manager's auditor port.
func (s *Service) RecordTransition(ctx context.Context, sess calls.Session, from calls.State, actor, reason string) error {
	return s.Append(ctx, Entry{
		CallID:    sess.CallID,
		Type:      EntryTypeTransition,
		ActorID:   actor,
		FromState: string(from),
		ToState:   string(sess.State),
		Reason:    reason,
	})
}
