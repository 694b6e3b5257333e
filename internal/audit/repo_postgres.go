package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends entries to the call_audit table so the transition
// trail survives process restarts and is shared across instances.
//
// NOTE: assumes the following table exists, with INSERT-only access:
//
//	call_audit (
//	  id TEXT PRIMARY KEY,
//	  call_id TEXT NOT NULL,
//	  type TEXT NOT NULL,
//	  actor_id TEXT NOT NULL DEFAULT '',
//	  from_state TEXT NOT NULL DEFAULT '',
//	  to_state TEXT NOT NULL,
//	  reason TEXT NOT NULL DEFAULT '',
//	  created_at TIMESTAMPTZ NOT NULL
//	)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO call_audit (id, call_id, type, actor_id, from_state, to_state, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.CallID, e.Type, e.ActorID, e.FromState, e.ToState, e.Reason, e.CreatedAt,
	)
	return err
}
