package history

import (
	"context"
	"database/sql"
	"time"

	"callsignal/internal/calls"
)

// PostgresRepo reads terminal sessions out of the same call_sessions table
// the lifecycle store writes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListTerminalByParticipant(ctx context.Context, participantID string, from, to time.Time, limit int) ([]calls.Session, error) {
	const q = `
SELECT call_id, initiator_id, receiver_id, kind, state,
       created_at, connected_at, ended_at, ended_by, end_reason,
       duration_seconds, metadata, media_ref, updated_at
FROM call_sessions
WHERE (initiator_id = $1 OR receiver_id = $1)
  AND state IN ('ended','declined','missed','failed')
  AND ended_at >= $2 AND ended_at < $3
ORDER BY ended_at DESC
LIMIT $4
`
	rows, err := r.db.QueryContext(ctx, q, participantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Session, 0)
	for rows.Next() {
		var s calls.Session
		var connectedAt, endedAt sql.NullTime
		if err := rows.Scan(
			&s.CallID,
			&s.Initiator,
			&s.Receiver,
			&s.Kind,
			&s.State,
			&s.CreatedAt,
			&connectedAt,
			&endedAt,
			&s.EndedBy,
			&s.EndReason,
			&s.DurationSeconds,
			&s.Metadata,
			&s.MediaRef,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if connectedAt.Valid {
			t := connectedAt.Time
			s.ConnectedAt = &t
		}
		if endedAt.Valid {
			t := endedAt.Time
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) TallyTerminalByParticipant(ctx context.Context, participantID string, from, to time.Time) (Tally, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE connected_at IS NOT NULL),
       COUNT(*) FILTER (WHERE state = 'missed'),
       COUNT(*) FILTER (WHERE state = 'declined'),
       COALESCE(SUM(duration_seconds) FILTER (WHERE connected_at IS NOT NULL), 0)
FROM call_sessions
WHERE (initiator_id = $1 OR receiver_id = $1)
  AND state IN ('ended','declined','missed','failed')
  AND ended_at >= $2 AND ended_at < $3
`
	var t Tally
	err := r.db.QueryRowContext(ctx, q, participantID, from, to).Scan(
		&t.Total,
		&t.Connected,
		&t.Missed,
		&t.Declined,
		&t.DurationSeconds,
	)
	if err != nil {
		return Tally{}, err
	}
	return t, nil
}
