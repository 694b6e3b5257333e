package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callsignal/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This store assumes the following tables exist:
//
//   call_sessions (
//     call_id TEXT PRIMARY KEY,
//     initiator_id TEXT NOT NULL,
//     receiver_id TEXT NOT NULL,
//     kind TEXT NOT NULL,
//     state TEXT NOT NULL,
//     created_at TIMESTAMPTZ NOT NULL,
//     connected_at TIMESTAMPTZ,
//     ended_at TIMESTAMPTZ,
//     ended_by TEXT NOT NULL DEFAULT '',
//     end_reason TEXT NOT NULL DEFAULT '',
//     duration_seconds INT NOT NULL DEFAULT 0,
//     metadata TEXT NOT NULL DEFAULT '',
//     media_ref TEXT NOT NULL DEFAULT '',
//     updated_at TIMESTAMPTZ NOT NULL
//   )
//
//   call_active_participants (
//     participant_id TEXT PRIMARY KEY,
//     call_id TEXT NOT NULL REFERENCES call_sessions (call_id)
//   )
//
// call_active_participants is the admission constraint: one pointer row per
// participant while their call is live, inserted in the same transaction as
// the session row and deleted in the same transaction as the terminal
// transition. The primary key makes two concurrent creates for the same
// participant impossible regardless of how many API processes are running.

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// PostgresStore is the production SessionStore.
type PostgresStore struct {
	db *sql.DB

	// opTimeout bounds every store operation so no request or sweep can
	// block indefinitely on the database.
	opTimeout time.Duration

	clock func() time.Time
}

func NewPostgresStore(db *sql.DB, opTimeout time.Duration) *PostgresStore {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &PostgresStore{db: db, opTimeout: opTimeout, clock: time.Now}
}

const sessionColumns = `
call_id, initiator_id, receiver_id, kind, state,
created_at, connected_at, ended_at, ended_by, end_reason,
duration_seconds, metadata, media_ref, updated_at
`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var connectedAt, endedAt sql.NullTime
	err := row.Scan(
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
	)
	if err != nil {
		return Session{}, err
	}
	if connectedAt.Valid {
		t := connectedAt.Time
		s.ConnectedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

var errAdmissionConflict = errors.New("admission conflict")

func (p *PostgresStore) CreateIfAdmitted(ctx context.Context, s Session) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const insertSession = `
INSERT INTO call_sessions (
  call_id, initiator_id, receiver_id, kind, state,
  created_at, duration_seconds, metadata, media_ref, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,0,'','',$6)
`
		if _, err := tx.ExecContext(ctx, insertSession,
			s.CallID, s.Initiator, s.Receiver, s.Kind, s.State, s.CreatedAt,
		); err != nil {
			return err
		}

		const insertPointers = `
INSERT INTO call_active_participants (participant_id, call_id)
VALUES ($1, $3), ($2, $3)
`
		if _, err := tx.ExecContext(ctx, insertPointers, s.Initiator, s.Receiver, s.CallID); err != nil {
			if isUniqueViolation(err) {
				return errAdmissionConflict
			}
			return err
		}
		return nil
	})
	if err == nil {
		s.UpdatedAt = s.CreatedAt
		return s, nil
	}
	if errors.Is(err, errAdmissionConflict) {
		return Session{}, p.admissionConflict(ctx, s)
	}
	return Session{}, classify("create", err)
}

// admissionConflict resolves which participant holds the blocking session.
func (p *PostgresStore) admissionConflict(ctx context.Context, s Session) error {
	for _, participant := range s.Participants() {
		existing, ok, err := p.findNonTerminal(ctx, participant)
		if err != nil {
			return classify("create", err)
		}
		if ok {
			return &AlreadyInCallError{ParticipantID: participant, Existing: existing}
		}
	}
	// The blocking call went terminal between our insert and this lookup.
	return &TransientError{Op: "create", Err: errAdmissionConflict}
}

func (p *PostgresStore) Get(ctx context.Context, callID string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, classify("get", err)
	}
	return s, nil
}

func (p *PostgresStore) ConditionalTransition(ctx context.Context, callID string, from []State, ch Changes) (TransitionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	var res TransitionResult
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Row lock serializes concurrent transitions on this session; the
		// state guard below decides whether this one still applies.
		q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1 FOR UPDATE`
		cur, err := scanSession(tx.QueryRowContext(ctx, q, callID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		res.From = cur.State
		if !stateIn(cur.State, from) {
			res.Session = cur
			res.Applied = false
			return nil
		}

		next := applyChanges(cur, ch, p.clock().UTC())
		const update = `
UPDATE call_sessions
SET state = $2,
    connected_at = $3,
    ended_at = $4,
    ended_by = $5,
    end_reason = $6,
    duration_seconds = $7,
    updated_at = $8
WHERE call_id = $1
`
		if _, err := tx.ExecContext(ctx, update,
			next.CallID,
			next.State,
			nullableTime(next.ConnectedAt),
			nullableTime(next.EndedAt),
			next.EndedBy,
			next.EndReason,
			next.DurationSeconds,
			next.UpdatedAt,
		); err != nil {
			return err
		}

		if next.State.IsTerminal() {
			const release = `DELETE FROM call_active_participants WHERE call_id = $1`
			if _, err := tx.ExecContext(ctx, release, next.CallID); err != nil {
				return err
			}
		}

		res.Session = next
		res.Applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TransitionResult{}, ErrNotFound
		}
		return TransitionResult{}, classify("transition", err)
	}
	return res, nil
}

func (p *PostgresStore) FindNonTerminalByParticipant(ctx context.Context, participantID string) (Session, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	s, ok, err := p.findNonTerminal(ctx, participantID)
	if err != nil {
		return Session{}, false, classify("find_active", err)
	}
	return s, ok, nil
}

func (p *PostgresStore) findNonTerminal(ctx context.Context, participantID string) (Session, bool, error) {
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions s
JOIN call_active_participants a ON a.call_id = s.call_id
WHERE a.participant_id = $1
`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, participantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return s, true, nil
}

func (p *PostgresStore) FindStaleByStateAndAge(ctx context.Context, states []State, anchor StaleAnchor, olderThan time.Time, limit int) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	// The anchor is a closed enum, never caller input; mapping it to a
	// column name here keeps it out of the SQL parameter path.
	col := "created_at"
	if anchor == AnchorConnected {
		col = "connected_at"
	}
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE state = ANY($1) AND ` + col + ` < $2
ORDER BY ` + col + `
LIMIT $3
`
	rows, err := p.db.QueryContext(ctx, q, stateStrings(states), olderThan, limit)
	if err != nil {
		return nil, classify("find_stale", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, classify("find_stale", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find_stale", err)
	}
	return out, nil
}

func (p *PostgresStore) SetMediaRef(ctx context.Context, callID, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	const q = `
UPDATE call_sessions
SET media_ref = $2, updated_at = $3
WHERE call_id = $1
  AND state IN ('initiated','ringing','connecting','active')
`
	res, err := p.db.ExecContext(ctx, q, callID, ref, p.clock().UTC())
	if err != nil {
		return classify("set_media_ref", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.Get(ctx, callID); err != nil {
			return err
		}
		// Terminal already; the ref is advisory, nothing to record.
	}
	return nil
}

func (p *PostgresStore) SetMetadata(ctx context.Context, callID, metadata string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	q := `
UPDATE call_sessions
SET metadata = $2, updated_at = $3
WHERE call_id = $1
  AND state IN ('initiated','ringing','connecting','active')
RETURNING ` + sessionColumns
	s, err := scanSession(p.db.QueryRowContext(ctx, q, callID, metadata, p.clock().UTC()))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, classify("set_metadata", err)
	}

	cur, err := p.Get(ctx, callID)
	if err != nil {
		return Session{}, err
	}
	return Session{}, &InvalidTransitionError{Trigger: "set_metadata", Current: cur}
}

func stateStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// classify maps store-level failures onto the lifecycle error taxonomy.
// Timeouts, serialization failures, and deadlocks are retryable; anything
// else surfaces wrapped so internal detail never reaches API responses.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return &TransientError{Op: op, Err: err}
		}
	}
	if pgconn.Timeout(err) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("call store %s: %w", op, err)
}
