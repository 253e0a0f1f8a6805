package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/serenalabs/breath-engine/internal/model"
)

const sessionColumns = `session_id, device_id, started_at, ended_at, technique_name,
	param_version, target_rr, status, last_emitted_ts`

func scanSession(row pgx.Row) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.SessionID, &s.DeviceID, &s.StartedAt, &s.EndedAt, &s.TechniqueName,
		&s.ParamVersion, &s.TargetRR, &s.Status, &s.LastEmittedTS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	return s, err
}

// CreateSession inserts a new active session. The partial unique index
// on (device_id) WHERE status = 'active' enforces the one-active-
// session-per-device invariant; violating it maps to
// ErrActiveSessionExists.
func (db *DB) CreateSession(ctx context.Context, s model.Session) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sessions (session_id, device_id, started_at, technique_name,
			param_version, target_rr, status, last_emitted_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.SessionID, s.DeviceID, s.StartedAt, s.TechniqueName,
		s.ParamVersion, s.TargetRR, s.Status, s.LastEmittedTS)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrActiveSessionExists
	}
	return err
}

// GetSession returns one session or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	return scanSession(db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID))
}

// ActiveSession returns the device's running session or ErrNotFound.
func (db *DB) ActiveSession(ctx context.Context, deviceID string) (model.Session, error) {
	return scanSession(db.Pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE device_id = $1 AND status = 'active'`, deviceID))
}

// EndSession closes a session with the given status (completed or
// cancelled).
func (db *DB) EndSession(ctx context.Context, sessionID string, endedAt time.Time, status string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sessions SET ended_at = $2, status = $3, updated_at = now()
		WHERE session_id = $1 AND status = 'active'
	`, sessionID, endedAt, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionTarget switches the technique and target rate of a
// running session.
func (db *DB) UpdateSessionTarget(ctx context.Context, sessionID string, targetRR float64, technique string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sessions SET target_rr = $2,
			technique_name = COALESCE(NULLIF($3, ''), technique_name),
			updated_at = now()
		WHERE session_id = $1
	`, sessionID, targetRR, technique)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceWatermark persists the derived-data watermark. It never moves
// the stored value backwards.
func (db *DB) AdvanceWatermark(ctx context.Context, sessionID string, ts int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE sessions SET last_emitted_ts = GREATEST(last_emitted_ts, $2), updated_at = now()
		WHERE session_id = $1
	`, sessionID, ts)
	return err
}

// SessionPatch carries the optional fields of a PATCH request; nil
// means "leave unchanged".
type SessionPatch struct {
	TechniqueName *string
	TargetRR      *float64
	Status        *string
}

// PatchSession applies a partial update.
func (db *DB) PatchSession(ctx context.Context, sessionID string, p SessionPatch) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE sessions SET
			technique_name = COALESCE($2, technique_name),
			target_rr      = COALESCE($3, target_rr),
			status         = COALESCE($4, status),
			updated_at     = now()
		WHERE session_id = $1
	`, sessionID, p.TechniqueName, p.TargetRR, p.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionFilter narrows ListSessions. Zero time bounds are ignored.
type SessionFilter struct {
	DeviceID string
	Status   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ListSessions returns sessions newest first.
func (db *DB) ListSessions(ctx context.Context, f SessionFilter) ([]model.Session, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE ($1::text IS NULL OR device_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR started_at >= $3)
		  AND ($4::timestamptz IS NULL OR started_at <= $4)
		ORDER BY started_at DESC
		LIMIT $5 OFFSET $6
	`, pqString(f.DeviceID), pqString(f.Status), pqTime(f.From), pqTime(f.To), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
