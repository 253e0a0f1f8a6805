package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/serenalabs/breath-engine/internal/model"
)

// StoredSignal is a persisted record with its row id.
type StoredSignal struct {
	ID int64 `json:"id"`
	model.SignalRecord
}

// InsertSignal persists one record. The full record is kept as JSONB
// alongside the typed filter columns.
func (db *DB) InsertSignal(ctx context.Context, rec model.SignalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal signal payload: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO signals (device_id, session_id, signal, ts, dt, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.DeviceID, pqString(rec.SessionID), rec.Signal, rec.TS, rec.DT, payload)
	return err
}

// InsertSignals persists a batch of records in one round trip.
func (db *DB) InsertSignals(ctx context.Context, recs []model.SignalRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal signal payload: %w", err)
		}
		batch.Queue(`
			INSERT INTO signals (device_id, session_id, signal, ts, dt, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.DeviceID, pqString(rec.SessionID), rec.Signal, rec.TS, rec.DT, payload)
	}
	return db.Pool.SendBatch(ctx, batch).Close()
}

func scanStoredSignal(rows pgx.Rows) (StoredSignal, error) {
	var (
		s         StoredSignal
		sessionID *string
		payload   []byte
	)
	if err := rows.Scan(&s.ID, &s.DeviceID, &sessionID, &s.Signal, &s.TS, &s.DT, &payload); err != nil {
		return StoredSignal{}, err
	}
	if len(payload) > 0 {
		rec := s.SignalRecord
		if err := json.Unmarshal(payload, &rec); err == nil {
			id := s.ID
			s = StoredSignal{ID: id, SignalRecord: rec}
		}
	}
	if sessionID != nil {
		s.SessionID = *sessionID
	}
	return s, nil
}

// SignalFilter narrows ListSignals.
type SignalFilter struct {
	DeviceID  string
	SessionID string
	Signal    string
	FromTS    int64
	ToTS      int64
	Limit     int
	Offset    int
}

// ListSignals returns stored records newest first.
func (db *DB) ListSignals(ctx context.Context, f SignalFilter) ([]StoredSignal, error) {
	if f.Limit <= 0 || f.Limit > 2000 {
		f.Limit = 200
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, session_id, signal, ts, dt, payload
		FROM signals
		WHERE ($1::text IS NULL OR device_id = $1)
		  AND ($2::text IS NULL OR session_id = $2)
		  AND ($3::text IS NULL OR signal = $3)
		  AND ($4::bigint IS NULL OR ts >= $4)
		  AND ($5::bigint IS NULL OR ts <= $5)
		ORDER BY ts DESC
		LIMIT $6 OFFSET $7
	`, pqString(f.DeviceID), pqString(f.SessionID), pqString(f.Signal),
		pqInt64(f.FromTS), pqInt64(f.ToTS), f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSignal
	for rows.Next() {
		s, err := scanStoredSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSignal returns one stored record by row id.
func (db *DB) GetSignal(ctx context.Context, id int64) (StoredSignal, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, session_id, signal, ts, dt, payload
		FROM signals WHERE id = $1
	`, id)
	if err != nil {
		return StoredSignal{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return StoredSignal{}, err
		}
		return StoredSignal{}, ErrNotFound
	}
	return scanStoredSignal(rows)
}

// RecentSignals returns the newest records of one signal for a device,
// oldest first so clients can replay them in order.
func (db *DB) RecentSignals(ctx context.Context, deviceID, signal string, limit int) ([]StoredSignal, error) {
	if limit <= 0 || limit > 2000 {
		limit = 120
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, session_id, signal, ts, dt, payload FROM (
			SELECT id, device_id, session_id, signal, ts, dt, payload
			FROM signals
			WHERE device_id = $1 AND signal = $2
			ORDER BY ts DESC
			LIMIT $3
		) newest
		ORDER BY ts ASC
	`, deviceID, signal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSignal
	for rows.Next() {
		s, err := scanStoredSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// HRPoint is one compact heart-rate sample for sparkline-style clients.
type HRPoint struct {
	TS  int64   `json:"ts"`
	BPM float64 `json:"bpm"`
}

// RecentHR returns the newest heart-rate points for a device, oldest
// first so clients can append directly.
func (db *DB) RecentHR(ctx context.Context, deviceID string, limit int) ([]HRPoint, error) {
	if limit <= 0 || limit > 2000 {
		limit = 120
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT ts, (payload->>'bpm')::float8
		FROM (
			SELECT ts, payload FROM signals
			WHERE device_id = $1 AND signal = $2 AND payload ? 'bpm'
			ORDER BY ts DESC
			LIMIT $3
		) newest
		ORDER BY ts ASC
	`, deviceID, model.SignalHRDerived, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HRPoint
	for rows.Next() {
		var p HRPoint
		if err := rows.Scan(&p.TS, &p.BPM); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
