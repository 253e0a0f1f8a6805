package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/serenalabs/breath-engine/internal/model"
)

// UpsertDevice creates the device on first sight and bumps last_seen on
// every later one. Name and type are never overwritten with empties.
func (db *DB) UpsertDevice(ctx context.Context, deviceID, name, deviceType string) error {
	if deviceType == "" {
		deviceType = model.DefaultDeviceType
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO devices (device_id, name, device_type, created_at, last_seen)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (device_id) DO UPDATE SET
			name        = COALESCE(NULLIF($2, ''), devices.name),
			device_type = COALESCE(NULLIF($3, ''), devices.device_type),
			last_seen   = now()
	`, deviceID, name, deviceType)
	return err
}

// GetDevice returns one device or ErrNotFound.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (model.Device, error) {
	var d model.Device
	err := db.Pool.QueryRow(ctx, `
		SELECT device_id, name, device_type, created_at, last_seen
		FROM devices WHERE device_id = $1
	`, deviceID).Scan(&d.DeviceID, &d.Name, &d.DeviceType, &d.CreatedAt, &d.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Device{}, ErrNotFound
	}
	return d, err
}

// ListDevices returns all devices, most recently seen first.
func (db *DB) ListDevices(ctx context.Context) ([]model.Device, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT device_id, name, device_type, created_at, last_seen
		FROM devices ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.DeviceType, &d.CreatedAt, &d.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDevice changes the mutable device fields, returning ErrNotFound
// for an unknown id.
func (db *DB) UpdateDevice(ctx context.Context, deviceID, name, deviceType string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE devices SET
			name        = COALESCE(NULLIF($2, ''), name),
			device_type = COALESCE(NULLIF($3, ''), device_type)
		WHERE device_id = $1
	`, deviceID, name, deviceType)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
