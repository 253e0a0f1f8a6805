package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/serenalabs/breath-engine/internal/model"
)

func scanTechnique(row pgx.Row) (model.Technique, error) {
	var (
		t        model.Technique
		protocol []byte
	)
	err := row.Scan(&t.Name, &t.Description, &t.ParamVersion, &t.ShowInApp,
		&protocol, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Technique{}, ErrNotFound
	}
	if err != nil {
		return model.Technique{}, err
	}
	if err := json.Unmarshal(protocol, &t.Protocol); err != nil {
		return model.Technique{}, fmt.Errorf("technique %s protocol: %w", t.Name, err)
	}
	return t, nil
}

// CreateTechnique stores a new technique. Re-creating a soft-deleted
// one revives it.
func (db *DB) CreateTechnique(ctx context.Context, t model.Technique) error {
	protocol, err := json.Marshal(t.Protocol)
	if err != nil {
		return fmt.Errorf("marshal protocol: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO techniques (name, description, param_version, show_in_app, protocol, is_active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (name) DO UPDATE SET
			description   = $2,
			param_version = $3,
			show_in_app   = $4,
			protocol      = $5,
			is_active     = true,
			updated_at    = now()
	`, t.Name, t.Description, t.ParamVersion, t.ShowInApp, protocol)
	return err
}

// GetTechnique returns one active technique or ErrNotFound.
func (db *DB) GetTechnique(ctx context.Context, name string) (model.Technique, error) {
	return scanTechnique(db.Pool.QueryRow(ctx, `
		SELECT name, description, param_version, show_in_app, protocol, is_active, created_at, updated_at
		FROM techniques WHERE name = $1 AND is_active
	`, name))
}

// ListTechniques returns active techniques, optionally only those shown
// in the app.
func (db *DB) ListTechniques(ctx context.Context, appOnly bool) ([]model.Technique, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT name, description, param_version, show_in_app, protocol, is_active, created_at, updated_at
		FROM techniques
		WHERE is_active AND (NOT $1 OR show_in_app)
		ORDER BY name
	`, appOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Technique
	for rows.Next() {
		t, err := scanTechnique(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TechniquePatch applies its non-nil fields; Protocol nil means keep.
type TechniquePatch struct {
	Description  *string
	ParamVersion *string
	ShowInApp    *bool
	Protocol     []model.ProtocolRow
}

// UpdateTechnique partially updates an active technique.
func (db *DB) UpdateTechnique(ctx context.Context, name string, p TechniquePatch) error {
	var protocol any
	if p.Protocol != nil {
		b, err := json.Marshal(p.Protocol)
		if err != nil {
			return fmt.Errorf("marshal protocol: %w", err)
		}
		protocol = b
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE techniques SET
			description   = COALESCE($2, description),
			param_version = COALESCE($3, param_version),
			show_in_app   = COALESCE($4, show_in_app),
			protocol      = COALESCE($5::jsonb, protocol),
			updated_at    = now()
		WHERE name = $1 AND is_active
	`, name, p.Description, p.ParamVersion, p.ShowInApp, protocol)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTechnique soft-deletes, keeping the row for existing session
// references.
func (db *DB) DeleteTechnique(ctx context.Context, name string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE techniques SET is_active = false, updated_at = now()
		WHERE name = $1 AND is_active
	`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
