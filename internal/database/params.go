package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/serenalabs/breath-engine/internal/model"
)

// CreateParameterSet stores an immutable parameter snapshot under its
// version key.
func (db *DB) CreateParameterSet(ctx context.Context, p model.ParameterSet) error {
	params, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal parameter set: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO parameter_sets (version, params, is_default)
		VALUES ($1, $2, $3)
		ON CONFLICT (version) DO NOTHING
	`, p.Version, params, p.IsDefault)
	return err
}

// GetParameterSet returns one snapshot or ErrNotFound.
func (db *DB) GetParameterSet(ctx context.Context, version string) (model.ParameterSet, error) {
	var params []byte
	err := db.Pool.QueryRow(ctx,
		`SELECT params FROM parameter_sets WHERE version = $1`, version).Scan(&params)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ParameterSet{}, ErrNotFound
	}
	if err != nil {
		return model.ParameterSet{}, err
	}
	var p model.ParameterSet
	if err := json.Unmarshal(params, &p); err != nil {
		return model.ParameterSet{}, fmt.Errorf("parameter set %s: %w", version, err)
	}
	p.Version = version
	return p, nil
}

// ListParameterSets returns every stored snapshot, newest first.
func (db *DB) ListParameterSets(ctx context.Context) ([]model.ParameterSet, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT params, created_at FROM parameter_sets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ParameterSet
	for rows.Next() {
		var (
			params []byte
			p      model.ParameterSet
		)
		if err := rows.Scan(&params, &p.CreatedAt); err != nil {
			return nil, err
		}
		created := p.CreatedAt
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parameter set row: %w", err)
		}
		p.CreatedAt = created
		out = append(out, p)
	}
	return out, rows.Err()
}
