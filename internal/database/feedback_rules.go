package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/serenalabs/breath-engine/internal/model"
)

// FeedbackRules returns the singleton rules document, falling back to
// the built-in defaults when none is stored yet.
func (db *DB) FeedbackRules(ctx context.Context) (model.FeedbackRules, error) {
	var (
		raw     []byte
		rules   model.FeedbackRules
		version int
	)
	err := db.Pool.QueryRow(ctx,
		`SELECT rules, version, updated_at FROM feedback_rules WHERE id = 1`,
	).Scan(&raw, &version, &rules.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultFeedbackRules(), nil
	}
	if err != nil {
		return model.FeedbackRules{}, err
	}
	updated := rules.UpdatedAt
	if err := json.Unmarshal(raw, &rules); err != nil {
		return model.FeedbackRules{}, fmt.Errorf("feedback rules document: %w", err)
	}
	rules.Version = version
	rules.UpdatedAt = updated
	return rules, nil
}

// PutFeedbackRules replaces the singleton document and bumps its
// version. The stored version wins over whatever the caller set.
func (db *DB) PutFeedbackRules(ctx context.Context, rules model.FeedbackRules) (model.FeedbackRules, error) {
	raw, err := json.Marshal(rules)
	if err != nil {
		return model.FeedbackRules{}, fmt.Errorf("marshal feedback rules: %w", err)
	}
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO feedback_rules (id, rules, version, updated_at)
		VALUES (1, $1, 1, now())
		ON CONFLICT (id) DO UPDATE SET
			rules      = $1,
			version    = feedback_rules.version + 1,
			updated_at = now()
		RETURNING version, updated_at
	`, raw).Scan(&rules.Version, &rules.UpdatedAt)
	if err != nil {
		return model.FeedbackRules{}, err
	}
	return rules, nil
}
