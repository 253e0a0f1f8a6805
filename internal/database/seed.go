package database

import (
	"context"

	"github.com/serenalabs/breath-engine/internal/model"
)

// starterTechniques are created on first boot so a fresh install has
// something to guide with.
var starterTechniques = []model.Technique{
	{
		Name:         "Coherent (6 bpm)",
		Description:  "Even five-second inhale and exhale.",
		ParamVersion: model.DefaultParamVersion,
		ShowInApp:    true,
		Protocol:     []model.ProtocolRow{{5, 0, 5, 0, 0}},
	},
	{
		Name:         "Box (4-4-4-4)",
		Description:  "Equal inhale, hold, exhale, hold.",
		ParamVersion: model.DefaultParamVersion,
		ShowInApp:    true,
		Protocol:     []model.ProtocolRow{{4, 4, 4, 4, 0}},
	},
	{
		Name:         "Relaxing (4-7-8)",
		Description:  "Four in, seven hold, eight out.",
		ParamVersion: model.DefaultParamVersion,
		ShowInApp:    true,
		Protocol:     []model.ProtocolRow{{4, 7, 8, 0, 0}},
	},
}

// Seed ensures the default parameter set, the feedback rules document
// and the starter techniques exist. Everything is insert-if-absent, so
// operator edits survive restarts.
func (db *DB) Seed(ctx context.Context) error {
	if err := db.CreateParameterSet(ctx, model.DefaultParameters()); err != nil {
		return err
	}

	var haveRules bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM feedback_rules WHERE id = 1)`).Scan(&haveRules)
	if err != nil {
		return err
	}
	if !haveRules {
		if _, err := db.PutFeedbackRules(ctx, model.DefaultFeedbackRules()); err != nil {
			return err
		}
		db.log.Info().Msg("default feedback rules stored")
	}

	var haveTechniques bool
	err = db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM techniques)`).Scan(&haveTechniques)
	if err != nil {
		return err
	}
	if !haveTechniques {
		for _, t := range starterTechniques {
			if err := db.CreateTechnique(ctx, t); err != nil {
				return err
			}
		}
		db.log.Info().Int("count", len(starterTechniques)).Msg("starter techniques stored")
	}
	return nil
}
