package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/db"
	"github.com/sells-group/prospect-outreach/internal/model"
)

// SeedWeights inserts any weight that does not exist yet. Existing learner
// values are never overwritten.
func (s *PostgresStore) SeedWeights(ctx context.Context, weights map[string]float64, min, max float64) error {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := weights[name]
		if v < min {
			v = min
		}
		if v > max {
			v = max
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO adaptive_weights (weight_name, value, min_value, max_value, last_adjusted_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (weight_name) DO NOTHING`,
			name, v, min, max,
		); err != nil {
			return eris.Wrapf(err, "postgres: seed weight %s", name)
		}
	}
	return nil
}

func (s *PostgresStore) ListWeights(ctx context.Context) ([]model.AdaptiveWeight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT weight_name, value, min_value, max_value, last_adjusted_at
		FROM adaptive_weights ORDER BY weight_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list weights")
	}
	defer rows.Close()

	var out []model.AdaptiveWeight
	for rows.Next() {
		var w model.AdaptiveWeight
		if err := rows.Scan(&w.Name, &w.Value, &w.Min, &w.Max, &w.LastAdjustedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weight")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list weights")
}

// ApplyWeightAdjustments writes each adjustment only if the stored value
// still equals Old, and logs every applied change in the same transaction.
// A lost race leaves that weight untouched. It returns the number applied.
func (s *PostgresStore) ApplyWeightAdjustments(ctx context.Context, adj []WeightAdjustment) (int, error) {
	if len(adj) == 0 {
		return 0, nil
	}
	applied := 0
	err := s.withTx(ctx, "apply weight adjustments", func(tx pgx.Tx) error {
		var logRows [][]any
		now := time.Now().UTC()
		for _, a := range adj {
			tag, err := tx.Exec(ctx,
				`UPDATE adaptive_weights SET value = $1, last_adjusted_at = now()
				WHERE weight_name = $2 AND value = $3 AND $1 BETWEEN min_value AND max_value`,
				a.New, a.Name, a.Old,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: adjust weight %s", a.Name)
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			logRows = append(logRows, []any{uuid.NewString(), a.Name, a.Old, a.New, a.Reason, now})
		}
		applied = len(logRows)
		if applied == 0 {
			return nil
		}
		_, err := db.CopyFrom(ctx, tx, "optimization_log",
			[]string{"id", "weight_name", "old_value", "new_value", "reason", "triggered_at"}, logRows)
		return err
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// ReplaceConversionPatterns swaps the full pattern set in one transaction.
func (s *PostgresStore) ReplaceConversionPatterns(ctx context.Context, patterns []model.ConversionPattern) error {
	return s.withTx(ctx, "replace conversion patterns", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM conversion_patterns`); err != nil {
			return eris.Wrap(err, "postgres: clear conversion patterns")
		}
		if len(patterns) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(patterns))
		for _, p := range patterns {
			computed := p.ComputedAt
			if computed.IsZero() {
				computed = time.Now().UTC()
			}
			rows = append(rows, []any{
				p.Dimension, p.Bucket, p.SampleSize, p.Conversions, p.ObservedRate, p.PredictedRate, computed,
			})
		}
		_, err := db.CopyFrom(ctx, tx, "conversion_patterns",
			[]string{"dimension", "bucket", "sample_size", "conversions", "observed_rate", "predicted_rate", "computed_at"},
			rows)
		return err
	})
}

// ConversionSamples returns prospects contacted since the cutoff with their
// score under modelVersion and whether they converted. A reply counts as a
// conversion.
func (s *PostgresStore) ConversionSamples(ctx context.Context, since time.Time, modelVersion int) ([]model.ConversionSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.industry, p.region, p.employee_count, p.features, COALESCE(ds.score, 0),
			(p.status = 'converted' OR EXISTS (
				SELECT 1 FROM outreach_emails e WHERE e.prospect_id = p.id AND e.status = 'replied'
			))
		FROM prospects p
		LEFT JOIN dynamic_scores ds ON ds.prospect_id = p.id AND ds.model_version = $1
		WHERE p.last_contacted_at >= $2`,
		modelVersion, since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: conversion samples")
	}
	defer rows.Close()

	var out []model.ConversionSample
	for rows.Next() {
		var (
			cs       model.ConversionSample
			features []byte
		)
		if err := rows.Scan(&cs.ProspectID, &cs.Industry, &cs.Region, &cs.EmployeeCount, &features, &cs.Score, &cs.Converted); err != nil {
			return nil, eris.Wrap(err, "postgres: scan conversion sample")
		}
		if len(features) > 0 {
			if err := json.Unmarshal(features, &cs.Features); err != nil {
				return nil, eris.Wrapf(err, "postgres: decode features for %s", cs.ProspectID)
			}
		}
		out = append(out, cs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: conversion samples")
}

func (s *PostgresStore) ListOptimizationLog(ctx context.Context, limit int) ([]model.OptimizationLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, weight_name, old_value, new_value, reason, triggered_at
		FROM optimization_log ORDER BY triggered_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list optimization log")
	}
	defer rows.Close()

	var out []model.OptimizationLogEntry
	for rows.Next() {
		var e model.OptimizationLogEntry
		if err := rows.Scan(&e.ID, &e.WeightName, &e.OldValue, &e.NewValue, &e.Reason, &e.TriggeredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan optimization log")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list optimization log")
}
