package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/db"
	"github.com/sells-group/prospect-outreach/internal/model"
)

func scanModel(row scanner) (*model.ScoringModel, error) {
	var (
		m       model.ScoringModel
		weights []byte
	)
	if err := row.Scan(&m.ID, &m.Version, &weights, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(weights, &m.Weights); err != nil {
		return nil, eris.Wrapf(err, "decode weights for model v%d", m.Version)
	}
	return &m, nil
}

// ActiveModel returns the single active scoring model.
func (s *PostgresStore) ActiveModel(ctx context.Context) (*model.ScoringModel, error) {
	m, err := scanModel(s.pool.QueryRow(ctx,
		`SELECT id, version, weights, active, created_at FROM scoring_models WHERE active`))
	if err != nil {
		return nil, notFound(err, "postgres: active model")
	}
	return m, nil
}

// CreateModelVersion deactivates the current model and inserts the next
// version as active, atomically.
func (s *PostgresStore) CreateModelVersion(ctx context.Context, weights map[string]float64) (*model.ScoringModel, error) {
	raw, err := json.Marshal(orEmpty(weights))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode model weights")
	}

	var out *model.ScoringModel
	err = s.withTx(ctx, "create model version", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE scoring_models SET active = false WHERE active`); err != nil {
			return eris.Wrap(err, "postgres: deactivate model")
		}
		m, err := scanModel(tx.QueryRow(ctx,
			`INSERT INTO scoring_models (id, version, weights, active, created_at)
			SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, now() FROM scoring_models
			RETURNING id, version, weights, active, created_at`,
			uuid.NewString(), raw,
		))
		if err != nil {
			if isUniqueViolation(err) {
				return eris.Wrap(ErrConflict, "postgres: concurrent model version")
			}
			return eris.Wrap(err, "postgres: insert model version")
		}
		out = m
		return nil
	})
	return out, err
}

// InsertScores appends scores. A score already recorded for the same
// prospect and model version is left untouched.
func (s *PostgresStore) InsertScores(ctx context.Context, scores []model.DynamicScore) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(scores))
	for _, sc := range scores {
		meta, err := json.Marshal(sc.Metadata)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: encode score metadata for %s", sc.ProspectID)
		}
		computed := sc.ComputedAt
		if computed.IsZero() {
			computed = time.Now().UTC()
		}
		rows = append(rows, []any{sc.ProspectID, sc.ModelVersion, sc.Score, meta, computed})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "dynamic_scores",
		Columns:      []string{"prospect_id", "model_version", "score", "metadata", "computed_at"},
		ConflictKeys: []string{"prospect_id", "model_version"},
		DoNothing:    true,
	}, rows)
	return n, eris.Wrap(err, "postgres: insert scores")
}

// FeatureMeans returns the population mean of every feature across prospects.
func (s *PostgresStore) FeatureMeans(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.key, avg(f.value::float8)
		FROM prospects p, jsonb_each_text(p.features) AS f
		GROUP BY f.key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: feature means")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			key  string
			mean float64
		)
		if err := rows.Scan(&key, &mean); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature mean")
		}
		out[key] = mean
	}
	return out, eris.Wrap(rows.Err(), "postgres: feature means")
}
