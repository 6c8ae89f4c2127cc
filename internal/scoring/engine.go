package scoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// DefaultFeatureMean is imputed when no population mean is known.
const DefaultFeatureMean = 0.5

// Store is the persistence the engine needs.
type Store interface {
	FeatureMeans(ctx context.Context) (map[string]float64, error)
	InsertScores(ctx context.Context, scores []model.DynamicScore) (int64, error)
}

// Engine scores prospects under a scoring model and appends the results.
type Engine struct {
	store    Store
	strategy Strategy
	now      func() time.Time
}

// NewEngine creates an Engine. A nil strategy selects LinearStrategy.
func NewEngine(st Store, strategy Strategy) *Engine {
	if strategy == nil {
		strategy = LinearStrategy{}
	}
	return &Engine{store: st, strategy: strategy, now: time.Now}
}

// Score evaluates one prospect and appends a DynamicScore for it.
func (e *Engine) Score(ctx context.Context, p *model.Prospect, m *model.ScoringModel) (*model.DynamicScore, error) {
	scores, err := e.ScoreBatch(ctx, []model.Prospect{*p}, m)
	if err != nil {
		return nil, err
	}
	return &scores[0], nil
}

// ScoreBatch evaluates prospects under one model and appends their scores in
// a single write. Missing features never exclude a prospect: they are imputed
// from the population mean and recorded in the score metadata.
func (e *Engine) ScoreBatch(ctx context.Context, prospects []model.Prospect, m *model.ScoringModel) ([]model.DynamicScore, error) {
	if m == nil {
		return nil, eris.New("scoring: no active model")
	}
	if len(prospects) == 0 {
		return nil, nil
	}

	means := e.loadMeans(ctx)
	now := e.now().UTC()

	out := make([]model.DynamicScore, 0, len(prospects))
	for i := range prospects {
		score, imputed := Evaluate(e.strategy, prospects[i].Features, m.Weights, means)
		out = append(out, model.DynamicScore{
			ProspectID:   prospects[i].ID,
			ModelVersion: m.Version,
			Score:        score,
			Metadata: model.ScoreMetadata{
				Imputed:  imputed,
				Priority: PriorityFor(score),
				Strategy: e.strategy.Name(),
			},
			ComputedAt: now,
		})
	}

	if _, err := e.store.InsertScores(ctx, out); err != nil {
		return nil, eris.Wrapf(err, "scoring: persist %d scores", len(out))
	}

	zap.L().Debug("scoring: scored batch",
		zap.Int("count", len(out)),
		zap.Int("model_version", m.Version),
	)
	return out, nil
}

// Means returns the current population feature means, falling back to an
// empty map when they cannot be loaded.
func (e *Engine) Means(ctx context.Context) map[string]float64 {
	return e.loadMeans(ctx)
}

// Strategy returns the engine's scoring strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

func (e *Engine) loadMeans(ctx context.Context) map[string]float64 {
	means, err := e.store.FeatureMeans(ctx)
	if err != nil {
		zap.L().Warn("scoring: feature means unavailable, imputing default",
			zap.Float64("default", DefaultFeatureMean),
			zap.Error(err),
		)
		return map[string]float64{}
	}
	return means
}

// Evaluate scores a feature vector without persisting anything. It returns
// the score and the features that had to be imputed.
func Evaluate(s Strategy, features, weights, means map[string]float64) (float64, map[string]float64) {
	filled := make(map[string]float64, len(weights))
	var imputed map[string]float64
	for name := range weights {
		v, ok := features[name]
		if ok && !math.IsNaN(v) {
			filled[name] = v
			continue
		}
		mean, known := means[name]
		if !known || math.IsNaN(mean) {
			mean = DefaultFeatureMean
		}
		filled[name] = mean
		if imputed == nil {
			imputed = make(map[string]float64)
		}
		imputed[name] = mean
	}
	return s.Compute(filled, weights), imputed
}
