// Package learner adjusts adaptive scoring weights from observed conversion
// outcomes and versions the scoring model when the weights drift far enough.
package learner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/queue"
	"github.com/sells-group/prospect-outreach/internal/scoring"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// LeaseName serializes learner runs across processes.
const LeaseName = "feedback_learner"

const epsilon = 1e-9

// Store is the persistence the learner needs.
type Store interface {
	queue.LeaseStore
	ActiveModel(ctx context.Context) (*model.ScoringModel, error)
	ListWeights(ctx context.Context) ([]model.AdaptiveWeight, error)
	ConversionSamples(ctx context.Context, since time.Time, modelVersion int) ([]model.ConversionSample, error)
	ApplyWeightAdjustments(ctx context.Context, adj []store.WeightAdjustment) (int, error)
	ReplaceConversionPatterns(ctx context.Context, patterns []model.ConversionPattern) error
	CreateModelVersion(ctx context.Context, weights map[string]float64) (*model.ScoringModel, error)
}

// Config tunes a learner run.
type Config struct {
	LearningRate   float64
	MaxStep        float64
	MinEvidence    int
	DriftThreshold float64
	DaysBack       int
	LeaseTTL       time.Duration
}

// Learner runs the feedback loop.
type Learner struct {
	store    Store
	strategy scoring.Strategy
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

// New creates a Learner. A nil strategy means scoring.LinearStrategy.
func New(st Store, strategy scoring.Strategy, cfg Config) *Learner {
	if strategy == nil {
		strategy = scoring.LinearStrategy{}
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 90
	}
	if cfg.MinEvidence < 1 {
		cfg.MinEvidence = 1
	}
	return &Learner{
		store:    st,
		strategy: strategy,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "learner")),
		now:      time.Now,
	}
}

// ComputeDelta returns learningRate × error × correlation bounded to
// ±maxStep. A non-positive maxStep disables the bound.
func ComputeDelta(learningRate, bucketError, correlation, maxStep float64) float64 {
	d := learningRate * bucketError * correlation
	if maxStep > 0 {
		d = math.Max(-maxStep, math.Min(maxStep, d))
	}
	return d
}

// Correlation is how far a bucket's mean feature value sits from the
// population mean, normalised by the largest deviation possible on that
// side so the result lies in [-1, 1]. Features are in [0, 1].
func Correlation(bucketMean, populationMean float64) float64 {
	diff := bucketMean - populationMean
	var span float64
	if diff >= 0 {
		span = 1 - populationMean
	} else {
		span = populationMean
	}
	if span <= epsilon {
		return 0
	}
	return math.Max(-1, math.Min(1, diff/span))
}

// HandleJob runs the learner as a feedback_learner job.
func (l *Learner) HandleJob(ctx context.Context, _ *model.QueueJob) (any, error) {
	return l.Run(ctx)
}

// Run executes one learning pass under the learner lease. When another run
// holds the lease it returns immediately with SkippedLease set.
func (l *Learner) Run(ctx context.Context) (*model.LearnerResult, error) {
	res := &model.LearnerResult{}
	ran, err := queue.WithLease(ctx, l.store, LeaseName, l.cfg.LeaseTTL, func(ctx context.Context) error {
		return l.run(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		res.SkippedLease = true
		l.log.Info("learner: another run holds the lease")
	}
	return res, nil
}

type contribution struct {
	bucket      Bucket
	bucketError float64
	correlation float64
	delta       float64
}

func (l *Learner) run(ctx context.Context, res *model.LearnerResult) error {
	active, err := l.store.ActiveModel(ctx)
	if err != nil {
		return eris.Wrap(err, "learner: active model")
	}
	weights, err := l.store.ListWeights(ctx)
	if err != nil {
		return eris.Wrap(err, "learner: list weights")
	}
	if len(weights) == 0 {
		res.Notes = append(res.Notes, "no adaptive weights seeded")
		return nil
	}

	since := l.now().UTC().AddDate(0, 0, -l.cfg.DaysBack)
	samples, err := l.store.ConversionSamples(ctx, since, active.Version)
	if err != nil {
		return eris.Wrap(err, "learner: conversion samples")
	}

	current := make(map[string]float64, len(weights))
	for _, w := range weights {
		current[w.Name] = w.Value
	}
	popMeans := featureMeans(samples, current)

	var (
		patterns      []model.ConversionPattern
		contributions = map[string][]contribution{}
		computedAt    = l.now().UTC()
	)
	for _, b := range Bucketize(samples) {
		if len(b.Samples) < l.cfg.MinEvidence {
			continue
		}
		predicted := l.predictedRate(b, current, popMeans)
		observed := b.ObservedRate()
		bucketErr := observed - predicted
		patterns = append(patterns, model.ConversionPattern{
			Dimension:     b.Dimension,
			Bucket:        b.Name,
			SampleSize:    len(b.Samples),
			Conversions:   b.Conversions(),
			ObservedRate:  observed,
			PredictedRate: predicted,
			ComputedAt:    computedAt,
		})

		bucketMeans := featureMeans(b.Samples, current)
		for name := range current {
			bm, ok := bucketMeans[name]
			if !ok {
				continue
			}
			corr := Correlation(bm, popMeans[name])
			d := ComputeDelta(l.cfg.LearningRate, bucketErr, corr, l.cfg.MaxStep)
			if math.Abs(d) < epsilon {
				continue
			}
			contributions[name] = append(contributions[name], contribution{
				bucket: b, bucketError: bucketErr, correlation: corr, delta: d,
			})
		}
	}
	res.Buckets = len(patterns)

	if err := l.store.ReplaceConversionPatterns(ctx, patterns); err != nil {
		return eris.Wrap(err, "learner: replace conversion patterns")
	}

	adj := l.adjustments(weights, contributions)
	applied, err := l.store.ApplyWeightAdjustments(ctx, adj)
	if err != nil {
		return eris.Wrap(err, "learner: apply adjustments")
	}
	res.Adjustments = applied
	if applied < len(adj) {
		res.Notes = append(res.Notes, fmt.Sprintf("%d adjustments lost to concurrent writes", len(adj)-applied))
	}

	after, err := l.store.ListWeights(ctx)
	if err != nil {
		return eris.Wrap(err, "learner: reload weights")
	}
	latest := make(map[string]float64, len(after))
	for _, w := range after {
		latest[w.Name] = w.Value
	}
	res.Drift = Drift(active.Weights, latest)

	if res.Drift > l.cfg.DriftThreshold {
		m, err := l.store.CreateModelVersion(ctx, latest)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				res.Notes = append(res.Notes, "model version created concurrently")
			} else {
				return eris.Wrap(err, "learner: create model version")
			}
		} else {
			res.NewVersion = m.Version
		}
	}

	l.log.Info("learner: run complete",
		zap.Int("samples", len(samples)),
		zap.Int("buckets", res.Buckets),
		zap.Int("adjustments", res.Adjustments),
		zap.Float64("drift", res.Drift),
		zap.Int("new_version", res.NewVersion),
	)
	return nil
}

// adjustments folds per-bucket contributions into one bounded adjustment
// per weight.
func (l *Learner) adjustments(weights []model.AdaptiveWeight, contributions map[string][]contribution) []store.WeightAdjustment {
	var out []store.WeightAdjustment
	for _, w := range weights {
		cs := contributions[w.Name]
		if len(cs) == 0 {
			continue
		}
		var total float64
		lead := cs[0]
		for _, c := range cs {
			total += c.delta
			if math.Abs(c.delta) > math.Abs(lead.delta) {
				lead = c
			}
		}
		if l.cfg.MaxStep > 0 {
			total = math.Max(-l.cfg.MaxStep, math.Min(l.cfg.MaxStep, total))
		}
		next := w.Clamp(w.Value + total)
		if math.Abs(next-w.Value) < epsilon {
			continue
		}
		out = append(out, store.WeightAdjustment{
			Name: w.Name,
			Old:  w.Value,
			New:  next,
			Reason: fmt.Sprintf("bucket %s n=%d error=%+.4f corr=%+.3f delta=%+.5f buckets=%d",
				lead.bucket.Key(), len(lead.bucket.Samples), lead.bucketError, lead.correlation, total, len(cs)),
		})
	}
	return out
}

// predictedRate re-scores the bucket's samples under the current weights.
func (l *Learner) predictedRate(b Bucket, weights, means map[string]float64) float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b.Samples {
		score, _ := scoring.Evaluate(l.strategy, s.Features, weights, means)
		sum += score
	}
	return sum / float64(len(b.Samples)) / 100
}

// Drift is the summed absolute difference between two weight vectors over
// the union of their names.
func Drift(base, next map[string]float64) float64 {
	names := make(map[string]struct{}, len(base)+len(next))
	for k := range base {
		names[k] = struct{}{}
	}
	for k := range next {
		names[k] = struct{}{}
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var d float64
	for _, k := range keys {
		d += math.Abs(next[k] - base[k])
	}
	return d
}

// featureMeans averages each named feature over the samples that carry it.
func featureMeans(samples []model.ConversionSample, names map[string]float64) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, s := range samples {
		for name := range names {
			v, ok := s.Features[name]
			if !ok || math.IsNaN(v) {
				continue
			}
			sums[name] += v
			counts[name]++
		}
	}
	out := make(map[string]float64, len(sums))
	for name, sum := range sums {
		out[name] = sum / float64(counts[name])
	}
	return out
}
