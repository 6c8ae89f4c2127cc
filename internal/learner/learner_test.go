package learner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-outreach/internal/model"
)

func testConfig() Config {
	return Config{
		LearningRate:   0.1,
		MaxStep:        0.05,
		MinEvidence:    20,
		DriftThreshold: 0.1,
		DaysBack:       90,
	}
}

func newTestLearner(st *fakeStore, cfg Config) *Learner {
	l := New(st, nil, cfg)
	l.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestComputeDelta(t *testing.T) {
	// Bucket error +0.08, learning rate 0.1, correlation 0.5.
	assert.InDelta(t, 0.004, ComputeDelta(0.1, 0.08, 0.5, 0.05), 1e-12)
	assert.InDelta(t, 0.002, ComputeDelta(0.1, 0.08, 0.5, 0.002), 1e-12)
	assert.InDelta(t, -0.002, ComputeDelta(0.1, -0.08, 0.5, 0.002), 1e-12)
	assert.InDelta(t, 0.4, ComputeDelta(1, 0.8, 0.5, 0), 1e-12)
	assert.Zero(t, ComputeDelta(0.1, 0.08, 0, 0.05))
}

func TestCorrelation(t *testing.T) {
	assert.InDelta(t, 0.6, Correlation(0.8, 0.5), 1e-12)
	assert.InDelta(t, -0.6, Correlation(0.2, 0.5), 1e-12)
	assert.InDelta(t, 1, Correlation(1, 0.25), 1e-12)
	assert.InDelta(t, -1, Correlation(0, 0.25), 1e-12)
	assert.Zero(t, Correlation(1, 1))
	assert.Zero(t, Correlation(0, 0))
}

func TestDrift(t *testing.T) {
	assert.InDelta(t, 0.3, Drift(
		map[string]float64{"a": 0.5, "b": 0.5},
		map[string]float64{"a": 0.6, "b": 0.4, "c": 0.1},
	), 1e-12)
	assert.Zero(t, Drift(nil, nil))
}

func TestRun_AdjustsCorrelatedWeight(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0, 1)
	st.samples = twoMarketSamples()
	l := newTestLearner(st, testConfig())

	res, err := l.Run(context.Background())
	require.NoError(t, err)

	// industry, region, size and score buckets all reach 20 samples.
	assert.Equal(t, 6, res.Buckets)
	assert.Len(t, st.patterns, 6)
	assert.Equal(t, 1, res.Adjustments)

	// plumbing: corr +0.8, error -0.2; dental: corr -0.8, error -0.3.
	// Each is counted once by industry and once by score range.
	assert.InDelta(t, 0.516, st.value("site_age"), 1e-9)
	assert.InDelta(t, 0.5, st.value("no_chat"), 1e-12)
	assert.InDelta(t, 0.016, res.Drift, 1e-9)
	assert.Zero(t, res.NewVersion)
	assert.Empty(t, st.versions)

	assert.Equal(t, time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC), st.since)
	assert.Empty(t, st.leases)
}

func TestRun_PatternsCarryObservedAndPredicted(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0, 1)
	st.samples = twoMarketSamples()

	_, err := newTestLearner(st, testConfig()).Run(context.Background())
	require.NoError(t, err)

	byKey := map[string]model.ConversionPattern{}
	for _, p := range st.patterns {
		byKey[p.FeatureBucket()] = p
	}
	plumbing := byKey["industry:plumbing"]
	assert.Equal(t, 20, plumbing.SampleSize)
	assert.Equal(t, 10, plumbing.Conversions)
	assert.InDelta(t, 0.5, plumbing.ObservedRate, 1e-12)
	assert.InDelta(t, 0.7, plumbing.PredictedRate, 1e-9)

	region := byKey["region:qc"]
	assert.Equal(t, 40, region.SampleSize)
	assert.InDelta(t, 0.25, region.ObservedRate, 1e-12)
	assert.Contains(t, byKey, "size:unknown")
	assert.Contains(t, byKey, "score:70-85")
	assert.Contains(t, byKey, "score:30-50")
}

func TestRun_MaxStepBoundsTotal(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0, 1)
	st.samples = twoMarketSamples()
	cfg := testConfig()
	cfg.MaxStep = 0.01

	_, err := newTestLearner(st, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.51, st.value("site_age"), 1e-9)
}

func TestRun_WeightsStayWithinBounds(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0.2, 0.53)
	st.samples = twoMarketSamples()
	cfg := testConfig()
	cfg.DriftThreshold = 10
	l := newTestLearner(st, cfg)

	for i := 0; i < 5; i++ {
		_, err := l.Run(context.Background())
		require.NoError(t, err)
		v := st.value("site_age")
		assert.LessOrEqual(t, v, 0.53)
		assert.GreaterOrEqual(t, v, 0.2)
	}
	assert.InDelta(t, 0.53, st.value("site_age"), 1e-9)
}

func TestRun_DriftCreatesModelVersion(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0, 1)
	st.samples = twoMarketSamples()
	cfg := testConfig()
	cfg.DriftThreshold = 0.01

	res, err := newTestLearner(st, cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.NewVersion)
	require.Len(t, st.versions, 1)
	assert.InDelta(t, 0.516, st.versions[0]["site_age"], 1e-9)
	assert.InDelta(t, 0.5, st.versions[0]["no_chat"], 1e-12)
}

func TestRun_InsufficientEvidence(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5}, 0, 1)
	st.samples = twoMarketSamples()
	cfg := testConfig()
	cfg.MinEvidence = 50

	res, err := newTestLearner(st, cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Buckets)
	assert.Zero(t, res.Adjustments)
	assert.Equal(t, 1, st.replaced)
	assert.Empty(t, st.patterns)
	assert.InDelta(t, 0.5, st.value("site_age"), 1e-12)
}

func TestRun_LostRaceIsNoted(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0, 1)
	st.samples = twoMarketSamples()
	st.rejectApply = true

	res, err := newTestLearner(st, testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Adjustments)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "concurrent")
	assert.InDelta(t, 0.5, st.value("site_age"), 1e-12)
}

func TestRun_LeaseHeld(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5}, 0, 1)
	st.leases[LeaseName] = "other-worker"

	res, err := newTestLearner(st, testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.SkippedLease)
	assert.Zero(t, st.replaced)
	assert.Equal(t, "other-worker", st.leases[LeaseName])
}

func TestRun_NoActiveModelFailsAndReleasesLease(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5}, 0, 1)
	st.activeErr = errors.New("store unreachable")

	_, err := newTestLearner(st, testConfig()).Run(context.Background())
	assert.ErrorContains(t, err, "store unreachable")
	assert.Empty(t, st.leases)
}

func TestRun_NoWeights(t *testing.T) {
	st := newFakeStore(nil, 0, 1)

	res, err := newTestLearner(st, testConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"no adaptive weights seeded"}, res.Notes)
}

func TestHandleJob(t *testing.T) {
	st := newFakeStore(map[string]float64{"site_age": 0.5, "no_chat": 0.5}, 0, 1)
	st.samples = twoMarketSamples()

	out, err := newTestLearner(st, testConfig()).HandleJob(context.Background(), &model.QueueJob{JobType: model.JobTypeLearner})
	require.NoError(t, err)
	res, ok := out.(*model.LearnerResult)
	require.True(t, ok)
	assert.Equal(t, 1, res.Adjustments)
}
