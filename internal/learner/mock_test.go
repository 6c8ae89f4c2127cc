package learner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

type fakeStore struct {
	mu sync.Mutex

	active   *model.ScoringModel
	weights  map[string]*model.AdaptiveWeight
	samples  []model.ConversionSample
	patterns []model.ConversionPattern
	versions []map[string]float64
	leases   map[string]string

	activeErr   error
	rejectApply bool
	since       time.Time
	replaced    int
}

func newFakeStore(weights map[string]float64, min, max float64) *fakeStore {
	f := &fakeStore{
		active:  &model.ScoringModel{ID: "m1", Version: 1, Weights: map[string]float64{}, Active: true},
		weights: map[string]*model.AdaptiveWeight{},
		leases:  map[string]string{},
	}
	for name, v := range weights {
		f.weights[name] = &model.AdaptiveWeight{Name: name, Value: v, Min: min, Max: max}
		f.active.Weights[name] = v
	}
	return f
}

func (f *fakeStore) AcquireLease(_ context.Context, name, owner string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.leases[name]; ok && cur != owner {
		return false, nil
	}
	f.leases[name] = owner
	return true, nil
}

func (f *fakeStore) ReleaseLease(_ context.Context, name, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leases[name] == owner {
		delete(f.leases, name)
	}
	return nil
}

func (f *fakeStore) ActiveModel(_ context.Context) (*model.ScoringModel, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	cp := *f.active
	return &cp, nil
}

func (f *fakeStore) ListWeights(_ context.Context) ([]model.AdaptiveWeight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.AdaptiveWeight, 0, len(f.weights))
	for _, w := range f.weights {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) ConversionSamples(_ context.Context, since time.Time, _ int) ([]model.ConversionSample, error) {
	f.since = since
	return f.samples, nil
}

func (f *fakeStore) ApplyWeightAdjustments(_ context.Context, adj []store.WeightAdjustment) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectApply {
		return 0, nil
	}
	n := 0
	for _, a := range adj {
		w, ok := f.weights[a.Name]
		if !ok || w.Value != a.Old || a.New < w.Min || a.New > w.Max {
			continue
		}
		w.Value = a.New
		n++
	}
	return n, nil
}

func (f *fakeStore) ReplaceConversionPatterns(_ context.Context, patterns []model.ConversionPattern) error {
	f.patterns = patterns
	f.replaced++
	return nil
}

func (f *fakeStore) CreateModelVersion(_ context.Context, weights map[string]float64) (*model.ScoringModel, error) {
	if weights == nil {
		return nil, eris.New("nil weights")
	}
	f.versions = append(f.versions, weights)
	f.active = &model.ScoringModel{Version: f.active.Version + 1, Weights: weights, Active: true}
	return f.active, nil
}

func (f *fakeStore) value(name string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weights[name].Value
}

// twoMarketSamples builds 20 plumbing prospects (old sites, half converted,
// score 70) and 20 dental prospects (new sites, none converted, score 30).
func twoMarketSamples() []model.ConversionSample {
	var out []model.ConversionSample
	for i := 0; i < 20; i++ {
		out = append(out, model.ConversionSample{
			ProspectID: "plumb", Industry: "Plumbing", Region: "QC", Score: 70,
			Features:  map[string]float64{"site_age": 0.9, "no_chat": 0.5},
			Converted: i%2 == 0,
		})
	}
	for i := 0; i < 20; i++ {
		out = append(out, model.ConversionSample{
			ProspectID: "dent", Industry: "Dental", Region: "QC", Score: 30,
			Features: map[string]float64{"site_age": 0.1, "no_chat": 0.5},
		})
	}
	return out
}
