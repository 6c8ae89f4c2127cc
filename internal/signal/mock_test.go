package signal

import (
	"context"

	"github.com/sells-group/prospect-outreach/internal/model"
)

type fakeSource struct {
	prospects []model.Prospect
	err       error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Discover(_ context.Context, _ Criteria) ([]model.Prospect, error) {
	return f.prospects, f.err
}

type fakeIngestStore struct {
	active    *model.ScoringModel
	activeErr error
	upserted  []model.Prospect
	upsertErr error
}

func (f *fakeIngestStore) UpsertProspects(_ context.Context, ps []model.Prospect) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted = append(f.upserted, ps...)
	return int64(len(ps)), nil
}

func (f *fakeIngestStore) ListProspectsByWebsite(_ context.Context, websites []string) ([]model.Prospect, error) {
	var out []model.Prospect
	for _, w := range websites {
		for _, p := range f.upserted {
			if p.Website == w {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeIngestStore) ActiveModel(_ context.Context) (*model.ScoringModel, error) {
	return f.active, f.activeErr
}

type fakeScorer struct {
	calls int
	err   error
}

func (f *fakeScorer) ScoreBatch(_ context.Context, ps []model.Prospect, m *model.ScoringModel) ([]model.DynamicScore, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.DynamicScore, len(ps))
	for i, p := range ps {
		out[i] = model.DynamicScore{ProspectID: p.ID, ModelVersion: m.Version, Score: 50}
	}
	return out, nil
}
