package scoring

import (
	"context"

	"github.com/sells-group/prospect-outreach/internal/model"
)

type fakeStore struct {
	means     map[string]float64
	meansErr  error
	insertErr error
	inserted  []model.DynamicScore
}

func (f *fakeStore) FeatureMeans(_ context.Context) (map[string]float64, error) {
	return f.means, f.meansErr
}

func (f *fakeStore) InsertScores(_ context.Context, scores []model.DynamicScore) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, scores...)
	return int64(len(scores)), nil
}
