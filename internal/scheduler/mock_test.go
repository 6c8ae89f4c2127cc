package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/outreach"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// fakeStore models the eligibility rules of the Postgres store in memory.
type fakeStore struct {
	mu sync.Mutex

	model      *model.ScoringModel
	prospects  map[string]*model.Prospect
	scores     map[string]float64 // prospect id -> score under model
	emails     []*model.OutreachEmail
	campaigns  map[string]*model.Campaign
	jobs       []*model.QueueJob
	leaseOwner string

	insertErr error
	leaseBusy bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		model:     &model.ScoringModel{ID: "m-1", Version: 3, Active: true},
		prospects: map[string]*model.Prospect{},
		scores:    map[string]float64{},
		campaigns: map[string]*model.Campaign{},
	}
}

func (f *fakeStore) addProspect(p model.Prospect, score *float64) {
	if p.Status == "" {
		p.Status = model.ProspectNew
	}
	f.prospects[p.ID] = &p
	if score != nil {
		f.scores[p.ID] = *score
	}
}

func (f *fakeStore) AcquireLease(_ context.Context, _, owner string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseBusy || (f.leaseOwner != "" && f.leaseOwner != owner) {
		return false, nil
	}
	f.leaseOwner = owner
	return true, nil
}

func (f *fakeStore) ReleaseLease(_ context.Context, _, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseOwner == owner {
		f.leaseOwner = ""
	}
	return nil
}

func (f *fakeStore) ActiveModel(_ context.Context) (*model.ScoringModel, error) {
	if f.model == nil {
		return nil, eris.Wrap(store.ErrNotFound, "postgres: active model")
	}
	return f.model, nil
}

func (f *fakeStore) CountEmailsSince(_ context.Context, since time.Time) (int, error) {
	n := 0
	for _, e := range f.emails {
		if !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetOrCreateCampaign(_ context.Context, name string) (*model.Campaign, error) {
	c, ok := f.campaigns[name]
	if !ok {
		c = &model.Campaign{ID: "camp-" + name, Name: name, Status: model.CampaignActive}
		f.campaigns[name] = c
	}
	return c, nil
}

func (f *fakeStore) hasLiveEmail(prospectID string) bool {
	for _, e := range f.emails {
		if e.ProspectID != prospectID {
			continue
		}
		for _, s := range model.NonTerminal {
			if e.Status == s {
				return true
			}
		}
	}
	return false
}

func (f *fakeStore) eligible(p *model.Prospect, cutoff time.Time) bool {
	switch p.Status {
	case model.ProspectNew:
	case model.ProspectRejected:
		if p.LastContactedAt == nil || !p.LastContactedAt.Before(cutoff) {
			return false
		}
	default:
		return false
	}
	if p.LastContactedAt != nil && !p.LastContactedAt.Before(cutoff) {
		return false
	}
	return !f.hasLiveEmail(p.ID)
}

func (f *fakeStore) EligibilityStats(_ context.Context, flt store.EligibilityFilter) (store.EligibilityStats, error) {
	var st store.EligibilityStats
	for _, p := range f.prospects {
		if !f.eligible(p, flt.CooldownCutoff) {
			continue
		}
		st.Eligible++
		if _, ok := f.scores[p.ID]; ok {
			st.Scored++
		}
	}
	return st, nil
}

func (f *fakeStore) ListUnscoredEligible(_ context.Context, flt store.EligibilityFilter) ([]model.Prospect, error) {
	var out []model.Prospect
	for _, p := range f.prospects {
		if _, ok := f.scores[p.ID]; !ok && f.eligible(p, flt.CooldownCutoff) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.Before(out[j].DiscoveredAt) })
	if len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeStore) ListEligibleProspects(_ context.Context, flt store.EligibilityFilter) ([]model.RankedProspect, error) {
	var out []model.RankedProspect
	for _, p := range f.prospects {
		score, ok := f.scores[p.ID]
		if ok && f.eligible(p, flt.CooldownCutoff) {
			out = append(out, model.RankedProspect{Prospect: *p, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	if len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeStore) InsertEmail(_ context.Context, e *model.OutreachEmail) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if f.hasLiveEmail(e.ProspectID) {
		return eris.Wrap(store.ErrConflict, "postgres: insert email")
	}
	cp := *e
	f.emails = append(f.emails, &cp)
	return nil
}

func (f *fakeStore) UpdateProspectStatus(_ context.Context, id string, to model.ProspectStatus) (bool, error) {
	p, ok := f.prospects[id]
	if !ok || !model.CanAdvanceProspect(p.Status, to) {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (f *fakeStore) EnqueueJob(_ context.Context, jobType string, payload any) (*model.QueueJob, error) {
	j := &model.QueueJob{ID: "job-" + jobType, JobType: jobType, Status: model.JobPending}
	if p, ok := payload.(model.SendEmailPayload); ok {
		j.ID = "job-" + p.EmailID
	}
	f.jobs = append(f.jobs, j)
	return j, nil
}

type fakeScorer struct {
	store *fakeStore
	score float64
	err   error
}

func (s *fakeScorer) ScoreBatch(_ context.Context, ps []model.Prospect, m *model.ScoringModel) ([]model.DynamicScore, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.DynamicScore, len(ps))
	for i, p := range ps {
		s.store.scores[p.ID] = s.score
		out[i] = model.DynamicScore{ProspectID: p.ID, ModelVersion: m.Version, Score: s.score}
	}
	return out, nil
}

type failingDrafter struct {
	inner   Drafter
	failIDs map[string]bool
}

func (d *failingDrafter) Compose(p model.RankedProspect, v int) (*outreach.Draft, error) {
	if d.failIDs[p.ID] {
		return nil, eris.Errorf("compose: prospect %s: bad template variable", p.ID)
	}
	return d.inner.Compose(p, v)
}
