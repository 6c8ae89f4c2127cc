package api

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
	"github.com/sells-group/prospect-outreach/internal/tracking"
)

type fakeStore struct {
	pingErr   error
	jobs      map[string]*model.QueueJob
	emails    map[string]*model.OutreachEmail
	campaigns map[string]*model.Campaign
	counts    model.JobCounts
	filter    store.ReviewFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[string]*model.QueueJob{},
		emails:    map[string]*model.OutreachEmail{},
		campaigns: map[string]*model.Campaign{},
	}
}

func notFound(what string) error { return eris.Wrap(store.ErrNotFound, what) }

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetJob(_ context.Context, id string) (*model.QueueJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, notFound("job")
	}
	return j, nil
}

func (f *fakeStore) NextPendingJob(_ context.Context, jobType string) (*model.QueueJob, error) {
	for _, j := range f.jobs {
		if j.JobType == jobType && j.Status == model.JobPending {
			return j, nil
		}
	}
	return nil, notFound("next job")
}

func (f *fakeStore) CountJobs(context.Context) (model.JobCounts, error) { return f.counts, nil }

func (f *fakeStore) ListPendingEmails(_ context.Context, rf store.ReviewFilter) ([]model.OutreachEmail, error) {
	f.filter = rf
	var out []model.OutreachEmail
	for _, e := range f.emails {
		if e.Status == model.EmailPending && (!rf.MissingOnly || e.MissingEmail) && (rf.CampaignID == "" || e.CampaignID == rf.CampaignID) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetEmail(_ context.Context, id string) (*model.OutreachEmail, error) {
	e, ok := f.emails[id]
	if !ok {
		return nil, notFound("email")
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) SetEmailAddress(_ context.Context, id, address string) error {
	e, ok := f.emails[id]
	if !ok || e.Status != model.EmailPending {
		return notFound("pending email")
	}
	e.ProspectEmail = &address
	e.MissingEmail = false
	return nil
}

func (f *fakeStore) SetEmailHold(_ context.Context, id string, held bool) error {
	e, ok := f.emails[id]
	if !ok || e.Status != model.EmailPending {
		return notFound("pending email")
	}
	e.Held = held
	return nil
}

func (f *fakeStore) GetCampaign(_ context.Context, id string) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, notFound("campaign")
	}
	return c, nil
}

func (f *fakeStore) SetCampaignStatus(_ context.Context, id string, status model.CampaignStatus) error {
	c, ok := f.campaigns[id]
	if !ok || c.Status == model.CampaignClosed {
		return notFound("campaign")
	}
	c.Status = status
	return nil
}

type fakeJobs struct {
	enqueued []model.SendEmailPayload
	ran      []string
	runErr   error
	st       *fakeStore
}

func (f *fakeJobs) Enqueue(_ context.Context, jobType string, payload any) (*model.QueueJob, error) {
	p, ok := payload.(model.SendEmailPayload)
	if !ok {
		return nil, errors.New("unexpected payload")
	}
	f.enqueued = append(f.enqueued, p)
	return &model.QueueJob{ID: "job-send", JobType: jobType, Status: model.JobPending}, nil
}

func (f *fakeJobs) ProcessJob(_ context.Context, id string) (*model.QueueJob, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	j, ok := f.st.jobs[id]
	if !ok || j.Status != model.JobPending {
		return nil, notFound("claim job")
	}
	f.ran = append(f.ran, id)
	j.Status = model.JobCompleted
	return j, nil
}

type fakeDaily struct {
	fired  int
	limits []int
	err    error
}

func (f *fakeDaily) Fire(_ context.Context, dailyLimit int) (*model.QueueJob, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	f.limits = append(f.limits, dailyLimit)
	f.fired++
	if f.fired > 1 {
		return nil, false, nil
	}
	return &model.QueueJob{ID: "job-daily", JobType: model.JobTypeDailyQueue, Status: model.JobPending}, true, nil
}

type fakeGmail struct {
	pushes []*tracking.GmailPush
	err    error
}

func (f *fakeGmail) HandlePush(_ context.Context, push *tracking.GmailPush) ([]*tracking.Outcome, error) {
	f.pushes = append(f.pushes, push)
	if f.err != nil {
		return nil, f.err
	}
	return []*tracking.Outcome{{NotificationID: "n1", Applied: true}}, nil
}

type fakeTracker struct {
	notes []tracking.Notification
}

func (f *fakeTracker) ProcessAll(_ context.Context, ns []tracking.Notification) ([]*tracking.Outcome, int) {
	f.notes = append(f.notes, ns...)
	outs := make([]*tracking.Outcome, len(ns))
	for i, n := range ns {
		outs[i] = &tracking.Outcome{NotificationID: n.ID}
	}
	return outs, 0
}
