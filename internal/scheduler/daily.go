// Package scheduler implements the daily prospect queue: select the top
// eligible prospects under the active scoring model, draft their emails and
// hand sendable ones to the job runner.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/outreach"
	"github.com/sells-group/prospect-outreach/internal/queue"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// LeaseName guards against overlapping scheduler runs.
const LeaseName = "daily_prospect_queue"

const defaultScoreBatch = 1000

// QueueStore is the persistence the scheduler needs.
type QueueStore interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
	ActiveModel(ctx context.Context) (*model.ScoringModel, error)
	CountEmailsSince(ctx context.Context, since time.Time) (int, error)
	GetOrCreateCampaign(ctx context.Context, name string) (*model.Campaign, error)
	EligibilityStats(ctx context.Context, f store.EligibilityFilter) (store.EligibilityStats, error)
	ListUnscoredEligible(ctx context.Context, f store.EligibilityFilter) ([]model.Prospect, error)
	ListEligibleProspects(ctx context.Context, f store.EligibilityFilter) ([]model.RankedProspect, error)
	InsertEmail(ctx context.Context, e *model.OutreachEmail) error
	UpdateProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error)
	EnqueueJob(ctx context.Context, jobType string, payload any) (*model.QueueJob, error)
}

// Scorer scores prospects that have no score under the active model yet.
type Scorer interface {
	ScoreBatch(ctx context.Context, prospects []model.Prospect, m *model.ScoringModel) ([]model.DynamicScore, error)
}

// Drafter renders the email content for a prospect.
type Drafter interface {
	Compose(p model.RankedProspect, modelVersion int) (*outreach.Draft, error)
}

// Config tunes the daily queue.
type Config struct {
	DailyLimit  int
	Cooldown    time.Duration
	SenderEmail string
	LeaseTTL    time.Duration
	ScoreBatch  int
}

// DailyQueue is the daily_prospect_queue job handler.
type DailyQueue struct {
	store   QueueStore
	scorer  Scorer
	drafter Drafter
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
}

// NewDailyQueue creates a DailyQueue.
func NewDailyQueue(st QueueStore, scorer Scorer, drafter Drafter, cfg Config) *DailyQueue {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	if cfg.ScoreBatch <= 0 {
		cfg.ScoreBatch = defaultScoreBatch
	}
	return &DailyQueue{
		store:   st,
		scorer:  scorer,
		drafter: drafter,
		cfg:     cfg,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "scheduler")),
	}
}

// CampaignName is the name of the campaign that collects one day's drafts.
func CampaignName(day time.Time) string {
	return "Daily Queue - " + day.Format(time.DateOnly)
}

// HandleJob runs a daily_prospect_queue job.
func (q *DailyQueue) HandleJob(ctx context.Context, job *model.QueueJob) (any, error) {
	var p model.DailyQueuePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return nil, eris.Wrap(err, "scheduler: decode payload")
		}
	}
	return q.Run(ctx, p)
}

// Run selects, drafts and queues up to the remaining daily quota. It is safe
// to repeat: today's quota is computed from emails already created today and
// prospects with a live email are no longer eligible.
func (q *DailyQueue) Run(ctx context.Context, p model.DailyQueuePayload) (*model.DailyQueueResult, error) {
	start := q.now()
	day := start.UTC().Truncate(24 * time.Hour)
	if p.Date != "" {
		d, err := time.Parse(time.DateOnly, p.Date)
		if err != nil {
			return nil, eris.Wrapf(err, "scheduler: parse date %q", p.Date)
		}
		day = d
	}

	res := &model.DailyQueueResult{
		Date:       day.Format(time.DateOnly),
		DailyLimit: q.cfg.DailyLimit,
		Errors:     []string{},
	}
	if p.DailyLimit > 0 {
		res.DailyLimit = p.DailyLimit
	}
	defer func() { res.ExecutionMS = q.now().Sub(start).Milliseconds() }()

	lease := queue.NewLease(q.store, LeaseName, q.cfg.LeaseTTL)
	ok, err := lease.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: acquire lease")
	}
	if !ok {
		q.log.Info("scheduler: another run holds the lease, skipping")
		res.LeaseHeld = true
		return res, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			q.log.Warn("scheduler: release lease failed", zap.Error(err))
		}
	}()

	active, err := q.store.ActiveModel(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: load active model")
	}

	queuedToday, err := q.store.CountEmailsSince(ctx, day)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: count today's emails")
	}
	res.Remaining = max(res.DailyLimit-queuedToday, 0)
	if res.Remaining == 0 {
		q.log.Info("scheduler: daily limit reached", zap.Int("queued_today", queuedToday))
		return res, nil
	}

	campaign, err := q.store.GetOrCreateCampaign(ctx, CampaignName(day))
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: get campaign")
	}
	res.CampaignID = campaign.ID
	if campaign.Status != model.CampaignActive {
		q.log.Info("scheduler: campaign not active, nothing queued",
			zap.String("campaign_id", campaign.ID),
			zap.String("status", string(campaign.Status)),
		)
		res.Paused = true
		return res, nil
	}

	filter := store.EligibilityFilter{
		ModelVersion:   active.Version,
		CooldownCutoff: start.Add(-q.cfg.Cooldown),
		Limit:          q.cfg.ScoreBatch,
	}

	if err := q.scoreUnscored(ctx, filter, active, res); err != nil {
		return nil, err
	}

	stats, err := q.store.EligibilityStats(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: eligibility stats")
	}
	res.Discovered = stats.Eligible

	filter.Limit = res.Remaining
	ranked, err := q.store.ListEligibleProspects(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: list eligible prospects")
	}

	for _, rp := range ranked {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "scheduler: cancelled mid-batch")
		}
		if err := q.queueOne(ctx, rp, active.Version, campaign.ID, res); err != nil {
			return res, err
		}
	}

	q.log.Info("scheduler: daily queue complete",
		zap.String("date", res.Date),
		zap.Int("eligible", res.Discovered),
		zap.Int("scored", res.Scored),
		zap.Int("queued", res.Queued),
		zap.Int("missing_email", res.MissingEmail),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (q *DailyQueue) scoreUnscored(ctx context.Context, f store.EligibilityFilter, m *model.ScoringModel, res *model.DailyQueueResult) error {
	unscored, err := q.store.ListUnscoredEligible(ctx, f)
	if err != nil {
		return eris.Wrap(err, "scheduler: list unscored prospects")
	}
	if len(unscored) == 0 {
		return nil
	}
	scores, err := q.scorer.ScoreBatch(ctx, unscored, m)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		q.log.Warn("scheduler: scoring unscored prospects failed", zap.Error(err))
		return nil
	}
	res.Scored = len(scores)
	return nil
}

// queueOne drafts and inserts one email. Per-prospect problems are recorded
// and skipped; only store failures other than a unique conflict abort.
func (q *DailyQueue) queueOne(ctx context.Context, rp model.RankedProspect, version int, campaignID string, res *model.DailyQueueResult) error {
	log := q.log.With(zap.String("prospect_id", rp.ID))

	draft, err := q.drafter.Compose(rp, version)
	if err != nil {
		res.Skipped++
		res.Errors = append(res.Errors, err.Error())
		log.Warn("scheduler: draft failed", zap.Error(err))
		return nil
	}

	email := &model.OutreachEmail{
		ID:           uuid.NewString(),
		CampaignID:   campaignID,
		ProspectID:   rp.ID,
		Subject:      draft.Subject,
		Content:      draft.Content,
		Status:       model.EmailPending,
		MissingEmail: !rp.HasEmail(),
		SenderEmail:  q.cfg.SenderEmail,
		Metadata:     draft.Metadata,
		CreatedAt:    q.now().UTC(),
	}
	if rp.HasEmail() {
		addr := *rp.ContactEmail
		email.ProspectEmail = &addr
	}

	if err := q.store.InsertEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrConflict) {
			res.Skipped++
			log.Info("scheduler: prospect already has a live email, skipping")
			return nil
		}
		return eris.Wrapf(err, "scheduler: insert email for prospect %s", rp.ID)
	}

	advanced, err := q.store.UpdateProspectStatus(ctx, rp.ID, model.ProspectQueued)
	switch {
	case err != nil:
		res.Errors = append(res.Errors, err.Error())
		log.Warn("scheduler: mark prospect queued failed", zap.Error(err))
	case !advanced:
		log.Warn("scheduler: prospect status changed concurrently")
	}

	res.Queued++
	if email.MissingEmail {
		res.MissingEmail++
		log.Info("scheduler: queued without address, awaiting operator")
		return nil
	}

	if _, err := q.store.EnqueueJob(ctx, model.JobTypeSendEmail, model.SendEmailPayload{EmailID: email.ID}); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("enqueue send for email %s: %v", email.ID, err))
		log.Warn("scheduler: enqueue send failed", zap.String("email_id", email.ID), zap.Error(err))
	}
	return nil
}
