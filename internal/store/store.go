// Package store is the candidate store: the single owner of prospects,
// scores, weights, outreach emails, tracking events, jobs and leases.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist or is not in the
	// state the caller required.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a unique constraint rejected the write.
	ErrConflict = eris.New("store: conflict")
	// ErrClaimLost is returned when a job outcome could not be recorded
	// because the job is no longer processing, typically after the stale
	// sweep reclaimed it.
	ErrClaimLost = eris.New("store: job claim lost")
)

// EligibilityFilter selects prospects for the daily queue.
type EligibilityFilter struct {
	ModelVersion   int
	CooldownCutoff time.Time // prospects contacted after this are excluded
	Limit          int
}

// EligibilityStats counts eligible prospects with and without a score
// under the filter's model version.
type EligibilityStats struct {
	Eligible int
	Scored   int
}

// ReviewFilter selects drafts for operator review.
type ReviewFilter struct {
	MissingOnly bool
	CampaignID  string
	Limit       int
}

// WeightAdjustment is a conditional weight update. It applies only while the
// stored value still equals Old.
type WeightAdjustment struct {
	Name   string
	Old    float64
	New    float64
	Reason string
}

// HealthSnapshot is the raw pipeline health data used by monitoring.
type HealthSnapshot struct {
	FailedJobs   int
	StaleJobs    int
	PendingJobs  int
	MissingEmail int
	Sent         int
	Bounced      int
	QueuedToday  int
}

// Store is the full candidate store surface. Consumers declare the narrower
// interface they need.
type Store interface {
	// Prospects
	UpsertProspects(ctx context.Context, prospects []model.Prospect) (int64, error)
	ListProspectsByWebsite(ctx context.Context, websites []string) ([]model.Prospect, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	ListEligibleProspects(ctx context.Context, f EligibilityFilter) ([]model.RankedProspect, error)
	ListUnscoredEligible(ctx context.Context, f EligibilityFilter) ([]model.Prospect, error)
	EligibilityStats(ctx context.Context, f EligibilityFilter) (EligibilityStats, error)
	UpdateProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error)

	// Models and scores
	ActiveModel(ctx context.Context) (*model.ScoringModel, error)
	CreateModelVersion(ctx context.Context, weights map[string]float64) (*model.ScoringModel, error)
	InsertScores(ctx context.Context, scores []model.DynamicScore) (int64, error)
	FeatureMeans(ctx context.Context) (map[string]float64, error)

	// Learning
	SeedWeights(ctx context.Context, weights map[string]float64, min, max float64) error
	ListWeights(ctx context.Context) ([]model.AdaptiveWeight, error)
	ApplyWeightAdjustments(ctx context.Context, adj []WeightAdjustment) (int, error)
	ReplaceConversionPatterns(ctx context.Context, patterns []model.ConversionPattern) error
	ConversionSamples(ctx context.Context, since time.Time, modelVersion int) ([]model.ConversionSample, error)
	ListOptimizationLog(ctx context.Context, limit int) ([]model.OptimizationLogEntry, error)

	// Campaigns
	GetOrCreateCampaign(ctx context.Context, name string) (*model.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
	CloseDrainedCampaigns(ctx context.Context, createdBefore time.Time) (int64, error)

	// Emails
	InsertEmail(ctx context.Context, e *model.OutreachEmail) error
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	GetEmailByProviderID(ctx context.Context, providerID string) (*model.OutreachEmail, error)
	CountEmailsSince(ctx context.Context, since time.Time) (int, error)
	ListPendingEmails(ctx context.Context, f ReviewFilter) ([]model.OutreachEmail, error)
	ClaimEmailForSend(ctx context.Context, id string) (*model.OutreachEmail, error)
	MarkEmailSent(ctx context.Context, id, providerMessageID string) error
	ReleaseEmail(ctx context.Context, id, reason string) error
	FailEmail(ctx context.Context, id, reason string) error
	TransitionEmail(ctx context.Context, id string, to model.EmailStatus) (bool, error)
	SetEmailAddress(ctx context.Context, id, address string) error
	SetEmailHold(ctx context.Context, id string, held bool) error
	ReclaimStaleEmails(ctx context.Context, olderThan time.Time) (int64, error)

	// Tracking
	InsertTrackingEvent(ctx context.Context, ev *model.TrackingEvent) (bool, error)

	// Jobs
	EnqueueJob(ctx context.Context, jobType string, payload any) (*model.QueueJob, error)
	ClaimJob(ctx context.Context, jobTypes []string) (*model.QueueJob, error)
	ClaimJobByID(ctx context.Context, id string) (*model.QueueJob, error)
	CompleteJob(ctx context.Context, id string, result any) error
	RetryJob(ctx context.Context, id, reason string, runAfter time.Time) error
	FailJob(ctx context.Context, id, reason string) error
	GetJob(ctx context.Context, id string) (*model.QueueJob, error)
	NextPendingJob(ctx context.Context, jobType string) (*model.QueueJob, error)
	ReclaimStaleJobs(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error)
	CleanupJobs(ctx context.Context, olderThan time.Time) (int64, error)
	CountJobs(ctx context.Context) (model.JobCounts, error)
	HasJobSince(ctx context.Context, jobType string, since time.Time) (bool, error)

	// Leases
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error

	// Health
	Health(ctx context.Context, since, staleBefore time.Time) (HealthSnapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, format, args...)
	}
	return eris.Wrapf(err, format, args...)
}
