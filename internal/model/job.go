package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the QueueJob lifecycle state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job types handled by the runner.
const (
	JobTypeDailyQueue = "daily_prospect_queue"
	JobTypeSendEmail  = "send_email"
	JobTypeLearner    = "feedback_learner"
	JobTypeIngest     = "ingest_prospects"
)

// QueueJob is a persisted unit of background work.
type QueueJob struct {
	ID          string          `json:"id" db:"id"`
	JobType     string          `json:"job_type" db:"job_type"`
	Status      JobStatus       `json:"status" db:"status"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Result      json.RawMessage `json:"result,omitempty" db:"result"`
	Error       *string         `json:"error,omitempty" db:"error"`
	Attempts    int             `json:"attempts" db:"attempts"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// SendEmailPayload is the payload of a send_email job.
type SendEmailPayload struct {
	EmailID string `json:"email_id"`
}

// DailyQueuePayload is the payload of a daily_prospect_queue job.
type DailyQueuePayload struct {
	Date       string `json:"date"`
	DailyLimit int    `json:"daily_limit,omitempty"`
}

// DailyQueueResult summarizes one scheduler run.
type DailyQueueResult struct {
	Date         string   `json:"date"`
	CampaignID   string   `json:"campaign_id,omitempty"`
	DailyLimit   int      `json:"daily_limit"`
	Remaining    int      `json:"remaining"`
	Discovered   int      `json:"prospects_discovered"`
	Scored       int      `json:"prospects_scored"`
	Queued       int      `json:"prospects_queued"`
	MissingEmail int      `json:"missing_email"`
	Skipped      int      `json:"skipped"`
	Paused       bool     `json:"paused,omitempty"`
	LeaseHeld    bool     `json:"lease_held,omitempty"`
	Errors       []string `json:"errors"`
	ExecutionMS  int64    `json:"execution_ms"`
}

// LearnerResult summarizes one feedback learner run.
type LearnerResult struct {
	Buckets      int      `json:"buckets"`
	Adjustments  int      `json:"adjustments"`
	Drift        float64  `json:"drift"`
	NewVersion   int      `json:"new_version,omitempty"`
	SkippedLease bool     `json:"skipped_lease,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// JobCounts is the per-status job tally.
type JobCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
