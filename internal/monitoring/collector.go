// Package monitoring watches outreach pipeline health and posts threshold
// breaches to an alert webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Jobs.
	FailedJobs  int `json:"failed_jobs"`
	StaleJobs   int `json:"stale_jobs"`
	PendingJobs int `json:"pending_jobs"`

	// Emails (within lookback window, except the backlog).
	MissingEmail  int     `json:"missing_email_backlog"`
	EmailsCreated int     `json:"emails_created"`
	Sent          int     `json:"sent"`
	Bounced       int     `json:"bounced"`
	BounceRate    float64 `json:"bounce_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// HealthSource is the store query the collector reads.
type HealthSource interface {
	Health(ctx context.Context, since, staleBefore time.Time) (store.HealthSnapshot, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store        HealthSource
	staleTimeout time.Duration
	now          func() time.Time
}

// NewCollector creates a metrics collector. Jobs processing for longer than
// staleTimeout count as stale.
func NewCollector(st HealthSource, staleTimeout time.Duration) *Collector {
	if staleTimeout <= 0 {
		staleTimeout = 15 * time.Minute
	}
	return &Collector{store: st, staleTimeout: staleTimeout, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.now().UTC()
	h, err := c.store.Health(ctx,
		now.Add(-time.Duration(lookbackHours)*time.Hour),
		now.Add(-c.staleTimeout),
	)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect health")
	}

	snap := &MetricsSnapshot{
		FailedJobs:    h.FailedJobs,
		StaleJobs:     h.StaleJobs,
		PendingJobs:   h.PendingJobs,
		MissingEmail:  h.MissingEmail,
		EmailsCreated: h.QueuedToday,
		Sent:          h.Sent,
		Bounced:       h.Bounced,
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	if h.Sent > 0 {
		snap.BounceRate = float64(h.Bounced) / float64(h.Sent)
	}
	return snap, nil
}
