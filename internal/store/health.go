package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Health gathers pipeline counters in one round trip. Job and email counts
// cover the window since the given time; stale jobs are those processing
// since before staleBefore.
func (s *PostgresStore) Health(ctx context.Context, since, staleBefore time.Time) (HealthSnapshot, error) {
	var h HealthSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM queue_jobs WHERE status = 'failed' AND completed_at >= $1),
			(SELECT count(*) FROM queue_jobs WHERE status = 'processing' AND started_at < $2),
			(SELECT count(*) FROM queue_jobs WHERE status = 'pending'),
			(SELECT count(*) FROM outreach_emails WHERE status = 'pending' AND missing_email),
			(SELECT count(*) FROM outreach_emails WHERE sent_at >= $1),
			(SELECT count(*) FROM tracking_events WHERE event_type = 'bounce' AND occurred_at >= $1),
			(SELECT count(*) FROM outreach_emails WHERE created_at >= $1)`,
		since, staleBefore,
	).Scan(&h.FailedJobs, &h.StaleJobs, &h.PendingJobs, &h.MissingEmail, &h.Sent, &h.Bounced, &h.QueuedToday)
	return h, eris.Wrap(err, "postgres: health snapshot")
}
