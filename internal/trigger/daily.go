package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// Enqueuer creates jobs. queue.Runner implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any) (*model.QueueJob, error)
}

// Daily fires the daily_prospect_queue job at most once per UTC day.
type Daily struct {
	guard    Guard
	enqueuer Enqueuer
	now      func() time.Time
}

// NewDaily creates a Daily trigger.
func NewDaily(g Guard, e Enqueuer) *Daily {
	return &Daily{guard: g, enqueuer: e, now: time.Now}
}

// Key is the guard key for a UTC day.
func Key(day time.Time) string {
	return "daily_queue:" + day.UTC().Format("2006-01-02")
}

// Fire enqueues today's daily queue job. It returns created=false with the
// zero job when today's job was already triggered.
func (d *Daily) Fire(ctx context.Context, dailyLimit int) (job *model.QueueJob, created bool, err error) {
	now := d.now().UTC()
	key := Key(now)

	ok, err := d.guard.TryOnce(ctx, key, 25*time.Hour)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		zap.L().Info("trigger: daily queue already fired", zap.String("key", key))
		return nil, false, nil
	}

	job, err = d.enqueuer.Enqueue(ctx, model.JobTypeDailyQueue, model.DailyQueuePayload{
		Date:       now.Format("2006-01-02"),
		DailyLimit: dailyLimit,
	})
	if errors.Is(err, store.ErrConflict) {
		// Another trigger won the race past a non-atomic guard.
		zap.L().Info("trigger: daily queue already enqueued", zap.String("key", key))
		return nil, false, nil
	}
	if err != nil {
		if ferr := d.guard.Forget(context.WithoutCancel(ctx), key); ferr != nil {
			zap.L().Warn("trigger: release guard failed", zap.String("key", key), zap.Error(ferr))
		}
		return nil, false, eris.Wrap(err, "trigger: enqueue daily queue")
	}
	zap.L().Info("trigger: daily queue enqueued", zap.String("job_id", job.ID), zap.String("key", key))
	return job, true, nil
}
