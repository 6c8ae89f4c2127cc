// Package queue is the job runner: a polling worker pool over the queue_jobs
// table. Claims are atomic conditional updates in the store, so any number
// of workers and processes may run concurrently.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/resilience"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// ErrUnknownJobType is returned for job types with no registered handler.
var ErrUnknownJobType = eris.New("queue: unknown job type")

// Handler executes one claimed job and returns its JSON-serializable result.
type Handler interface {
	HandleJob(ctx context.Context, job *model.QueueJob) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *model.QueueJob) (any, error)

// HandleJob implements Handler.
func (f HandlerFunc) HandleJob(ctx context.Context, job *model.QueueJob) (any, error) {
	return f(ctx, job)
}

// JobStore is the persistence the runner needs.
type JobStore interface {
	EnqueueJob(ctx context.Context, jobType string, payload any) (*model.QueueJob, error)
	ClaimJob(ctx context.Context, jobTypes []string) (*model.QueueJob, error)
	ClaimJobByID(ctx context.Context, id string) (*model.QueueJob, error)
	CompleteJob(ctx context.Context, id string, result any) error
	RetryJob(ctx context.Context, id, reason string, runAfter time.Time) error
	FailJob(ctx context.Context, id, reason string) error
	GetJob(ctx context.Context, id string) (*model.QueueJob, error)
	ReclaimStaleJobs(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error)
	ReclaimStaleEmails(ctx context.Context, olderThan time.Time) (int64, error)
	CleanupJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config tunes the runner.
type Config struct {
	Workers       int
	MaxRetries    int
	PollInterval  time.Duration
	StaleTimeout  time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
	Backoff       resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 15 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	return c
}

// Runner claims and executes jobs.
type Runner struct {
	store    JobStore
	cfg      Config
	mu       sync.RWMutex
	handlers map[string]Handler
	now      func() time.Time
	log      *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(st JobStore, cfg Config) *Runner {
	return &Runner{
		store:    st,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]Handler),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "queue")),
	}
}

// Register binds a handler to a job type, replacing any previous one.
func (r *Runner) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// JobTypes lists the registered job types in sorted order.
func (r *Runner) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) handler(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Enqueue persists a new pending job of a registered type.
func (r *Runner) Enqueue(ctx context.Context, jobType string, payload any) (*model.QueueJob, error) {
	if _, ok := r.handler(jobType); !ok {
		return nil, eris.Wrapf(ErrUnknownJobType, "queue: enqueue %q", jobType)
	}
	job, err := r.store.EnqueueJob(ctx, jobType, payload)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: enqueue %s", jobType)
	}
	r.log.Debug("queue: job enqueued", zap.String("job_id", job.ID), zap.String("job_type", jobType))
	return job, nil
}

// ProcessOne claims and runs the next runnable job of any registered type.
// It reports false when no job was available.
func (r *Runner) ProcessOne(ctx context.Context) (bool, error) {
	job, err := r.store.ClaimJob(ctx, r.JobTypes())
	if err != nil {
		return false, eris.Wrap(err, "queue: claim job")
	}
	if job == nil {
		return false, nil
	}
	return true, r.execute(ctx, job)
}

// ProcessJob claims a specific pending job and runs it inline, returning the
// job's final state. store.ErrNotFound means the job is not pending.
func (r *Runner) ProcessJob(ctx context.Context, id string) (*model.QueueJob, error) {
	job, err := r.store.ClaimJobByID(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: claim job %s", id)
	}
	if err := r.execute(ctx, job); err != nil {
		return nil, err
	}
	return r.store.GetJob(ctx, id)
}

// execute runs a claimed job and records its outcome. The returned error is
// only for failures to record the outcome; handler errors are persisted on
// the job.
func (r *Runner) execute(ctx context.Context, job *model.QueueJob) error {
	log := r.log.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.JobType),
		zap.Int("attempt", job.Attempts),
	)

	h, ok := r.handler(job.JobType)
	if !ok {
		log.Error("queue: no handler registered")
		return r.recorded(log, r.store.FailJob(ctx, job.ID, fmt.Sprintf("no handler for job type %q", job.JobType)), "fail")
	}

	start := r.now()
	result, err := r.run(ctx, h, job)
	if err == nil {
		if cerr := r.recorded(log, r.store.CompleteJob(ctx, job.ID, result), "complete"); cerr != nil {
			return cerr
		}
		log.Info("queue: job completed", zap.Duration("elapsed", r.now().Sub(start)))
		return nil
	}

	reason := err.Error()
	if resilience.IsPermanent(err) || job.Attempts >= r.cfg.MaxRetries {
		log.Warn("queue: job failed", zap.Error(err))
		return r.recorded(log, r.store.FailJob(ctx, job.ID, reason), "fail")
	}

	runAfter := r.now().Add(resilience.Backoff(job.Attempts-1, r.cfg.Backoff))
	log.Warn("queue: job will be retried", zap.Time("run_after", runAfter), zap.Error(err))
	return r.recorded(log, r.store.RetryJob(ctx, job.ID, reason, runAfter), "retry")
}

// recorded wraps an outcome write error. A lost claim is logged and dropped:
// the stale sweep already handed the job to another attempt, so this run's
// work happened twice.
func (r *Runner) recorded(log *zap.Logger, err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrClaimLost):
		log.Warn("queue: claim lost before outcome was recorded, job ran twice", zap.String("outcome", op))
		return nil
	default:
		return eris.Wrapf(err, "queue: %s job", op)
	}
}

// run calls the handler, turning a panic into a job error.
func (r *Runner) run(ctx context.Context, h Handler, job *model.QueueJob) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("queue: handler panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			err = eris.Errorf("queue: handler panic: %v", p)
		}
	}()
	result, err = h.HandleJob(ctx, job)
	if err == nil && result != nil {
		if _, merr := json.Marshal(result); merr != nil {
			return nil, resilience.NewPermanentError(eris.Wrap(merr, "queue: encode result"), 0)
		}
	}
	return result, err
}

// Sweep returns jobs and emails stuck in processing past the stale timeout
// to pending. Jobs already at the retry limit are failed instead.
func (r *Runner) Sweep(ctx context.Context) (jobs, emails int64, err error) {
	cutoff := r.now().Add(-r.cfg.StaleTimeout)
	jobs, err = r.store.ReclaimStaleJobs(ctx, cutoff, r.cfg.MaxRetries)
	if err != nil {
		return 0, 0, eris.Wrap(err, "queue: reclaim stale jobs")
	}
	emails, err = r.store.ReclaimStaleEmails(ctx, cutoff)
	if err != nil {
		return jobs, 0, eris.Wrap(err, "queue: reclaim stale emails")
	}
	if jobs > 0 || emails > 0 {
		r.log.Warn("queue: reclaimed stale work", zap.Int64("jobs", jobs), zap.Int64("emails", emails))
	}
	return jobs, emails, nil
}

// Cleanup deletes completed and failed jobs older than the retention window.
func (r *Runner) Cleanup(ctx context.Context) (int64, error) {
	n, err := r.store.CleanupJobs(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, eris.Wrap(err, "queue: cleanup jobs")
	}
	if n > 0 {
		r.log.Info("queue: cleaned up old jobs", zap.Int64("deleted", n))
	}
	return n, nil
}

// Start runs the worker pool, the stale sweeper and the retention cleanup
// until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("queue: starting runner",
		zap.Int("workers", r.cfg.Workers),
		zap.Strings("job_types", r.JobTypes()),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			r.work(gctx, i)
			return nil
		})
	}
	g.Go(func() error {
		r.every(gctx, r.cfg.SweepInterval, func(ctx context.Context) error {
			_, _, err := r.Sweep(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		r.every(gctx, time.Hour, func(ctx context.Context) error {
			_, err := r.Cleanup(ctx)
			return err
		})
		return nil
	})

	err := g.Wait()
	r.log.Info("queue: runner stopped")
	return err
}

func (r *Runner) work(ctx context.Context, id int) {
	log := r.log.With(zap.Int("worker", id))
	for ctx.Err() == nil {
		processed, err := r.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("queue: process job", zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

func (r *Runner) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("queue: periodic task", zap.Error(err))
			}
		}
	}
}
