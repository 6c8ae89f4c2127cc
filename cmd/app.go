package main

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/db"
	"github.com/sells-group/prospect-outreach/internal/learner"
	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/monitoring"
	"github.com/sells-group/prospect-outreach/internal/outreach"
	"github.com/sells-group/prospect-outreach/internal/queue"
	"github.com/sells-group/prospect-outreach/internal/resilience"
	"github.com/sells-group/prospect-outreach/internal/scheduler"
	"github.com/sells-group/prospect-outreach/internal/scoring"
	"github.com/sells-group/prospect-outreach/internal/signal"
	"github.com/sells-group/prospect-outreach/internal/store"
	"github.com/sells-group/prospect-outreach/internal/tracking"
	"github.com/sells-group/prospect-outreach/internal/trigger"
)

// appEnv holds the store, the job runner with every handler registered, and
// the components the serve and worker commands expose.
type appEnv struct {
	Store   *store.PostgresStore
	Engine  *scoring.Engine
	Runner  *queue.Runner
	Queue   *scheduler.DailyQueue
	Learner *learner.Learner
	Tracker *tracking.Tracker
	Daily   *trigger.Daily
	Checker *monitoring.Checker

	// Gmail is nil unless the gmail provider is configured.
	Gmail *tracking.GmailWatcher

	closers []func()
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initStore connects to Postgres and applies the schema.
func initStore(ctx context.Context) (*store.PostgresStore, error) {
	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	if err != nil {
		return nil, eris.Wrap(err, "connect store")
	}
	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// bootstrapModel seeds the adaptive weights and creates scoring model v1 when
// no model is active yet.
func bootstrapModel(ctx context.Context, st *store.PostgresStore) (*model.ScoringModel, error) {
	weights := cfg.Scoring.Weights
	if err := scoring.ValidateWeights(weights, cfg.Scoring.WeightMin, cfg.Scoring.WeightMax); err != nil {
		return nil, eris.Wrap(err, "scoring weights")
	}
	if err := st.SeedWeights(ctx, weights, cfg.Scoring.WeightMin, cfg.Scoring.WeightMax); err != nil {
		return nil, err
	}

	m, err := st.ActiveModel(ctx)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	m, err = st.CreateModelVersion(ctx, weights)
	if errors.Is(err, store.ErrConflict) {
		// Another process created v1 first.
		return st.ActiveModel(ctx)
	}
	if err != nil {
		return nil, err
	}
	zap.L().Info("created initial scoring model", zap.Int("version", m.Version))
	return m, nil
}

// initProvider builds the configured email provider. The Gmail provider is
// also returned separately since it doubles as the tracking mailbox.
func initProvider(ctx context.Context) (outreach.Provider, *outreach.GmailProvider, error) {
	switch cfg.Outreach.Provider {
	case "gmail":
		gp, err := outreach.NewGmailProvider(ctx, cfg.Gmail)
		if err != nil {
			return nil, nil, err
		}
		return gp, gp, nil
	case "ses":
		sp, err := outreach.NewSESProvider(ctx, cfg.SES)
		if err != nil {
			return nil, nil, err
		}
		return sp, nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported email provider: %s", cfg.Outreach.Provider)
	}
}

// initApp validates config for mode, opens the store and wires every
// component. A provider failure is fatal for the worker; serve keeps running
// and fails send_email jobs it is asked to run inline. Callers should defer
// env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}
	env.closers = append(env.closers, func() { _ = st.Close() })

	if _, err := bootstrapModel(ctx, st); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "bootstrap scoring model")
	}

	env.Engine = scoring.NewEngine(st, nil)

	templates, err := outreach.LoadTemplates(cfg.Outreach.TemplatesPath)
	if err != nil {
		env.Close()
		return nil, err
	}
	composer := outreach.NewComposer(templates, cfg.Outreach.SenderName)

	env.Runner = queue.NewRunner(st, queue.Config{
		Workers:       cfg.Runner.Workers,
		MaxRetries:    cfg.Runner.MaxRetries,
		PollInterval:  time.Duration(cfg.Runner.PollIntervalSecs) * time.Second,
		StaleTimeout:  staleTimeout(),
		SweepInterval: time.Duration(cfg.Runner.SweepIntervalSecs) * time.Second,
		Retention:     time.Duration(cfg.Runner.RetentionDays) * 24 * time.Hour,
		Backoff:       resilience.FromRetryConfig(cfg.Runner.MaxRetries, cfg.Runner.BackoffInitialSecs, cfg.Runner.BackoffMaxSecs),
	})

	env.Queue = scheduler.NewDailyQueue(st, env.Engine, composer, scheduler.Config{
		DailyLimit:  cfg.Outreach.DailyLimit,
		Cooldown:    cfg.Outreach.Cooldown(),
		SenderEmail: cfg.Outreach.SenderEmail,
	})
	env.Runner.Register(model.JobTypeDailyQueue, env.Queue)

	env.Learner = learner.New(st, nil, learner.Config{
		LearningRate:   cfg.Learner.LearningRate,
		MaxStep:        cfg.Learner.MaxWeightStep,
		MinEvidence:    cfg.Learner.MinEvidenceSampleSize,
		DriftThreshold: cfg.Learner.DriftThreshold,
		DaysBack:       cfg.Learner.DaysBack,
		LeaseTTL:       time.Duration(cfg.Learner.LeaseTTLMins) * time.Minute,
	})
	env.Runner.Register(model.JobTypeLearner, env.Learner)

	env.Tracker = tracking.NewTracker(st)

	provider, gmailProvider, err := initProvider(ctx)
	switch {
	case err == nil:
		sender := outreach.NewSender(provider, st, outreach.SenderConfig{
			FromEmail:   cfg.Outreach.SenderEmail,
			FromName:    cfg.Outreach.SenderName,
			ReplyTo:     cfg.Outreach.ReplyTo,
			RatePerSec:  cfg.Outreach.SendRatePerSec,
			Timeout:     cfg.Outreach.SendTimeout(),
			MaxAttempts: cfg.Runner.MaxRetries,
			Breaker:     resilience.FromCircuitConfig(cfg.Outreach.BreakerThreshold, cfg.Outreach.BreakerResetSecs),
		})
		env.Runner.Register(model.JobTypeSendEmail, sender)
		if gmailProvider != nil {
			env.Gmail = tracking.NewGmailWatcher(gmailProvider, env.Tracker)
		}
	case mode == "worker":
		env.Close()
		return nil, eris.Wrap(err, "init email provider")
	default:
		zap.L().Warn("email provider unavailable, send_email jobs will fail", zap.Error(err))
		env.Runner.Register(model.JobTypeSendEmail, unavailableProvider(err))
	}

	if src, closeSrc, err := initSource(); err == nil {
		env.closers = append(env.closers, closeSrc)
		env.Runner.Register(model.JobTypeIngest, signal.NewIngester(src, st, env.Engine))
	} else if cfg.Signal.Path != "" {
		zap.L().Warn("signal source unavailable, ingest jobs disabled", zap.Error(err))
	}

	guard, closeGuard := initGuard(ctx, st)
	env.closers = append(env.closers, closeGuard)
	env.Daily = trigger.NewDaily(guard, env.Runner)

	env.Checker = monitoring.NewChecker(
		monitoring.NewCollector(st, staleTimeout()),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)

	return env, nil
}

// initGuard uses Redis for the daily trigger dedupe when configured and
// falls back to the job table otherwise.
func initGuard(ctx context.Context, st *store.PostgresStore) (trigger.Guard, func()) {
	if cfg.Redis.URL != "" {
		rg, err := trigger.NewRedisGuardFromURL(ctx, cfg.Redis.URL)
		if err == nil {
			return rg, func() { _ = rg.Close() }
		}
		zap.L().Warn("redis unavailable, falling back to job table guard", zap.Error(err))
	}
	return trigger.NewStoreGuard(st, model.JobTypeDailyQueue), func() {}
}

// initSource opens the configured signal source.
func initSource() (signal.Source, func(), error) {
	if cfg.Signal.Path == "" {
		return nil, nil, eris.New("signal.path is not set")
	}
	switch cfg.Signal.Driver {
	case "xlsx":
		return signal.NewXLSXSource(cfg.Signal.Path, cfg.Signal.Sheet), func() {}, nil
	case "sqlite":
		src, err := signal.OpenSQLiteSource(cfg.Signal.Path)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	default:
		return nil, nil, eris.Errorf("unsupported signal driver: %s", cfg.Signal.Driver)
	}
}

func unavailableProvider(cause error) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, job *model.QueueJob) (any, error) {
		return nil, resilience.NewPermanentError(eris.Wrap(cause, "no email provider"), 0)
	})
}

// openStore validates the base config and opens the store for commands that
// need nothing else.
func openStore(ctx context.Context) (*store.PostgresStore, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return initStore(ctx)
}

func staleTimeout() time.Duration {
	return time.Duration(cfg.Runner.StaleTimeoutMins) * time.Minute
}
