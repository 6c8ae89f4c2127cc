package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/db"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s: begin", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: %s: commit", op)
}

const schema = `
CREATE TABLE IF NOT EXISTS prospects (
	id                TEXT PRIMARY KEY,
	business_name     TEXT NOT NULL,
	website           TEXT NOT NULL UNIQUE,
	contact_email     TEXT,
	industry          TEXT NOT NULL DEFAULT '',
	region            TEXT NOT NULL DEFAULT '',
	language          TEXT NOT NULL DEFAULT 'en',
	employee_count    INTEGER,
	features          JSONB NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'new',
	source            TEXT NOT NULL DEFAULT '',
	discovered_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_contacted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_prospects_status ON prospects(status, discovered_at);

CREATE TABLE IF NOT EXISTS scoring_models (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL UNIQUE,
	weights    JSONB NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_scoring_models_one_active ON scoring_models(active) WHERE active;

CREATE TABLE IF NOT EXISTS dynamic_scores (
	prospect_id   TEXT NOT NULL REFERENCES prospects(id),
	model_version INTEGER NOT NULL,
	score         DOUBLE PRECISION NOT NULL CHECK (score >= 0 AND score <= 100),
	metadata      JSONB NOT NULL DEFAULT '{}',
	computed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (prospect_id, model_version)
);

CREATE TABLE IF NOT EXISTS adaptive_weights (
	weight_name      TEXT PRIMARY KEY,
	value            DOUBLE PRECISION NOT NULL,
	min_value        DOUBLE PRECISION NOT NULL,
	max_value        DOUBLE PRECISION NOT NULL,
	last_adjusted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (value >= min_value AND value <= max_value)
);

CREATE TABLE IF NOT EXISTS conversion_patterns (
	dimension      TEXT NOT NULL,
	bucket         TEXT NOT NULL,
	sample_size    INTEGER NOT NULL,
	conversions    INTEGER NOT NULL,
	observed_rate  DOUBLE PRECISION NOT NULL,
	predicted_rate DOUBLE PRECISION NOT NULL,
	computed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dimension, bucket)
);

CREATE TABLE IF NOT EXISTS optimization_log (
	id           TEXT PRIMARY KEY,
	weight_name  TEXT NOT NULL,
	old_value    DOUBLE PRECISION NOT NULL,
	new_value    DOUBLE PRECISION NOT NULL,
	reason       TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outreach_emails (
	id                  TEXT PRIMARY KEY,
	campaign_id         TEXT NOT NULL REFERENCES campaigns(id),
	prospect_id         TEXT NOT NULL REFERENCES prospects(id),
	prospect_email      TEXT,
	subject             TEXT NOT NULL,
	content             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending',
	missing_email       BOOLEAN NOT NULL DEFAULT false,
	held                BOOLEAN NOT NULL DEFAULT false,
	sender_email        TEXT NOT NULL,
	attempt_count       INTEGER NOT NULL DEFAULT 0,
	provider_message_id TEXT UNIQUE,
	last_error          TEXT,
	metadata            JSONB NOT NULL DEFAULT '{}',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at             TIMESTAMPTZ,
	CHECK (NOT missing_email OR prospect_email IS NULL)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_outreach_emails_live_prospect
	ON outreach_emails(prospect_id) WHERE status IN ('pending', 'processing', 'sent', 'opened');
CREATE INDEX IF NOT EXISTS idx_outreach_emails_created_at ON outreach_emails(created_at);
CREATE INDEX IF NOT EXISTS idx_outreach_emails_status ON outreach_emails(status);

CREATE TABLE IF NOT EXISTS tracking_events (
	id                  TEXT PRIMARY KEY,
	email_id            TEXT NOT NULL REFERENCES outreach_emails(id),
	event_type          TEXT NOT NULL,
	occurred_at         TIMESTAMPTZ NOT NULL,
	raw_notification_id TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS queue_jobs (
	id           TEXT PRIMARY KEY,
	job_type     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	payload      JSONB NOT NULL DEFAULT '{}',
	result       JSONB,
	error        TEXT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	run_after    TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_queue_jobs_pending ON queue_jobs(status, run_after, created_at);
CREATE INDEX IF NOT EXISTS idx_queue_jobs_type ON queue_jobs(job_type, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_jobs_daily_date ON queue_jobs((payload->>'date'))
	WHERE job_type = 'daily_prospect_queue';

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`
