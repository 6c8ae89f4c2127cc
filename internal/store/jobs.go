package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
)

const jobColumns = `id, job_type, status, payload, result, error, attempts, created_at, started_at, completed_at`

func scanJob(row scanner) (*model.QueueJob, error) {
	var (
		j       model.QueueJob
		status  string
		payload []byte
		result  []byte
	)
	if err := row.Scan(&j.ID, &j.JobType, &status, &payload, &result, &j.Error,
		&j.Attempts, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.Payload = payload
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}

// EnqueueJob inserts a pending job with a JSON-encoded payload.
func (s *PostgresStore) EnqueueJob(ctx context.Context, jobType string, payload any) (*model.QueueJob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: encode %s payload", jobType)
	}
	j, err := scanJob(s.pool.QueryRow(ctx,
		`INSERT INTO queue_jobs (id, job_type, status, payload, attempts, run_after, created_at)
		VALUES ($1, $2, 'pending', $3, 0, now(), now())
		RETURNING `+jobColumns,
		uuid.NewString(), jobType, raw,
	))
	if err != nil {
		if isUniqueViolation(err) {
			// Only one daily queue job may exist per payload date.
			return nil, eris.Wrapf(ErrConflict, "postgres: enqueue %s", jobType)
		}
		return nil, eris.Wrapf(err, "postgres: enqueue %s", jobType)
	}
	return j, nil
}

// ClaimJob claims the oldest runnable pending job of the given types (any
// type when empty). Concurrent claimers never receive the same job. It
// returns nil when nothing is runnable.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobTypes []string) (*model.QueueJob, error) {
	if jobTypes == nil {
		jobTypes = []string{}
	}
	var out *model.QueueJob
	err := s.withTx(ctx, "claim job", func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT id FROM queue_jobs
			WHERE status = 'pending' AND run_after <= now()
				AND (cardinality($1::text[]) = 0 OR job_type = ANY($1))
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			jobTypes,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "postgres: select claimable job")
		}

		j, err := scanJob(tx.QueryRow(ctx,
			`UPDATE queue_jobs SET status = 'processing', started_at = now(), attempts = attempts + 1
			WHERE id = $1
			RETURNING `+jobColumns,
			id,
		))
		if err != nil {
			return eris.Wrapf(err, "postgres: mark job %s processing", id)
		}
		out = j
		return nil
	})
	return out, err
}

// ClaimJobByID claims one specific job. It returns ErrNotFound unless the
// job exists and is pending.
func (s *PostgresStore) ClaimJobByID(ctx context.Context, id string) (*model.QueueJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE queue_jobs SET status = 'processing', started_at = now(), attempts = attempts + 1
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns,
		id,
	))
	if err != nil {
		return nil, notFound(err, "postgres: claim job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode job %s result", id)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET status = 'completed', result = $2, error = NULL, completed_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, raw,
	)
	return claimHeld(tag, err, "complete", id)
}

// RetryJob returns a processing job to pending, runnable after runAfter.
func (s *PostgresStore) RetryJob(ctx context.Context, id, reason string, runAfter time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET status = 'pending', error = $2, run_after = $3, started_at = NULL
		WHERE id = $1 AND status = 'processing'`,
		id, reason, runAfter,
	)
	return claimHeld(tag, err, "retry", id)
}

func (s *PostgresStore) FailJob(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET status = 'failed', error = $2, completed_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, reason,
	)
	return claimHeld(tag, err, "fail", id)
}

// claimHeld turns an outcome update that matched no processing row into
// ErrClaimLost.
func claimHeld(tag pgconn.CommandTag, err error, op, id string) error {
	if err != nil {
		return eris.Wrapf(err, "postgres: %s job %s", op, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrClaimLost, "postgres: %s job %s", op, id)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.QueueJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get job %s", id)
	}
	return j, nil
}

// NextPendingJob peeks at the oldest pending job of a type without claiming it.
func (s *PostgresStore) NextPendingJob(ctx context.Context, jobType string) (*model.QueueJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM queue_jobs
		WHERE job_type = $1 AND status = 'pending'
		ORDER BY created_at LIMIT 1`, jobType))
	if err != nil {
		return nil, notFound(err, "postgres: next pending %s", jobType)
	}
	return j, nil
}

// ReclaimStaleJobs returns jobs stuck in processing since before olderThan to
// pending, or fails them once they have used maxAttempts.
func (s *PostgresStore) ReclaimStaleJobs(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queue_jobs SET
			status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
			completed_at = CASE WHEN attempts >= $2 THEN now() ELSE NULL END,
			started_at = NULL,
			error = 'reclaimed after stale processing'
		WHERE status = 'processing' AND started_at < $1`,
		olderThan, maxAttempts,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclaim stale jobs")
	}
	return tag.RowsAffected(), nil
}

// CleanupJobs deletes finished jobs completed before olderThan.
func (s *PostgresStore) CleanupJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM queue_jobs WHERE status IN ('completed', 'failed') AND completed_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: cleanup jobs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountJobs(ctx context.Context) (model.JobCounts, error) {
	var c model.JobCounts
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM queue_jobs GROUP BY status`)
	if err != nil {
		return c, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return c, eris.Wrap(err, "postgres: scan job count")
		}
		switch model.JobStatus(status) {
		case model.JobPending:
			c.Pending = n
		case model.JobProcessing:
			c.Processing = n
		case model.JobCompleted:
			c.Completed = n
		case model.JobFailed:
			c.Failed = n
		}
	}
	return c, eris.Wrap(rows.Err(), "postgres: count jobs")
}

// HasJobSince reports whether a job of the type was created at or after since.
func (s *PostgresStore) HasJobSince(ctx context.Context, jobType string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_jobs WHERE job_type = $1 AND created_at >= $2)`,
		jobType, since,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: has %s job", jobType)
}
