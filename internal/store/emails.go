package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
)

const emailColumns = `id, campaign_id, prospect_id, prospect_email, subject, content, status,
	missing_email, held, sender_email, attempt_count, provider_message_id, last_error,
	metadata, created_at, sent_at`

func scanEmail(row scanner) (*model.OutreachEmail, error) {
	var (
		e      model.OutreachEmail
		status string
		meta   []byte
	)
	if err := row.Scan(
		&e.ID, &e.CampaignID, &e.ProspectID, &e.ProspectEmail, &e.Subject, &e.Content, &status,
		&e.MissingEmail, &e.Held, &e.SenderEmail, &e.AttemptCount, &e.ProviderMessageID, &e.LastError,
		&meta, &e.CreatedAt, &e.SentAt,
	); err != nil {
		return nil, err
	}
	e.Status = model.EmailStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, eris.Wrapf(err, "decode metadata for email %s", e.ID)
		}
	}
	return &e, nil
}

// InsertEmail persists a new pending draft. A second live email for the same
// prospect fails with ErrConflict.
func (s *PostgresStore) InsertEmail(ctx context.Context, e *model.OutreachEmail) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.EmailPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode metadata for email %s", e.ID)
	}
	if e.Metadata == nil {
		meta = []byte(`{}`)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO outreach_emails (id, campaign_id, prospect_id, prospect_email, subject, content,
			status, missing_email, held, sender_email, attempt_count, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $12)`,
		e.ID, e.CampaignID, e.ProspectID, e.ProspectEmail, e.Subject, e.Content,
		string(e.Status), e.MissingEmail, e.Held, e.SenderEmail, meta, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "postgres: live email exists for prospect %s", e.ProspectID)
		}
		return eris.Wrapf(err, "postgres: insert email for prospect %s", e.ProspectID)
	}
	return nil
}

func (s *PostgresStore) GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM outreach_emails WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get email %s", id)
	}
	return e, nil
}

func (s *PostgresStore) GetEmailByProviderID(ctx context.Context, providerID string) (*model.OutreachEmail, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM outreach_emails WHERE provider_message_id = $1`, providerID))
	if err != nil {
		return nil, notFound(err, "postgres: get email by provider id %s", providerID)
	}
	return e, nil
}

// CountEmailsSince counts emails created at or after since, in any status.
func (s *PostgresStore) CountEmailsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM outreach_emails WHERE created_at >= $1`, since).Scan(&n)
	return n, eris.Wrap(err, "postgres: count emails")
}

// ListPendingEmails returns pending drafts for operator review.
func (s *PostgresStore) ListPendingEmails(ctx context.Context, f ReviewFilter) ([]model.OutreachEmail, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailColumns+` FROM outreach_emails
		WHERE status = 'pending'
		AND ($1 = false OR missing_email)
		AND ($2 = '' OR campaign_id = $2)
		ORDER BY created_at ASC
		LIMIT $3`,
		f.MissingOnly, f.CampaignID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending emails")
	}
	defer rows.Close()

	var out []model.OutreachEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending emails")
}

// ClaimEmailForSend atomically moves a sendable pending email in an active
// campaign to processing. It returns ErrNotFound when any precondition fails.
func (s *PostgresStore) ClaimEmailForSend(ctx context.Context, id string) (*model.OutreachEmail, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx,
		`UPDATE outreach_emails e SET status = 'processing', attempt_count = e.attempt_count + 1, updated_at = now()
		FROM campaigns c
		WHERE e.id = $1 AND c.id = e.campaign_id AND c.status = 'active'
			AND e.status = 'pending' AND NOT e.missing_email AND NOT e.held
			AND e.prospect_email IS NOT NULL AND e.prospect_email <> ''
		RETURNING e.id, e.campaign_id, e.prospect_id, e.prospect_email, e.subject, e.content, e.status,
			e.missing_email, e.held, e.sender_email, e.attempt_count, e.provider_message_id, e.last_error,
			e.metadata, e.created_at, e.sent_at`,
		id,
	))
	if err != nil {
		return nil, notFound(err, "postgres: claim email %s", id)
	}
	return e, nil
}

// MarkEmailSent records a successful hand-off and marks the prospect
// contacted. An engagement event may land before the confirmation, so an
// email already opened, replied or bounced keeps its status but still gets
// its provider message id and sent_at.
func (s *PostgresStore) MarkEmailSent(ctx context.Context, id, providerMessageID string) error {
	return s.withTx(ctx, "mark email sent", func(tx pgx.Tx) error {
		var prospectID string
		err := tx.QueryRow(ctx,
			`UPDATE outreach_emails SET status = CASE WHEN status = 'processing' THEN 'sent' ELSE status END,
				provider_message_id = $2, sent_at = COALESCE(sent_at, now()),
				last_error = NULL, updated_at = now()
			WHERE id = $1 AND status IN ('processing', 'opened', 'replied', 'bounced')
			RETURNING prospect_id`,
			id, providerMessageID,
		).Scan(&prospectID)
		if err != nil {
			return notFound(err, "postgres: mark email %s sent", id)
		}
		_, err = tx.Exec(ctx,
			`UPDATE prospects SET status = CASE WHEN status IN ('new', 'queued') THEN 'contacted' ELSE status END,
				last_contacted_at = now()
			WHERE id = $1`,
			prospectID,
		)
		return eris.Wrapf(err, "postgres: mark prospect %s contacted", prospectID)
	})
}

// ReleaseEmail returns a processing email to pending after a retryable failure.
func (s *PostgresStore) ReleaseEmail(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = 'pending', last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, reason,
	)
	return eris.Wrapf(err, "postgres: release email %s", id)
}

// FailEmail terminally fails an email and rejects its prospect so the
// cooldown applies before it is considered again.
func (s *PostgresStore) FailEmail(ctx context.Context, id, reason string) error {
	return s.withTx(ctx, "fail email", func(tx pgx.Tx) error {
		var prospectID string
		err := tx.QueryRow(ctx,
			`UPDATE outreach_emails SET status = 'failed', last_error = $2, updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'processing')
			RETURNING prospect_id`,
			id, reason,
		).Scan(&prospectID)
		if err != nil {
			return notFound(err, "postgres: fail email %s", id)
		}
		_, err = tx.Exec(ctx,
			`UPDATE prospects SET status = 'rejected', last_contacted_at = now()
			WHERE id = $1 AND status IN ('new', 'queued', 'contacted')`,
			prospectID,
		)
		return eris.Wrapf(err, "postgres: reject prospect %s", prospectID)
	})
}

// TransitionEmail moves an email to the target status only from a valid
// source status. It reports false when the email was already past it.
func (s *PostgresStore) TransitionEmail(ctx context.Context, id string, to model.EmailStatus) (bool, error) {
	sources := model.SourcesFor(to)
	if len(sources) == 0 {
		return false, nil
	}
	from := make([]string, len(sources))
	for i, st := range sources {
		from[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)`,
		string(to), id, from,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition email %s to %s", id, to)
	}
	return tag.RowsAffected() == 1, nil
}

// SetEmailAddress fills in a missing address on a pending draft and copies it
// to the prospect.
func (s *PostgresStore) SetEmailAddress(ctx context.Context, id, address string) error {
	return s.withTx(ctx, "set email address", func(tx pgx.Tx) error {
		var prospectID string
		err := tx.QueryRow(ctx,
			`UPDATE outreach_emails SET prospect_email = $2, missing_email = false, updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING prospect_id`,
			id, address,
		).Scan(&prospectID)
		if err != nil {
			return notFound(err, "postgres: set address on email %s", id)
		}
		_, err = tx.Exec(ctx, `UPDATE prospects SET contact_email = $2 WHERE id = $1`, prospectID, address)
		return eris.Wrapf(err, "postgres: set contact email on prospect %s", prospectID)
	})
}

// SetEmailHold holds or releases a pending draft.
func (s *PostgresStore) SetEmailHold(ctx context.Context, id string, held bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET held = $2, updated_at = now() WHERE id = $1 AND status = 'pending'`,
		id, held,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: hold email %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: pending email %s", id)
	}
	return nil
}

// ReclaimStaleEmails returns emails stuck in processing back to pending.
func (s *PostgresStore) ReclaimStaleEmails(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outreach_emails SET status = 'pending', last_error = 'reclaimed after stale processing', updated_at = now()
		WHERE status = 'processing' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reclaim stale emails")
	}
	return tag.RowsAffected(), nil
}
