package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
)

func scanCampaign(row scanner) (*model.Campaign, error) {
	var (
		c      model.Campaign
		status string
	)
	if err := row.Scan(&c.ID, &c.Name, &status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	return &c, nil
}

// GetOrCreateCampaign returns the campaign with the given name, creating it
// active if it does not exist. An existing campaign keeps its status.
func (s *PostgresStore) GetOrCreateCampaign(ctx context.Context, name string) (*model.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx,
		`INSERT INTO campaigns (id, name, status, created_at)
		VALUES ($1, $2, 'active', now())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, status, created_at`,
		uuid.NewString(), name,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get or create campaign %q", name)
	}
	return c, nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := scanCampaign(s.pool.QueryRow(ctx,
		`SELECT id, name, status, created_at FROM campaigns WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "postgres: get campaign %s", id)
	}
	return c, nil
}

// SetCampaignStatus pauses, resumes or closes a campaign. Closed campaigns
// cannot be reopened.
func (s *PostgresStore) SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $1 WHERE id = $2 AND status <> 'closed'`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set campaign %s status", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: campaign %s not found or closed", id)
	}
	return nil
}

// CloseDrainedCampaigns closes active campaigns created before the cutoff
// that have no pending or in-flight emails left.
func (s *PostgresStore) CloseDrainedCampaigns(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns c SET status = 'closed'
		WHERE c.status = 'active' AND c.created_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM outreach_emails e
			WHERE e.campaign_id = c.id AND e.status IN ('pending', 'processing')
		)`,
		createdBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: close drained campaigns")
	}
	return tag.RowsAffected(), nil
}
