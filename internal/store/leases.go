package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// AcquireLease takes the named lease for owner until ttl elapses. An owner may
// renew its own lease. It reports false while another owner holds it.
func (s *PostgresStore) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO leases (name, owner, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at < now() OR leases.owner = EXCLUDED.owner`,
		name, owner, ttl.Seconds(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire lease %s", name)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE name = $1 AND owner = $2`, name, owner)
	return eris.Wrapf(err, "postgres: release lease %s", name)
}
