package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// InsertTrackingEvent records an event once per provider notification id.
// It reports false when the notification was already recorded.
func (s *PostgresStore) InsertTrackingEvent(ctx context.Context, ev *model.TrackingEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tracking_events (id, email_id, event_type, occurred_at, raw_notification_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (raw_notification_id) DO NOTHING`,
		ev.ID, ev.EmailID, string(ev.EventType), ev.OccurredAt, ev.RawNotificationID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert tracking event %s", ev.RawNotificationID)
	}
	return tag.RowsAffected() == 1, nil
}
