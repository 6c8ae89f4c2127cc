package tracking

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// TrackStore is the persistence the tracker needs.
type TrackStore interface {
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	GetEmailByProviderID(ctx context.Context, providerID string) (*model.OutreachEmail, error)
	InsertTrackingEvent(ctx context.Context, ev *model.TrackingEvent) (bool, error)
	TransitionEmail(ctx context.Context, id string, to model.EmailStatus) (bool, error)
	UpdateProspectStatus(ctx context.Context, id string, to model.ProspectStatus) (bool, error)
}

// Outcome reports what processing one notification did.
type Outcome struct {
	NotificationID string            `json:"notification_id"`
	EmailID        string            `json:"email_id,omitempty"`
	Event          model.EventType   `json:"event"`
	Duplicate      bool              `json:"duplicate,omitempty"`
	From           model.EmailStatus `json:"from,omitempty"`
	To             model.EmailStatus `json:"to,omitempty"`
	Applied        bool              `json:"applied"`
	Ignored        string            `json:"ignored,omitempty"`
}

// Tracker applies notifications to emails and prospects.
type Tracker struct {
	store TrackStore
	log   *zap.Logger
}

// NewTracker creates a Tracker.
func NewTracker(st TrackStore) *Tracker {
	return &Tracker{store: st, log: zap.L().With(zap.String("component", "tracking"))}
}

// Process records n and advances the email it refers to. A notification
// whose id was already recorded still attempts the (conditional) transition,
// so a delivery whose first processing failed halfway is completed by the
// redelivery; for one that fully succeeded the retry changes nothing.
// Unknown emails are ignored, not errors.
func (t *Tracker) Process(ctx context.Context, n Notification) (*Outcome, error) {
	out := &Outcome{NotificationID: n.ID, Event: n.Event}
	if n.ID == "" {
		return nil, eris.New("tracking: notification has no id")
	}
	if n.Event.Target() == "" {
		out.Ignored = "unsupported event"
		return out, nil
	}

	email, err := t.resolve(ctx, n)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			out.Ignored = "unknown email"
			t.log.Debug("tracking: notification for unknown email",
				zap.String("notification_id", n.ID),
				zap.String("provider_message_id", n.ProviderMessageID),
			)
			return out, nil
		}
		return nil, err
	}
	out.EmailID = email.ID
	out.From = email.Status

	inserted, err := t.store.InsertTrackingEvent(ctx, &model.TrackingEvent{
		ID:                uuid.NewString(),
		EmailID:           email.ID,
		EventType:         n.Event,
		OccurredAt:        n.OccurredAt,
		RawNotificationID: n.ID,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "tracking: record %s", n.ID)
	}
	out.Duplicate = !inserted

	to, ok := Advance(email.Status, n.Event)
	if !ok {
		out.To = email.Status
		out.Ignored = "no forward transition from " + string(email.Status)
		return out, nil
	}

	applied, err := t.store.TransitionEmail(ctx, email.ID, to)
	if err != nil {
		return nil, eris.Wrapf(err, "tracking: transition email %s", email.ID)
	}
	out.To = to
	out.Applied = applied
	if !applied {
		out.Ignored = "status changed concurrently"
		return out, nil
	}

	t.log.Info("tracking: email advanced",
		zap.String("email_id", email.ID),
		zap.String("from", string(email.Status)),
		zap.String("to", string(to)),
		zap.Bool("redelivery", out.Duplicate),
	)

	for _, ps := range prospectEffect(n.Event) {
		if _, err := t.store.UpdateProspectStatus(ctx, email.ProspectID, ps); err != nil {
			t.log.Warn("tracking: prospect update failed",
				zap.String("prospect_id", email.ProspectID),
				zap.String("to", string(ps)),
				zap.Error(err),
			)
			break
		}
	}
	return out, nil
}

// ProcessAll processes notifications in order. Failures are logged and
// counted; they never stop the batch.
func (t *Tracker) ProcessAll(ctx context.Context, ns []Notification) ([]*Outcome, int) {
	outs := make([]*Outcome, 0, len(ns))
	failed := 0
	for _, n := range ns {
		o, err := t.Process(ctx, n)
		if err != nil {
			failed++
			t.log.Error("tracking: notification failed", zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		outs = append(outs, o)
	}
	return outs, failed
}

func (t *Tracker) resolve(ctx context.Context, n Notification) (*model.OutreachEmail, error) {
	if n.EmailID != "" {
		e, err := t.store.GetEmail(ctx, n.EmailID)
		if err == nil || !errors.Is(err, store.ErrNotFound) || n.ProviderMessageID == "" {
			return e, err
		}
	}
	if n.ProviderMessageID == "" {
		return nil, eris.Wrap(store.ErrNotFound, "tracking: notification names no email")
	}
	return t.store.GetEmailByProviderID(ctx, n.ProviderMessageID)
}
