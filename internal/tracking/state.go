// Package tracking consumes provider engagement notifications and applies
// them to the outreach email state machine. Every notification is recorded
// once by its provider id, and status only ever moves forward.
package tracking

import (
	"time"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// Notification is one provider-reported engagement event, normalized.
type Notification struct {
	// ID is the provider's delivery identifier. Redeliveries repeat it.
	ID    string
	Event model.EventType
	// EmailID is set when the notification names the outreach email
	// directly; otherwise ProviderMessageID is used to find it.
	EmailID           string
	ProviderMessageID string
	OccurredAt        time.Time
}

// Advance returns the status an event moves an email to, and false when the
// move would not be forward (already terminal, or a regression such as
// opened after replied).
func Advance(current model.EmailStatus, ev model.EventType) (model.EmailStatus, bool) {
	target := ev.Target()
	if target == "" || !model.CanTransition(current, target) {
		return current, false
	}
	return target, true
}

// prospectEffect maps an applied email event to the prospect statuses it
// implies, in order. A reply can arrive before the sent confirmation, while
// the prospect is still queued, so it passes through contacted first. Steps
// the prospect is already past are no-ops.
func prospectEffect(ev model.EventType) []model.ProspectStatus {
	switch ev {
	case model.EventReply:
		return []model.ProspectStatus{model.ProspectContacted, model.ProspectConverted}
	case model.EventBounce:
		return []model.ProspectStatus{model.ProspectRejected}
	}
	return nil
}
