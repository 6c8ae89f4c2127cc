package model

import "time"

// CampaignStatus controls whether the scheduler and sender act on a campaign's emails.
type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignPaused CampaignStatus = "paused"
	CampaignClosed CampaignStatus = "closed"
)

// Campaign groups outreach emails.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Status    CampaignStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// EmailStatus is the OutreachEmail lifecycle state.
type EmailStatus string

const (
	EmailPending    EmailStatus = "pending"
	EmailProcessing EmailStatus = "processing"
	EmailSent       EmailStatus = "sent"
	EmailOpened     EmailStatus = "opened"
	EmailReplied    EmailStatus = "replied"
	EmailBounced    EmailStatus = "bounced"
	EmailFailed     EmailStatus = "failed"
)

// emailTransitions is the full legal transition table. Processing may fall
// back to pending when a transient provider error releases the email for retry.
var emailTransitions = map[EmailStatus][]EmailStatus{
	EmailPending:    {EmailProcessing, EmailFailed},
	EmailProcessing: {EmailSent, EmailPending, EmailFailed, EmailOpened, EmailReplied, EmailBounced},
	EmailSent:       {EmailOpened, EmailReplied, EmailBounced},
	EmailOpened:     {EmailReplied, EmailBounced},
}

// CanTransition reports whether from -> to is a legal email transition.
func CanTransition(from, to EmailStatus) bool {
	for _, s := range emailTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may legally move to to.
func SourcesFor(to EmailStatus) []EmailStatus {
	var out []EmailStatus
	for _, from := range []EmailStatus{EmailPending, EmailProcessing, EmailSent, EmailOpened} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Terminal reports whether no further transition is possible.
func (s EmailStatus) Terminal() bool {
	return len(emailTransitions[s]) == 0
}

// NonTerminal lists statuses that still represent a live email for a prospect.
var NonTerminal = []EmailStatus{EmailPending, EmailProcessing, EmailSent, EmailOpened}

// OutreachEmail is one drafted message to a prospect.
type OutreachEmail struct {
	ID                string         `json:"id" db:"id"`
	CampaignID        string         `json:"campaign_id" db:"campaign_id"`
	ProspectID        string         `json:"prospect_id" db:"prospect_id"`
	ProspectEmail     *string        `json:"prospect_email" db:"prospect_email"`
	Subject           string         `json:"subject" db:"subject"`
	Content           string         `json:"content" db:"content"`
	Status            EmailStatus    `json:"status" db:"status"`
	MissingEmail      bool           `json:"missing_email" db:"missing_email"`
	Held              bool           `json:"held" db:"held"`
	SenderEmail       string         `json:"sender_email" db:"sender_email"`
	AttemptCount      int            `json:"attempt_count" db:"attempt_count"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	LastError         *string        `json:"last_error,omitempty" db:"last_error"`
	Metadata          map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	SentAt            *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
}

// Sendable reports whether the email passes the sender's preconditions.
func (e *OutreachEmail) Sendable() bool {
	return !e.MissingEmail && !e.Held && e.Status == EmailPending &&
		e.ProspectEmail != nil && *e.ProspectEmail != ""
}

// EventType is a tracked engagement event.
type EventType string

const (
	EventOpen   EventType = "open"
	EventReply  EventType = "reply"
	EventBounce EventType = "bounce"
)

// Target returns the email status an event drives toward.
func (e EventType) Target() EmailStatus {
	switch e {
	case EventOpen:
		return EmailOpened
	case EventReply:
		return EmailReplied
	case EventBounce:
		return EmailBounced
	}
	return ""
}

// TrackingEvent is an append-only engagement record keyed by the provider's
// notification id.
type TrackingEvent struct {
	ID                string    `json:"id" db:"id"`
	EmailID           string    `json:"email_id" db:"email_id"`
	EventType         EventType `json:"event_type" db:"event_type"`
	OccurredAt        time.Time `json:"occurred_at" db:"occurred_at"`
	RawNotificationID string    `json:"raw_notification_id" db:"raw_notification_id"`
}
