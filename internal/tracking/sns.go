package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-outreach/internal/model"
)

// SNS message types.
const (
	SNSNotification             = "Notification"
	SNSSubscriptionConfirmation = "SubscriptionConfirmation"
	SNSUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// SNSEnvelope is the outer SNS HTTP delivery document.
type SNSEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
	Timestamp    string `json:"Timestamp"`
}

// sesEvent covers both configuration-set event publishing (eventType) and
// identity notifications (notificationType).
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string              `json:"messageId"`
		Timestamp string              `json:"timestamp"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType string `json:"bounceType"`
		Timestamp  string `json:"timestamp"`
	} `json:"bounce"`
	Open *struct {
		Timestamp string `json:"timestamp"`
	} `json:"open"`
}

// ParseSNS decodes an SNS delivery. Notification deliveries yield at most one
// tracker notification: permanent bounces and opens. Deliveries, transient
// bounces and other types yield none.
func ParseSNS(body []byte) (*SNSEnvelope, []Notification, error) {
	var env SNSEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, eris.Wrap(err, "sns: decode envelope")
	}
	if env.Type != SNSNotification {
		return &env, nil, nil
	}
	if env.MessageID == "" {
		return &env, nil, eris.New("sns: notification has no MessageId")
	}

	var ev sesEvent
	if err := json.Unmarshal([]byte(env.Message), &ev); err != nil {
		return &env, nil, eris.Wrap(err, "sns: decode ses event")
	}

	kind := ev.EventType
	if kind == "" {
		kind = ev.NotificationType
	}

	n := Notification{
		ID:                "ses:" + env.MessageID,
		ProviderMessageID: ev.Mail.MessageID,
		OccurredAt:        parseTime(env.Timestamp),
	}
	if ids := ev.Mail.Tags["email_id"]; len(ids) > 0 {
		n.EmailID = ids[0]
	}

	switch kind {
	case "Bounce":
		if ev.Bounce == nil || ev.Bounce.BounceType != "Permanent" {
			return &env, nil, nil
		}
		n.Event = model.EventBounce
		if t := parseTime(ev.Bounce.Timestamp); !t.IsZero() {
			n.OccurredAt = t
		}
	case "Open":
		n.Event = model.EventOpen
		if ev.Open != nil {
			if t := parseTime(ev.Open.Timestamp); !t.IsZero() {
				n.OccurredAt = t
			}
		}
	default:
		return &env, nil, nil
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	return &env, []Notification{n}, nil
}

// ConfirmSubscription visits the SubscribeURL of a confirmation message.
// Only https URLs on amazonaws.com are followed.
func ConfirmSubscription(ctx context.Context, client *http.Client, env *SNSEnvelope) error {
	u, err := url.Parse(env.SubscribeURL)
	if err != nil {
		return eris.Wrap(err, "sns: parse subscribe url")
	}
	if u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return eris.Errorf("sns: refusing subscribe url host %q", u.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return eris.Wrap(err, "sns: build confirm request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "sns: confirm subscription")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return eris.Errorf("sns: confirm subscription status %d", resp.StatusCode)
	}
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
