package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-outreach/internal/model"
)

func snsBody(t *testing.T, typ, id, message string) []byte {
	t.Helper()
	b, err := json.Marshal(SNSEnvelope{
		Type:      typ,
		MessageID: id,
		TopicArn:  "arn:aws:sns:us-east-1:123:ses-events",
		Message:   message,
		Timestamp: "2026-03-02T10:00:00.000Z",
	})
	require.NoError(t, err)
	return b
}

func TestParseSNS_PermanentBounce(t *testing.T) {
	msg := `{"eventType":"Bounce","mail":{"messageId":"ses-1","tags":{"email_id":["e1"]}},
		"bounce":{"bounceType":"Permanent","timestamp":"2026-03-02T09:59:00Z"}}`

	env, notes, err := ParseSNS(snsBody(t, SNSNotification, "sns-1", msg))
	require.NoError(t, err)
	assert.Equal(t, SNSNotification, env.Type)
	require.Len(t, notes, 1)

	n := notes[0]
	assert.Equal(t, "ses:sns-1", n.ID)
	assert.Equal(t, model.EventBounce, n.Event)
	assert.Equal(t, "e1", n.EmailID)
	assert.Equal(t, "ses-1", n.ProviderMessageID)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 59, 0, 0, time.UTC), n.OccurredAt)
}

func TestParseSNS_Open(t *testing.T) {
	msg := `{"eventType":"Open","mail":{"messageId":"ses-2"},"open":{"timestamp":"2026-03-02T11:00:00Z"}}`

	_, notes, err := ParseSNS(snsBody(t, SNSNotification, "sns-2", msg))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.EventOpen, notes[0].Event)
	assert.Empty(t, notes[0].EmailID)
	assert.Equal(t, "ses-2", notes[0].ProviderMessageID)
}

func TestParseSNS_NoTrackedEvent(t *testing.T) {
	tests := map[string]string{
		"transient bounce":  `{"eventType":"Bounce","mail":{"messageId":"m"},"bounce":{"bounceType":"Transient"}}`,
		"delivery":          `{"notificationType":"Delivery","mail":{"messageId":"m"}}`,
		"complaint":         `{"eventType":"Complaint","mail":{"messageId":"m"}}`,
		"bounce no details": `{"notificationType":"Bounce","mail":{"messageId":"m"}}`,
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			_, notes, err := ParseSNS(snsBody(t, SNSNotification, "sns-x", msg))
			require.NoError(t, err)
			assert.Empty(t, notes)
		})
	}
}

func TestParseSNS_SubscriptionConfirmation(t *testing.T) {
	body := []byte(`{"Type":"SubscriptionConfirmation","MessageId":"c1",
		"SubscribeURL":"https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=abc"}`)

	env, notes, err := ParseSNS(body)
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, SNSSubscriptionConfirmation, env.Type)
	assert.Contains(t, env.SubscribeURL, "ConfirmSubscription")
}

func TestParseSNS_Errors(t *testing.T) {
	_, _, err := ParseSNS([]byte(`{`))
	assert.Error(t, err)

	_, _, err = ParseSNS(snsBody(t, SNSNotification, "", `{}`))
	assert.Error(t, err)

	_, _, err = ParseSNS(snsBody(t, SNSNotification, "sns-3", `not json`))
	assert.Error(t, err)
}

func TestConfirmSubscription_RejectsForeignHosts(t *testing.T) {
	for _, u := range []string{
		"http://sns.us-east-1.amazonaws.com/confirm",
		"https://evil.test/confirm",
		"https://amazonaws.com.evil.test/confirm",
	} {
		err := ConfirmSubscription(context.Background(), http.DefaultClient, &SNSEnvelope{SubscribeURL: u})
		assert.Error(t, err, u)
	}
}
