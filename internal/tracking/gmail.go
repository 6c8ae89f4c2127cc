package tracking

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/outreach"
)

// Mailbox is the slice of the Gmail API that push processing needs.
// outreach.GmailProvider implements it.
type Mailbox interface {
	History(ctx context.Context, startHistoryID uint64) ([]*gmail.History, error)
	MessageHeaders(ctx context.Context, messageID string) (map[string]string, error)
}

// GmailPush is the decoded body of a Gmail watch notification.
type GmailPush struct {
	// DeliveryID is the Pub/Sub message id; redeliveries repeat it.
	DeliveryID   string `json:"-"`
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

type pubsubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeGmailPush decodes a Pub/Sub push envelope carrying a Gmail
// notification.
func DecodeGmailPush(body []byte) (*GmailPush, error) {
	var env pubsubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrap(err, "gmail push: decode envelope")
	}
	if env.Message.Data == "" {
		return nil, eris.New("gmail push: envelope has no data")
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		// Some publishers use the URL-safe alphabet.
		data, err = base64.URLEncoding.DecodeString(env.Message.Data)
		if err != nil {
			return nil, eris.Wrap(err, "gmail push: decode data")
		}
	}

	var push GmailPush
	if err := json.Unmarshal(data, &push); err != nil {
		return nil, eris.Wrap(err, "gmail push: decode payload")
	}
	if push.HistoryID == 0 {
		return nil, eris.New("gmail push: payload has no historyId")
	}
	push.DeliveryID = env.Message.MessageID
	return &push, nil
}

// ParseGmailHistory turns mailbox history into notifications:
//
//   - UNREAD removed from a message: open
//   - a received message whose From is a mailer daemon: bounce
//   - a received message with In-Reply-To or References: reply
//
// The first message of a Gmail thread has id == thread id, so events are
// matched to the sent outreach message through the thread id. Replies that
// quote an outreach Message-ID also carry the email id directly.
func ParseGmailHistory(ctx context.Context, mb Mailbox, history []*gmail.History, now time.Time) ([]Notification, error) {
	var out []Notification
	for _, h := range history {
		if h == nil {
			continue
		}
		for _, lr := range h.LabelsRemoved {
			if lr == nil || lr.Message == nil || !slices.Contains(lr.LabelIds, "UNREAD") {
				continue
			}
			m := lr.Message
			out = append(out, Notification{
				ID:                gmailNotificationID(h.Id, m.Id, "open"),
				Event:             model.EventOpen,
				ProviderMessageID: threadOf(m),
				OccurredAt:        messageTime(m, now),
			})
		}

		for _, ma := range h.MessagesAdded {
			if ma == nil || ma.Message == nil || slices.Contains(ma.Message.LabelIds, "SENT") {
				continue
			}
			m := ma.Message
			headers, err := mb.MessageHeaders(ctx, m.Id)
			if err != nil {
				return out, eris.Wrapf(err, "gmail history: headers for %s", m.Id)
			}
			n, ok := classifyReceived(h.Id, m, headers, now)
			if ok {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func classifyReceived(historyID uint64, m *gmail.Message, headers map[string]string, now time.Time) (Notification, bool) {
	thread := headers["thread-id"]
	if thread == "" {
		thread = threadOf(m)
	}
	n := Notification{
		ProviderMessageID: thread,
		OccurredAt:        messageTime(m, now),
	}

	if isMailerDaemon(headers["from"]) {
		n.Event = model.EventBounce
		n.ID = gmailNotificationID(historyID, m.Id, "bounce")
		return n, true
	}

	ref := headers["in-reply-to"]
	if ref == "" {
		ref = firstReference(headers["references"])
	}
	if ref == "" {
		return n, false
	}
	n.Event = model.EventReply
	n.ID = gmailNotificationID(historyID, m.Id, "reply")
	n.EmailID = outreach.EmailIDFromMessageID(ref)
	return n, true
}

func isMailerDaemon(from string) bool {
	f := strings.ToLower(from)
	return strings.Contains(f, "mailer-daemon") || strings.Contains(f, "postmaster@")
}

func firstReference(refs string) string {
	fields := strings.Fields(refs)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func threadOf(m *gmail.Message) string {
	if m.ThreadId != "" {
		return m.ThreadId
	}
	return m.Id
}

func messageTime(m *gmail.Message, now time.Time) time.Time {
	if m.InternalDate > 0 {
		return time.UnixMilli(m.InternalDate).UTC()
	}
	return now
}

func gmailNotificationID(historyID uint64, messageID, event string) string {
	return fmt.Sprintf("gmail:%d:%s:%s", historyID, messageID, event)
}

// GmailWatcher turns Gmail pushes into tracker notifications. It remembers
// the last history id it processed so consecutive pushes read only new
// changes.
type GmailWatcher struct {
	mailbox Mailbox
	tracker *Tracker
	log     *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	cursor uint64
}

// NewGmailWatcher creates a GmailWatcher.
func NewGmailWatcher(mb Mailbox, tr *Tracker) *GmailWatcher {
	return &GmailWatcher{
		mailbox: mb,
		tracker: tr,
		log:     zap.L().With(zap.String("component", "gmail_watcher")),
		now:     time.Now,
	}
}

// HandlePush reads mailbox history since the last cursor (or since just
// before the pushed history id on first use) and processes every resulting
// notification. The cursor only advances when history was read.
func (w *GmailWatcher) HandlePush(ctx context.Context, push *GmailPush) ([]*Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.cursor
	if start == 0 || start >= push.HistoryID {
		start = push.HistoryID - 1
	}
	history, err := w.mailbox.History(ctx, start)
	if err != nil {
		return nil, eris.Wrap(err, "gmail watcher: read history")
	}

	notes, err := ParseGmailHistory(ctx, w.mailbox, history, w.now().UTC())
	if err != nil {
		w.log.Warn("gmail watcher: partial history parse", zap.Error(err))
	}
	outs, failed := w.tracker.ProcessAll(ctx, notes)
	if err == nil {
		w.cursor = max(w.cursor, push.HistoryID)
	}

	w.log.Info("gmail watcher: push processed",
		zap.Uint64("history_id", push.HistoryID),
		zap.Int("notifications", len(notes)),
		zap.Int("failed", failed),
	)
	return outs, err
}

// Cursor returns the last fully processed history id.
func (w *GmailWatcher) Cursor() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}
