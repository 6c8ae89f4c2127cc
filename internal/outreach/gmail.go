package outreach

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/prospect-outreach/internal/config"
	"github.com/sells-group/prospect-outreach/internal/resilience"
)

// GmailProvider sends through the Gmail API and reads mailbox history for
// engagement tracking.
type GmailProvider struct {
	svc   *gmail.Service
	user  string
	now   func() time.Time
	retry resilience.RetryConfig
}

// NewGmailProvider builds a Gmail client from an offline refresh token.
func NewGmailProvider(ctx context.Context, cfg config.GmailConfig) (*GmailProvider, error) {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope, gmail.GmailReadonlyScope},
	}
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, eris.Wrap(err, "gmail: create service")
	}
	return NewGmailProviderWithService(svc, cfg.User), nil
}

// NewGmailProviderWithService wraps an existing service.
func NewGmailProviderWithService(svc *gmail.Service, user string) *GmailProvider {
	if user == "" {
		user = "me"
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("gmail", "read")
	return &GmailProvider{svc: svc, user: user, now: time.Now, retry: retry}
}

// Name implements Provider.
func (p *GmailProvider) Name() string { return "gmail" }

// Send implements Provider. The returned id is the Gmail message id.
func (p *GmailProvider) Send(ctx context.Context, msg *Message) (string, error) {
	raw, err := BuildMIME(msg, p.now())
	if err != nil {
		return "", resilience.NewPermanentError(err, 0)
	}

	sent, err := p.svc.Users.Messages.Send(p.user, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleError(eris.Wrap(err, "gmail: send message"), err)
	}
	return sent.Id, nil
}

// History lists mailbox changes after startHistoryID, following pagination.
// Transient API failures are retried.
func (p *GmailProvider) History(ctx context.Context, startHistoryID uint64) ([]*gmail.History, error) {
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]*gmail.History, error) {
		return p.history(ctx, startHistoryID)
	})
}

func (p *GmailProvider) history(ctx context.Context, startHistoryID uint64) ([]*gmail.History, error) {
	var out []*gmail.History
	pageToken := ""
	for {
		call := p.svc.Users.History.List(p.user).
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded", "labelRemoved", "labelAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classifyGoogleError(eris.Wrap(err, "gmail: list history"), err)
		}
		out = append(out, resp.History...)
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// MessageHeaders fetches the threading headers of a message, keyed by
// lowercased header name. The thread id is returned under "thread-id".
func (p *GmailProvider) MessageHeaders(ctx context.Context, messageID string) (map[string]string, error) {
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (map[string]string, error) {
		return p.messageHeaders(ctx, messageID)
	})
}

func (p *GmailProvider) messageHeaders(ctx context.Context, messageID string) (map[string]string, error) {
	m, err := p.svc.Users.Messages.Get(p.user, messageID).
		Format("metadata").
		MetadataHeaders("In-Reply-To", "References", "Message-ID", "From").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyGoogleError(eris.Wrapf(err, "gmail: get message %s", messageID), err)
	}

	headers := map[string]string{"thread-id": m.ThreadId}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			headers[strings.ToLower(h.Name)] = h.Value
		}
	}
	return headers, nil
}

func classifyGoogleError(wrapped, cause error) error {
	var gerr *googleapi.Error
	if errors.As(cause, &gerr) {
		return resilience.FromHTTPStatus(wrapped, gerr.Code)
	}
	return wrapped
}
