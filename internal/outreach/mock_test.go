package outreach

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

type fakeProvider struct {
	mu    sync.Mutex
	sent  []*Message
	id    string
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(_ context.Context, msg *Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return f.id, nil
}

type fakeSendStore struct {
	emails   map[string]*model.OutreachEmail
	campaign model.CampaignStatus

	sentID   string
	released []string
	failed   []string
	markErr  error
}

func newFakeSendStore(emails ...*model.OutreachEmail) *fakeSendStore {
	st := &fakeSendStore{emails: map[string]*model.OutreachEmail{}, campaign: model.CampaignActive}
	for _, e := range emails {
		st.emails[e.ID] = e
	}
	return st
}

func (f *fakeSendStore) GetEmail(_ context.Context, id string) (*model.OutreachEmail, error) {
	e, ok := f.emails[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeSendStore) ClaimEmailForSend(_ context.Context, id string) (*model.OutreachEmail, error) {
	e, ok := f.emails[id]
	if !ok || !e.Sendable() || f.campaign != model.CampaignActive {
		return nil, store.ErrNotFound
	}
	e.Status = model.EmailProcessing
	e.AttemptCount++
	cp := *e
	return &cp, nil
}

func (f *fakeSendStore) MarkEmailSent(_ context.Context, id, providerID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	e := f.emails[id]
	if e.Status == model.EmailProcessing {
		e.Status = model.EmailSent
	}
	e.ProviderMessageID = &providerID
	f.sentID = providerID
	return nil
}

func (f *fakeSendStore) ReleaseEmail(_ context.Context, id, reason string) error {
	e := f.emails[id]
	e.Status = model.EmailPending
	e.LastError = &reason
	f.released = append(f.released, id)
	return nil
}

func (f *fakeSendStore) FailEmail(_ context.Context, id, reason string) error {
	e := f.emails[id]
	e.Status = model.EmailFailed
	e.LastError = &reason
	f.failed = append(f.failed, id)
	return nil
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	out   *sesv2.SendEmailOutput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return f.out, f.err
}

func strPtr(s string) *string { return &s }
