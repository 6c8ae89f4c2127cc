package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"
	"google.golang.org/api/gmail/v1"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/outreach"
	"github.com/sells-group/prospect-outreach/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	emails    map[string]*model.OutreachEmail
	events    map[string]*model.TrackingEvent
	prospects map[string]model.ProspectStatus

	getErr    error
	insertErr error
}

func newFakeStore(emails ...*model.OutreachEmail) *fakeStore {
	f := &fakeStore{
		emails:    map[string]*model.OutreachEmail{},
		events:    map[string]*model.TrackingEvent{},
		prospects: map[string]model.ProspectStatus{},
	}
	for _, e := range emails {
		f.emails[e.ID] = e
		f.prospects[e.ProspectID] = model.ProspectContacted
	}
	return f
}

func (f *fakeStore) GetEmail(_ context.Context, id string) (*model.OutreachEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	e, ok := f.emails[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "email %s", id)
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) GetEmailByProviderID(_ context.Context, providerID string) (*model.OutreachEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, e := range f.emails {
		if e.ProviderMessageID != nil && *e.ProviderMessageID == providerID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, eris.Wrapf(store.ErrNotFound, "provider id %s", providerID)
}

func (f *fakeStore) InsertTrackingEvent(_ context.Context, ev *model.TrackingEvent) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.events[ev.RawNotificationID]; ok {
		return false, nil
	}
	cp := *ev
	f.events[ev.RawNotificationID] = &cp
	return true, nil
}

func (f *fakeStore) TransitionEmail(_ context.Context, id string, to model.EmailStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok || !model.CanTransition(e.Status, to) {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (f *fakeStore) UpdateProspectStatus(_ context.Context, id string, to model.ProspectStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !model.CanAdvanceProspect(f.prospects[id], to) {
		return false, nil
	}
	f.prospects[id] = to
	return true, nil
}

// The methods below let fakeStore back an outreach.Sender too, following the
// same conditional updates as the Postgres store.

func (f *fakeStore) ClaimEmailForSend(_ context.Context, id string) (*model.OutreachEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok || !e.Sendable() {
		return nil, store.ErrNotFound
	}
	e.Status = model.EmailProcessing
	e.AttemptCount++
	cp := *e
	return &cp, nil
}

func (f *fakeStore) MarkEmailSent(_ context.Context, id, providerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[id]
	if !ok {
		return store.ErrNotFound
	}
	switch e.Status {
	case model.EmailProcessing:
		e.Status = model.EmailSent
	case model.EmailOpened, model.EmailReplied, model.EmailBounced:
	default:
		return store.ErrNotFound
	}
	e.ProviderMessageID = &providerID
	if e.SentAt == nil {
		now := time.Now().UTC()
		e.SentAt = &now
	}
	if p := f.prospects[e.ProspectID]; p == model.ProspectNew || p == model.ProspectQueued {
		f.prospects[e.ProspectID] = model.ProspectContacted
	}
	return nil
}

func (f *fakeStore) ReleaseEmail(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.emails[id]; ok && e.Status == model.EmailProcessing {
		e.Status = model.EmailPending
	}
	return nil
}

func (f *fakeStore) FailEmail(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.emails[id]; ok {
		e.Status = model.EmailFailed
	}
	return nil
}

func (f *fakeStore) email(id string) model.OutreachEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.emails[id]
}

func (f *fakeStore) prospect(id string) model.ProspectStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prospects[id]
}

// hookProvider runs beforeReturn after accepting a message, to interleave
// events with the sender's confirmation.
type hookProvider struct {
	id           string
	beforeReturn func(ctx context.Context, msg *outreach.Message)
}

func (p *hookProvider) Name() string { return "hook" }

func (p *hookProvider) Send(ctx context.Context, msg *outreach.Message) (string, error) {
	if p.beforeReturn != nil {
		p.beforeReturn(ctx, msg)
	}
	return p.id, nil
}

func (f *fakeStore) status(id string) model.EmailStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emails[id].Status
}

type fakeMailbox struct {
	history    []*gmail.History
	headers    map[string]map[string]string
	historyErr error
	starts     []uint64
}

func (m *fakeMailbox) History(_ context.Context, start uint64) ([]*gmail.History, error) {
	m.starts = append(m.starts, start)
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history, nil
}

func (m *fakeMailbox) MessageHeaders(_ context.Context, id string) (map[string]string, error) {
	h, ok := m.headers[id]
	if !ok {
		return nil, eris.Errorf("no message %s", id)
	}
	return h, nil
}

type mockMailbox struct {
	mock.Mock
}

func (m *mockMailbox) History(ctx context.Context, start uint64) ([]*gmail.History, error) {
	args := m.Called(ctx, start)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*gmail.History), args.Error(1)
}

func (m *mockMailbox) MessageHeaders(ctx context.Context, id string) (map[string]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func sentEmail(id, providerID string, status model.EmailStatus) *model.OutreachEmail {
	return &model.OutreachEmail{
		ID:                id,
		ProspectID:        "p-" + id,
		Status:            status,
		ProviderMessageID: &providerID,
	}
}
