package outreach

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/resilience"
	"github.com/sells-group/prospect-outreach/internal/store"
)

// SendStore is the persistence the sender needs.
type SendStore interface {
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	ClaimEmailForSend(ctx context.Context, id string) (*model.OutreachEmail, error)
	MarkEmailSent(ctx context.Context, id, providerMessageID string) error
	ReleaseEmail(ctx context.Context, id, reason string) error
	FailEmail(ctx context.Context, id, reason string) error
}

// Outcome is what happened to one send attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeRetry   Outcome = "retry"
	OutcomeFailed  Outcome = "failed"
)

// SendResult is the send_email job result.
type SendResult struct {
	EmailID           string  `json:"email_id"`
	Outcome           Outcome `json:"outcome"`
	Provider          string  `json:"provider,omitempty"`
	ProviderMessageID string  `json:"provider_message_id,omitempty"`
	Reason            string  `json:"reason,omitempty"`
}

// SenderConfig tunes the sender.
type SenderConfig struct {
	FromEmail   string
	FromName    string
	ReplyTo     string
	RatePerSec  float64
	Timeout     time.Duration
	MaxAttempts int
	Breaker     resilience.CircuitBreakerConfig
}

// Sender dispatches claimed emails through a Provider.
type Sender struct {
	provider Provider
	store    SendStore
	cfg      SenderConfig
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	log      *zap.Logger
}

// NewSender creates a Sender.
func NewSender(p Provider, st SendStore, cfg SenderConfig) *Sender {
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	cfg.Breaker.Name = p.Name()

	return &Sender{
		provider: p,
		store:    st,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		log:      zap.L().With(zap.String("component", "sender"), zap.String("provider", p.Name())),
	}
}

// Send makes a single attempt at emailID. An email that fails its
// preconditions (missing address, held, paused campaign, already handled)
// is skipped without error. Transient provider failures release the email
// back to pending and return a transient error so the job is retried.
func (s *Sender) Send(ctx context.Context, emailID string) (*SendResult, error) {
	return s.send(ctx, emailID, false)
}

// HandleJob runs a send_email job. On the job's last allowed attempt a
// transient failure fails the email instead of releasing it.
func (s *Sender) HandleJob(ctx context.Context, job *model.QueueJob) (any, error) {
	var p model.SendEmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "sender: decode payload"), 0)
	}
	if p.EmailID == "" {
		return nil, resilience.NewPermanentError(eris.New("sender: payload has no email_id"), 0)
	}
	return s.send(ctx, p.EmailID, job.Attempts >= s.cfg.MaxAttempts)
}

func (s *Sender) send(ctx context.Context, emailID string, final bool) (*SendResult, error) {
	res := &SendResult{EmailID: emailID, Provider: s.provider.Name()}

	if err := s.limiter.Wait(ctx); err != nil {
		return res, resilience.NewTransientError(eris.Wrap(err, "sender: rate limiter"), 0)
	}

	email, err := s.store.ClaimEmailForSend(ctx, emailID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.Outcome = OutcomeSkipped
			res.Reason = s.skipReason(ctx, emailID)
			s.log.Info("sender: skipped", zap.String("email_id", emailID), zap.String("reason", res.Reason))
			return res, nil
		}
		return res, eris.Wrapf(err, "sender: claim email %s", emailID)
	}

	msg := s.message(email)
	providerID, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (string, error) {
		sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		return s.provider.Send(sendCtx, msg)
	})
	if err != nil {
		return s.handleFailure(ctx, res, err, final)
	}

	if err := s.store.MarkEmailSent(ctx, emailID, providerID); err != nil {
		// The provider accepted the message; retrying would send it twice.
		s.log.Error("sender: mark sent failed after provider accepted message",
			zap.String("email_id", emailID),
			zap.String("provider_message_id", providerID),
			zap.Error(err),
		)
		return res, resilience.NewPermanentError(eris.Wrapf(err, "sender: mark email %s sent", emailID), 0)
	}

	res.Outcome = OutcomeSent
	res.ProviderMessageID = providerID
	s.log.Info("sender: sent", zap.String("email_id", emailID), zap.String("provider_message_id", providerID))
	return res, nil
}

func (s *Sender) handleFailure(ctx context.Context, res *SendResult, sendErr error, final bool) (*SendResult, error) {
	res.Reason = sendErr.Error()

	if resilience.IsTransient(sendErr) && !final {
		res.Outcome = OutcomeRetry
		if err := s.store.ReleaseEmail(ctx, res.EmailID, res.Reason); err != nil {
			s.log.Warn("sender: release email failed", zap.String("email_id", res.EmailID), zap.Error(err))
		}
		s.log.Warn("sender: transient failure", zap.String("email_id", res.EmailID), zap.Error(sendErr))
		return res, sendErr
	}

	res.Outcome = OutcomeFailed
	if err := s.store.FailEmail(ctx, res.EmailID, res.Reason); err != nil {
		s.log.Warn("sender: fail email failed", zap.String("email_id", res.EmailID), zap.Error(err))
	}
	s.log.Warn("sender: permanent failure", zap.String("email_id", res.EmailID), zap.Error(sendErr))

	if resilience.IsPermanent(sendErr) {
		return res, sendErr
	}
	return res, resilience.NewPermanentError(sendErr, 0)
}

// skipReason explains why a claim found nothing to send.
func (s *Sender) skipReason(ctx context.Context, emailID string) string {
	e, err := s.store.GetEmail(ctx, emailID)
	switch {
	case err != nil:
		return "email not found"
	case e.MissingEmail:
		return "missing email address"
	case e.Held:
		return "held for review"
	case e.Status != model.EmailPending:
		return "status is " + string(e.Status)
	default:
		return "campaign not active"
	}
}

func (s *Sender) message(e *model.OutreachEmail) *Message {
	from := e.SenderEmail
	if from == "" {
		from = s.cfg.FromEmail
	}
	return &Message{
		EmailID:  e.ID,
		From:     from,
		FromName: s.cfg.FromName,
		To:       *e.ProspectEmail,
		ReplyTo:  s.cfg.ReplyTo,
		Subject:  e.Subject,
		Text:     e.Content,
		HTML:     textToHTML(e.Content),
	}
}
