package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/tracking"
)

const (
	maxWebhookBody = 1 << 20
	webhookTimeout = 25 * time.Second
)

// webhookAuthorized checks the shared webhook token, sent either as a Bearer
// header or as a token query parameter (SNS and Pub/Sub push endpoints cannot
// always set headers).
func (s *server) webhookAuthorized(r *http.Request) bool {
	if s.WebhookToken == "" {
		s.log.Warn("api: webhook token not configured, accepting request")
		return true
	}
	got := bearerToken(r)
	if got == "" {
		got = r.URL.Query().Get("token")
	}
	return tokenMatches(got, s.WebhookToken)
}

func (s *server) readWebhook(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if !s.webhookAuthorized(r) {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid webhook token"})
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.log.Warn("api: read webhook body", zap.Error(err))
		acknowledge(w, 0)
		return nil, false
	}
	return body, true
}

// acknowledge answers 200 whatever happened downstream. Failures are logged;
// a non-2xx would only make the provider redeliver.
func acknowledge(w http.ResponseWriter, processed int) {
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "processed": processed})
}

func (s *server) gmailChallenge(w http.ResponseWriter, r *http.Request) {
	if challenge := r.URL.Query().Get("challenge"); challenge != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, challenge)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "gmail webhook endpoint is active"})
}

func (s *server) gmailWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readWebhook(w, r)
	if !ok {
		return
	}

	push, err := tracking.DecodeGmailPush(body)
	if err != nil {
		s.log.Warn("api: undecodable gmail push", zap.Error(err))
		acknowledge(w, 0)
		return
	}
	if s.Gmail == nil {
		s.log.Warn("api: gmail push received but gmail tracking is not configured",
			zap.Uint64("history_id", push.HistoryID))
		acknowledge(w, 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()
	outs, err := s.Gmail.HandlePush(ctx, push)
	if err != nil {
		s.log.Error("api: gmail push processing failed",
			zap.String("delivery_id", push.DeliveryID),
			zap.Uint64("history_id", push.HistoryID),
			zap.Error(err),
		)
	}
	acknowledge(w, len(outs))
}

func (s *server) sesWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readWebhook(w, r)
	if !ok {
		return
	}

	env, notes, err := tracking.ParseSNS(body)
	if err != nil {
		s.log.Warn("api: undecodable sns delivery", zap.Error(err))
		acknowledge(w, 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()

	switch env.Type {
	case tracking.SNSSubscriptionConfirmation:
		s.log.Info("api: sns subscription confirmation", zap.String("topic", env.TopicArn))
		if err := s.ConfirmSNS(ctx, env); err != nil {
			s.log.Error("api: sns confirm failed", zap.String("topic", env.TopicArn), zap.Error(err))
		}
		acknowledge(w, 0)
		return
	case tracking.SNSNotification:
	default:
		s.log.Info("api: sns message ignored", zap.String("type", env.Type))
		acknowledge(w, 0)
		return
	}

	if len(notes) == 0 || s.Tracker == nil {
		acknowledge(w, 0)
		return
	}
	outs, failed := s.Tracker.ProcessAll(ctx, notes)
	if failed > 0 {
		s.log.Error("api: ses notifications failed", zap.String("message_id", env.MessageID), zap.Int("failed", failed))
	}
	acknowledge(w, len(outs))
}
