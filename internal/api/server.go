// Package api exposes the outreach HTTP surface: the daily job trigger,
// provider webhooks, job inspection and the operator review queue.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
	"github.com/sells-group/prospect-outreach/internal/tracking"
)

// Store is the candidate store surface the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	GetJob(ctx context.Context, id string) (*model.QueueJob, error)
	NextPendingJob(ctx context.Context, jobType string) (*model.QueueJob, error)
	CountJobs(ctx context.Context) (model.JobCounts, error)
	ListPendingEmails(ctx context.Context, f store.ReviewFilter) ([]model.OutreachEmail, error)
	GetEmail(ctx context.Context, id string) (*model.OutreachEmail, error)
	SetEmailAddress(ctx context.Context, id, address string) error
	SetEmailHold(ctx context.Context, id string, held bool) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
}

// Jobs enqueues and runs jobs. queue.Runner implements it.
type Jobs interface {
	Enqueue(ctx context.Context, jobType string, payload any) (*model.QueueJob, error)
	ProcessJob(ctx context.Context, id string) (*model.QueueJob, error)
}

// DailyTrigger fires the daily queue job once per day. trigger.Daily
// implements it.
type DailyTrigger interface {
	Fire(ctx context.Context, dailyLimit int) (*model.QueueJob, bool, error)
}

// GmailPushes processes Gmail push notifications. tracking.GmailWatcher
// implements it.
type GmailPushes interface {
	HandlePush(ctx context.Context, push *tracking.GmailPush) ([]*tracking.Outcome, error)
}

// Notifications applies parsed provider notifications. tracking.Tracker
// implements it.
type Notifications interface {
	ProcessAll(ctx context.Context, ns []tracking.Notification) ([]*tracking.Outcome, int)
}

// Deps wires the router. Gmail and Tracker may be nil when the matching
// provider is not configured; their webhooks then acknowledge and drop.
type Deps struct {
	Store   Store
	Jobs    Jobs
	Daily   DailyTrigger
	Gmail   GmailPushes
	Tracker Notifications

	// ConfirmSNS confirms an SNS subscription. Defaults to
	// tracking.ConfirmSubscription with a 10s client.
	ConfirmSNS func(ctx context.Context, env *tracking.SNSEnvelope) error

	// WebhookToken authenticates provider webhooks. Empty allows all
	// requests with a warning.
	WebhookToken string
	// APIToken authenticates job and operator routes. Empty disables the check.
	APIToken       string
	AllowedOrigins []string
}

type server struct {
	Deps
	log *zap.Logger
}

// NewRouter builds the chi router.
func NewRouter(d Deps) http.Handler {
	if d.ConfirmSNS == nil {
		client := &http.Client{Timeout: 10 * time.Second}
		d.ConfirmSNS = func(ctx context.Context, env *tracking.SNSEnvelope) error {
			return tracking.ConfirmSubscription(ctx, client, env)
		}
	}
	s := &server{Deps: d, log: zap.L().With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/webhook", func(r chi.Router) {
		r.Get("/gmail", s.gmailChallenge)
		r.Post("/gmail", s.gmailWebhook)
		r.Post("/ses", s.sesWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(d.APIToken))

		r.Post("/jobs/daily-prospect-queue", s.triggerDaily)
		r.Get("/jobs/status", s.jobStatus)
		r.Get("/jobs/next", s.nextJob)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/run", s.runJob)

		r.Get("/outreach/pending", s.listPending)
		r.Patch("/outreach/{id}/email", s.setAddress)
		r.Post("/outreach/{id}/approve", s.approve)
		r.Post("/outreach/{id}/hold", s.hold)

		r.Post("/campaigns/{id}/pause", s.setCampaign(model.CampaignPaused))
		r.Post("/campaigns/{id}/resume", s.setCampaign(model.CampaignActive))
	})

	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.log.Warn("api: health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps store sentinels to status codes.
func (s *server) respondStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, "conflict")
	default:
		s.log.Error("api: "+op, zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("Bearer "):])
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && !tokenMatches(bearerToken(r), token) {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("api: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
