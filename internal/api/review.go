package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/model"
	"github.com/sells-group/prospect-outreach/internal/store"
)

func (s *server) listPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ReviewFilter{
		MissingOnly: q.Get("missing_only") == "true",
		CampaignID:  q.Get("campaign_id"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, 1000)
	}

	emails, err := s.Store.ListPendingEmails(r.Context(), f)
	if err != nil {
		s.respondStoreError(w, err, "list pending emails")
		return
	}
	if emails == nil {
		emails = []model.OutreachEmail{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"emails": emails, "count": len(emails)})
}

type addressRequest struct {
	Email string `json:"email"`
}

// setAddress fills in a missing contact address on a pending draft.
func (s *server) setAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.Store.SetEmailAddress(r.Context(), id, addr.Address); err != nil {
		s.respondStoreError(w, err, "set email address")
		return
	}
	email, err := s.Store.GetEmail(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "get email")
		return
	}
	respondJSON(w, http.StatusOK, email)
}

// approve releases a hold and hands the draft to the sender.
func (s *server) approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email, err := s.Store.GetEmail(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err, "get email")
		return
	}
	if email.Status != model.EmailPending {
		respondError(w, http.StatusConflict, "email is "+string(email.Status))
		return
	}
	if email.MissingEmail || email.ProspectEmail == nil || *email.ProspectEmail == "" {
		respondError(w, http.StatusConflict, "email address missing")
		return
	}

	if err := s.Store.SetEmailHold(r.Context(), id, false); err != nil {
		s.respondStoreError(w, err, "release hold")
		return
	}
	job, err := s.Jobs.Enqueue(r.Context(), model.JobTypeSendEmail, model.SendEmailPayload{EmailID: id})
	if err != nil {
		s.log.Error("api: enqueue send", zap.String("email_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to enqueue send")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "approved", "job_id": job.ID})
}

func (s *server) hold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Store.SetEmailHold(r.Context(), id, true); err != nil {
		s.respondStoreError(w, err, "hold email")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "held", "email_id": id})
}

// resumeBatch bounds how many pending drafts one resume re-enqueues.
const resumeBatch = 1000

// setCampaign pauses or resumes a campaign. Sends attempted while paused are
// skipped and their jobs completed, so resuming re-enqueues send_email for
// every sendable pending draft in the campaign.
func (s *server) setCampaign(status model.CampaignStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Store.SetCampaignStatus(r.Context(), id, status); err != nil {
			s.respondStoreError(w, err, "set campaign status")
			return
		}
		c, err := s.Store.GetCampaign(r.Context(), id)
		if err != nil {
			s.respondStoreError(w, err, "get campaign")
			return
		}
		if status != model.CampaignActive {
			respondJSON(w, http.StatusOK, c)
			return
		}

		n, err := s.enqueueCampaignSends(r.Context(), id)
		if err != nil {
			s.log.Error("api: re-enqueue campaign sends", zap.String("campaign_id", id), zap.Int("enqueued", n), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to enqueue sends")
			return
		}
		respondJSON(w, http.StatusOK, struct {
			*model.Campaign
			Enqueued int `json:"enqueued"`
		}{c, n})
	}
}

func (s *server) enqueueCampaignSends(ctx context.Context, campaignID string) (int, error) {
	emails, err := s.Store.ListPendingEmails(ctx, store.ReviewFilter{CampaignID: campaignID, Limit: resumeBatch})
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range emails {
		if !emails[i].Sendable() {
			continue
		}
		if _, err := s.Jobs.Enqueue(ctx, model.JobTypeSendEmail, model.SendEmailPayload{EmailID: emails[i].ID}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("api: campaign resumed", zap.String("campaign_id", campaignID), zap.Int("enqueued", n))
	}
	return n, nil
}
