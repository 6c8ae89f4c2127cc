package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-outreach/internal/model"
)

func strPtr(s string) *string { return &s }

func seedEmails(h *harness) {
	h.st.emails["ready"] = &model.OutreachEmail{ID: "ready", Status: model.EmailPending, ProspectEmail: strPtr("a@b.test"), Held: true}
	h.st.emails["missing"] = &model.OutreachEmail{ID: "missing", Status: model.EmailPending, MissingEmail: true}
	h.st.emails["sent"] = &model.OutreachEmail{ID: "sent", Status: model.EmailSent, ProspectEmail: strPtr("c@d.test")}
}

func TestListPending(t *testing.T) {
	h := newHarness(t)
	seedEmails(h)

	rec := h.do(http.MethodGet, "/outreach/pending", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["count"])

	rec = h.do(http.MethodGet, "/outreach/pending?missing_only=true&campaign_id=c1&limit=5", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])
	assert.True(t, h.st.filter.MissingOnly)
	assert.Equal(t, "c1", h.st.filter.CampaignID)
	assert.Equal(t, 5, h.st.filter.Limit)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/outreach/pending?limit=x", "", apiToken).Code)
}

func TestListPending_EmptyIsArray(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/outreach/pending", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["emails"])
}

func TestSetAddress(t *testing.T) {
	h := newHarness(t)
	seedEmails(h)

	rec := h.do(http.MethodPatch, "/outreach/missing/email", `{"email":"Owner <owner@shop.test>"}`, apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner@shop.test", decode(t, rec)["prospect_email"])
	assert.False(t, h.st.emails["missing"].MissingEmail)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/outreach/missing/email", `{"email":"nope"}`, apiToken).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/outreach/missing/email", `{`, apiToken).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPatch, "/outreach/sent/email", `{"email":"x@y.test"}`, apiToken).Code)
}

func TestApprove(t *testing.T) {
	h := newHarness(t)
	seedEmails(h)

	rec := h.do(http.MethodPost, "/outreach/ready/approve", "", apiToken)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-send", decode(t, rec)["job_id"])
	assert.False(t, h.st.emails["ready"].Held)
	assert.Equal(t, []model.SendEmailPayload{{EmailID: "ready"}}, h.jobs.enqueued)
}

func TestApprove_Rejections(t *testing.T) {
	h := newHarness(t)
	seedEmails(h)

	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/outreach/missing/approve", "", apiToken).Code)
	assert.Equal(t, http.StatusConflict, h.do(http.MethodPost, "/outreach/sent/approve", "", apiToken).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/outreach/nope/approve", "", apiToken).Code)
	assert.Empty(t, h.jobs.enqueued)
}

func TestHold(t *testing.T) {
	h := newHarness(t)
	seedEmails(h)
	h.st.emails["ready"].Held = false

	rec := h.do(http.MethodPost, "/outreach/ready/hold", "", apiToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.st.emails["ready"].Held)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/outreach/sent/hold", "", apiToken).Code)
}

func TestCampaignPauseResume(t *testing.T) {
	h := newHarness(t)
	h.st.campaigns["c1"] = &model.Campaign{ID: "c1", Name: "Daily Queue - 2026-03-02", Status: model.CampaignActive}
	h.st.campaigns["old"] = &model.Campaign{ID: "old", Status: model.CampaignClosed}

	rec := h.do(http.MethodPost, "/campaigns/c1/pause", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode(t, rec)["status"])

	rec = h.do(http.MethodPost, "/campaigns/c1/resume", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode(t, rec)["status"])

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/campaigns/old/resume", "", apiToken).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/campaigns/none/pause", "", apiToken).Code)
}

func TestCampaignResume_EnqueuesPendingSends(t *testing.T) {
	h := newHarness(t)
	h.st.campaigns["c1"] = &model.Campaign{ID: "c1", Status: model.CampaignActive}
	h.st.emails["e1"] = &model.OutreachEmail{ID: "e1", CampaignID: "c1", Status: model.EmailPending, ProspectEmail: strPtr("a@b.test")}
	h.st.emails["e2"] = &model.OutreachEmail{ID: "e2", CampaignID: "c1", Status: model.EmailPending, ProspectEmail: strPtr("c@d.test")}
	h.st.emails["held"] = &model.OutreachEmail{ID: "held", CampaignID: "c1", Status: model.EmailPending, ProspectEmail: strPtr("e@f.test"), Held: true}
	h.st.emails["missing"] = &model.OutreachEmail{ID: "missing", CampaignID: "c1", Status: model.EmailPending, MissingEmail: true}
	h.st.emails["other"] = &model.OutreachEmail{ID: "other", CampaignID: "c2", Status: model.EmailPending, ProspectEmail: strPtr("g@h.test")}

	rec := h.do(http.MethodPost, "/campaigns/c1/pause", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.jobs.enqueued)

	rec = h.do(http.MethodPost, "/campaigns/c1/resume", "", apiToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, float64(2), body["enqueued"])

	var ids []string
	for _, p := range h.jobs.enqueued {
		ids = append(ids, p.EmailID)
	}
	assert.ElementsMatch(t, []string{"e1", "e2"}, ids)
	assert.Equal(t, "c1", h.st.filter.CampaignID)
}
