package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-outreach/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailedJobs          AlertType = "failed_jobs"
	AlertStaleJobs           AlertType = "stale_jobs"
	AlertMissingEmailBacklog AlertType = "missing_email_backlog"
	AlertBounceRate          AlertType = "bounce_rate"
)

// minSentForBounceRate keeps a handful of early bounces from paging anyone.
const minSentForBounceRate = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.FailedJobsThreshold > 0 && snap.FailedJobs >= a.cfg.FailedJobsThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailedJobs,
			Severity: "high",
			Message: fmt.Sprintf("%d job(s) failed in last %dh (threshold %d)",
				snap.FailedJobs, snap.LookbackHours, a.cfg.FailedJobsThreshold),
			Details: map[string]any{
				"failed":    snap.FailedJobs,
				"threshold": a.cfg.FailedJobsThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleJobsThreshold > 0 && snap.StaleJobs >= a.cfg.StaleJobsThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStaleJobs,
			Severity: "medium",
			Message:  fmt.Sprintf("%d job(s) stuck in processing", snap.StaleJobs),
			Details: map[string]any{
				"stale":   snap.StaleJobs,
				"pending": snap.PendingJobs,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MissingEmailThreshold > 0 && snap.MissingEmail >= a.cfg.MissingEmailThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertMissingEmailBacklog,
			Severity: "low",
			Message:  fmt.Sprintf("%d draft(s) waiting for a contact address", snap.MissingEmail),
			Details: map[string]any{
				"missing_email": snap.MissingEmail,
				"threshold":     a.cfg.MissingEmailThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BounceRateThreshold > 0 && snap.Sent >= minSentForBounceRate && snap.BounceRate > a.cfg.BounceRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBounceRate,
			Severity: "high",
			Message: fmt.Sprintf("Bounce rate %.1f%% exceeds threshold %.1f%% (%d bounced / %d sent in last %dh)",
				snap.BounceRate*100, a.cfg.BounceRateThreshold*100, snap.Bounced, snap.Sent, snap.LookbackHours),
			Details: map[string]any{
				"bounce_rate": snap.BounceRate,
				"threshold":   a.cfg.BounceRateThreshold,
				"bounced":     snap.Bounced,
				"sent":        snap.Sent,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
