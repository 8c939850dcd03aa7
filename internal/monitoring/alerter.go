// Package monitoring turns finished sweep summaries into webhook alerts.
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

	"github.com/zemo2003/nutrition-autopilot-sub001/internal/config"
	"github.com/zemo2003/nutrition-autopilot-sub001/internal/sweep"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate    AlertType = "sweep_failure_rate"
	AlertUnresolvedRate AlertType = "sweep_unresolved_rate"
	AlertTimedOut       AlertType = "sweep_timed_out"
)

// minAttempted is the smallest sweep whose rates are worth alerting on.
const minAttempted = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"runId"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates sweep summaries against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks the summary against thresholds and returns any alerts.
func (a *Alerter) Evaluate(s *sweep.Summary) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	attempted := s.ProductsResolved + s.ProductsUnresolved + s.ProductsFailed
	if attempted >= minAttempted {
		failRate := float64(s.ProductsFailed) / float64(attempted)
		if a.cfg.FailureRateThreshold > 0 && failRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Sweep failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
					failRate*100, a.cfg.FailureRateThreshold*100, s.ProductsFailed, attempted,
				),
				RunID: s.RunID,
				Details: map[string]any{
					"failure_rate": failRate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       s.ProductsFailed,
					"attempted":    attempted,
				},
				Timestamp: now,
			})
		}

		unresolvedRate := float64(s.ProductsUnresolved) / float64(attempted)
		if a.cfg.UnresolvedRateThreshold > 0 && unresolvedRate > a.cfg.UnresolvedRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertUnresolvedRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"%d of %d products had no usable source (%.1f%%, threshold %.1f%%)",
					s.ProductsUnresolved, attempted, unresolvedRate*100, a.cfg.UnresolvedRateThreshold*100,
				),
				RunID: s.RunID,
				Details: map[string]any{
					"unresolved_rate": unresolvedRate,
					"threshold":       a.cfg.UnresolvedRateThreshold,
					"unresolved":      s.ProductsUnresolved,
				},
				Timestamp: now,
			})
		}
	}

	if s.Status == sweep.SweepTimedOut {
		alerts = append(alerts, Alert{
			Type:     AlertTimedOut,
			Severity: "medium",
			Message:  fmt.Sprintf("Sweep hit its deadline with %d products deferred", s.ProductsDeferred),
			RunID:    s.RunID,
			Details: map[string]any{
				"deferred":    s.ProductsDeferred,
				"duration_ms": s.DurationMs,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Publish evaluates a finished sweep and delivers any alerts. It satisfies
// sweep.Publisher; delivery failures are logged, not returned.
func (a *Alerter) Publish(ctx context.Context, s *sweep.Summary) error {
	if s == nil {
		return nil
	}
	a.SendAlerts(ctx, a.Evaluate(s))
	return nil
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
