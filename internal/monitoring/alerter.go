package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCandidateFailureRate AlertType = "candidate_failure_rate"
	AlertSearchExhausted      AlertType = "search_exhausted"
	AlertSearchErrors         AlertType = "search_errors"
)

// minCandidates is the smallest window the failure rate is judged on.
const minCandidates = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// webhookAttempts bounds delivery tries per alert.
const webhookAttempts = 3

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	backoff time.Duration // delay before the first retry, doubled after each
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: 500 * time.Millisecond,
	}
}

// Evaluate returns the alerts the snapshot's window warrants, in a fixed
// order: candidate failure rate, exhausted searches, failed searches.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	window := snap.CollectedAt.Sub(snap.WindowStartedAt).Round(time.Second)
	stamp := time.Now().UTC()
	var alerts []Alert
	raise := func(typ AlertType, severity, msg string, details map[string]any) {
		alerts = append(alerts, Alert{Type: typ, Severity: severity, Message: msg, Details: details, Timestamp: stamp})
	}

	// A high rate usually means a metric column is nearly constant.
	evaluated := snap.CandidatesScored + snap.CandidatesFailed
	if evaluated >= minCandidates && snap.CandidateFailRate > a.cfg.FailureRateThreshold {
		raise(AlertCandidateFailureRate, "medium",
			fmt.Sprintf("%d of %d candidate seeds failed in %s (%.1f%% > %.1f%%)",
				snap.CandidatesFailed, evaluated, window,
				snap.CandidateFailRate*100, a.cfg.FailureRateThreshold*100),
			map[string]any{"failure_rate": snap.CandidateFailRate, "threshold": a.cfg.FailureRateThreshold},
		)
	}
	if n := snap.SearchExhausted; n > 0 {
		raise(AlertSearchExhausted, "high",
			fmt.Sprintf("%d of %d seed searches found no usable candidate in %s", n, snap.SearchTotal, window),
			map[string]any{"exhausted": n, "search_total": snap.SearchTotal},
		)
	}
	if n := snap.SearchFailed; n > 0 {
		raise(AlertSearchErrors, "high",
			fmt.Sprintf("%d of %d seed searches errored in %s", n, snap.SearchTotal, window),
			map[string]any{"failed": n, "search_total": snap.SearchTotal},
		)
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
		if err := a.deliver(ctx, alert); err != nil {
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

// deliver sends one alert, retrying transient failures with exponential
// backoff. Cancellation stops retries immediately.
func (a *Alerter) deliver(ctx context.Context, alert Alert) error {
	delay := a.backoff
	for attempt := 1; ; attempt++ {
		err := a.sendWebhook(ctx, alert)
		if err == nil || attempt >= webhookAttempts || ctx.Err() != nil || !retryable(err) {
			return err
		}
		zap.L().Debug("monitoring: retrying alert",
			zap.String("type", string(alert.Type)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

// webhookStatusError is a non-2xx webhook response.
type webhookStatusError struct {
	code int
}

func (e *webhookStatusError) Error() string {
	return fmt.Sprintf("monitoring: webhook returned status %d", e.code)
}

// retryable reports whether a delivery failure may succeed on retry:
// timeouts, throttling and server-side errors.
func retryable(err error) bool {
	var se *webhookStatusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sendWebhook posts a single alert to the webhook URL.
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
		return &webhookStatusError{code: resp.StatusCode}
	}
	return nil
}
