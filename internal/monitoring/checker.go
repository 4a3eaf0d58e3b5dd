package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker drains the collector's search-health window on a fixed interval
// and alerts on what it held.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	every     time.Duration
}

// NewChecker creates a checker. A non-positive CheckIntervalSecs selects
// five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	every := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if every <= 0 {
		every = defaultCheckInterval
	}
	return &Checker{collector: collector, alerter: alerter, every: every}
}

// Run calls Check every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("search health checker started", zap.Duration("every", c.every))

	ticker := time.NewTicker(c.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("search health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check evaluates the current window, opens a new one, and delivers any
// alerts. It returns how many were delivered.
func (c *Checker) Check(ctx context.Context) int {
	snap := c.collector.Collect()
	log := zap.L().With(
		zap.String("component", "monitoring.checker"),
		zap.Int("searches", snap.SearchTotal),
		zap.Int("candidates", snap.CandidatesScored+snap.CandidatesFailed),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("search health within thresholds")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	if sent < len(alerts) {
		log.Warn("search health alerts not all delivered",
			zap.Int("triggered", len(alerts)),
			zap.Int("delivered", sent),
		)
		return sent
	}
	log.Info("search health alerts delivered", zap.Int("delivered", sent))
	return sent
}
