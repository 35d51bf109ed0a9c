package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/config"
)

// Checker periodically summarizes the lineage table over the lookback
// window and alerts on it.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run checks once, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	if ctx.Err() == nil {
		c.check(ctx, log)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect lineage", zap.Error(err))
		return
	}
	log.Debug("monitoring: lineage snapshot",
		zap.Int("runs", snap.Runs),
		zap.Int("finished", snap.Finished()),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Float64("cost_usd", snap.CostUSD),
	)
	c.alerter.Dispatch(ctx, snap)
}

// Dispatch evaluates snap and sends whatever fires. It returns the alerts
// that fired, sent or not.
func (a *Alerter) Dispatch(ctx context.Context, snap *Snapshot) []Alert {
	alerts := a.Evaluate(snap)
	if len(alerts) == 0 {
		zap.L().Debug("monitoring: no alerts triggered", zap.Int("runs", snap.Runs))
		return nil
	}
	sent := a.SendAlerts(ctx, alerts)
	zap.L().Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
