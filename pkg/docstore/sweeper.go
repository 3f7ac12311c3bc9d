package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"trestle/pkg/logger"
)

// SweepConfig drives the scheduled expiry sweeper.
type SweepConfig struct {
	Enabled   bool
	Cron      string
	BatchSize int
	DryRun    bool
}

var storedSweep *SweepConfig

// RunImmediate triggers a single sweep using the registered config so admin
// endpoints (or tests) can force one on demand.
func RunImmediate() (int, error) {
	if storedSweep == nil {
		return 0, fmt.Errorf("no sweep config registered; call StartSweeper first")
	}
	return SweepExpired(time.Now().UTC(), storedSweep.BatchSize, storedSweep.DryRun)
}

// StartSweeper starts the cron driven expiry sweeper if enabled. Returns a
// cancel func.
func StartSweeper(ctx context.Context, cfg SweepConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("sweep_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @03:00
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cfg.Cron)
	}

	storedSweep = &cfg
	logger.Info("sweep_enabled", "cron", cronExpr, "batch", cfg.BatchSize, "dry_run", cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time. Sweeps run inline so two never
// overlap.
func runScheduler(ctx context.Context, cfg SweepConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			// fallback sleep then retry
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("sweep_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if removed, rerr := SweepExpired(time.Now().UTC(), cfg.BatchSize, cfg.DryRun); rerr != nil {
				logger.Error("sweep_run_error", "error", rerr)
			} else {
				logger.Info("sweep_run_complete", "removed", removed, "dry_run", cfg.DryRun)
			}
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		}
	}
}
