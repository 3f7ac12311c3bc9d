// Package app wires configuration, the document store, the relay bridge and
// both listeners (data plane and ops) into one runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"trestle/pkg/banner"
	"trestle/pkg/config"
	"trestle/pkg/docapp"
	"trestle/pkg/docstore"
	"trestle/pkg/logger"
	"trestle/pkg/relay"
	"trestle/pkg/state"
)

// shutdownGrace bounds how long draining listeners and deferred tasks may
// take once the run context ends.
const shutdownGrace = 10 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	source    string
	version   string
	commit    string
	buildDate string

	bridge *relay.Bridge

	stopData    func(context.Context) error
	opsSrv      *http.Server
	sweepCancel context.CancelFunc
}

// New initializes resources that do not need a running context: it validates
// the effective config, opens the store and builds the bridge. Call Run to
// start the listeners and block until shutdown.
func New(cfg *config.Config, source, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	// validate effective config early and fail fast
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if err := state.EnsureStateDirs(cfg.Store.DBPath); err != nil {
		return nil, fmt.Errorf("bad data directory %s: %w", cfg.Store.DBPath, err)
	}
	if err := logger.AttachAuditFileSink(state.AuditPath(cfg.Store.DBPath)); err != nil {
		// audit falls back to the main logger
		logger.Warn("audit_sink_unavailable", "error", err.Error())
	}

	if err := docstore.Open(state.StorePath(cfg.Store.DBPath)); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Store.DBPath, err)
	}

	handler := docapp.Handler(docapp.Config{
		MaxDocBytes: cfg.Relay.MaxBody.Int64(),
		RPS:         cfg.Limits.RPS,
		Burst:       cfg.Limits.Burst,
	})
	bridge, err := relay.New(handler, relay.Options{
		Origin:           cfg.Origin.URL,
		TrustProxy:       cfg.Origin.TrustProxy,
		BodyBufferChunks: cfg.Relay.BodyBufferChunks,
		SlowRequest:      cfg.Relay.SlowRequest.Duration(),
	})
	if err != nil {
		_ = docstore.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		source:    source,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		bridge:    bridge,
	}, nil
}

// Run starts the sweeper and both listeners and blocks until ctx is canceled
// or a listener fails. On cancel it drains the listeners, waits for deferred
// tasks and closes the store.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	sweepCancel, err := docstore.StartSweeper(ctx, docstore.SweepConfig{
		Enabled:   a.cfg.Store.Sweep.Enabled,
		Cron:      a.cfg.Store.Sweep.Cron,
		BatchSize: a.cfg.Store.Sweep.BatchSize,
		DryRun:    a.cfg.Store.Sweep.DryRun,
	})
	if err != nil {
		return err
	}
	a.sweepCancel = sweepCancel

	errCh := a.startData()
	opsCh := a.startOps()

	select {
	case <-ctx.Done():
		return a.shutdown()
	case err := <-errCh:
		_ = a.shutdown()
		return fmt.Errorf("data listener: %w", err)
	case err := <-opsCh:
		_ = a.shutdown()
		return fmt.Errorf("ops listener: %w", err)
	}
}

// shutdown drains listeners, waits out deferred tasks and closes the store.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	if a.stopData != nil {
		if err := a.stopData(ctx); err != nil {
			logger.Warn("data_shutdown_error", "error", err.Error())
		}
	}
	if a.opsSrv != nil {
		if err := a.opsSrv.Shutdown(ctx); err != nil {
			logger.Warn("ops_shutdown_error", "error", err.Error())
		}
	}
	if a.bridge != nil {
		if err := a.bridge.Close(ctx); err != nil {
			logger.Warn("deferred_tasks_incomplete", "error", err.Error())
		}
	}
	if err := docstore.Close(); err != nil {
		logger.Warn("store_close_error", "error", err.Error())
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg, a.source, verStr)
}
