package app

import (
	"fmt"
	"os"

	"trestle/pkg/config"
	"trestle/pkg/relay"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	// DB path must be present
	if cfg.Store.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, TRESTLE_DB_PATH env, or store.db_path in config")
	}

	switch cfg.Engine() {
	case config.EngineNetHTTP, config.EngineFastHTTP:
	default:
		return fmt.Errorf("unknown engine %q: use %s or %s", cfg.Server.Engine, config.EngineNetHTTP, config.EngineFastHTTP)
	}

	// TLS cert/key presence check if one is set
	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	// a partial origin must never reach the resolver
	if err := relay.ValidateOrigin(cfg.Origin.URL); err != nil {
		return err
	}

	if cfg.Ops.SameUserOnly && cfg.Ops.UnixSocket == "" {
		return fmt.Errorf("ops.same_user_only requires ops.unix_socket to be set")
	}
	return nil
}
