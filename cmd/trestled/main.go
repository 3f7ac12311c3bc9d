package main

import (
	"context"
	"log"
	"strings"

	"github.com/joho/godotenv"

	"trestle/internal/app"
	"trestle/pkg/config"
	"trestle/pkg/logger"
	"trestle/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, engineVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	// config file path: flag wins over env
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	// load effective config (file + env), then fold in explicit flags:
	// flags win over env, env wins over file
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	config.ApplyFlagOverrides(cfg, addrVal, engineVal, dbVal, setFlags)
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = dbVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	// config sources summary for the banner (flags/env/config)
	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := config.Load(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}

	a, err := app.New(cfg, strings.Join(srcs, ", "), version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Store.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
