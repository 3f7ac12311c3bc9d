package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Engine names accepted by server.engine and the -engine flag.
const (
	EngineNetHTTP  = "nethttp"
	EngineFastHTTP = "fasthttp"
)

// Addr returns host:port for the data-plane listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Engine returns the configured engine name, defaulting to nethttp.
func (c *Config) Engine() string {
	if c.Server.Engine == "" {
		return EngineNetHTTP
	}
	return c.Server.Engine
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, engine string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	enginePtr := flag.String("engine", EngineNetHTTP, "HTTP engine (nethttp|fasthttp)")
	dbPtr := flag.String("db", "./.trestle", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *enginePtr, *dbPtr, *cfgPtr, setFlags
}

// ApplyFlagOverrides folds explicitly set command-line flags onto cfg.
// Flags win over both env and file values.
func ApplyFlagOverrides(cfg *Config, addr, engine, dbPath string, setFlags map[string]bool) {
	if setFlags["addr"] {
		if h, p, err := net.SplitHostPort(addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = addr
		}
	}
	if setFlags["engine"] {
		cfg.Server.Engine = strings.ToLower(strings.TrimSpace(engine))
	}
	if setFlags["db"] {
		cfg.Store.DBPath = dbPath
	}
}

// LoadEnvOverrides applies TRESTLE_* environment overrides onto the provided
// cfg and reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseBool := func(v string) bool {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true
		}
		return false
	}

	if v := os.Getenv("TRESTLE_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("TRESTLE_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("TRESTLE_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("TRESTLE_ENGINE"); v != "" {
		envUsed = true
		cfg.Server.Engine = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("TRESTLE_DB_PATH"); v != "" {
		envUsed = true
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("TRESTLE_ORIGIN"); v != "" {
		envUsed = true
		cfg.Origin.URL = v
	}
	if v := os.Getenv("TRESTLE_TRUST_PROXY"); v != "" {
		envUsed = true
		cfg.Origin.TrustProxy = parseBool(v)
	}
	if v := os.Getenv("TRESTLE_MAX_BODY"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			envUsed = true
			cfg.Relay.MaxBody = SizeBytes(n)
		}
	}
	if v := os.Getenv("TRESTLE_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Limits.RPS = f
		}
	}
	if v := os.Getenv("TRESTLE_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Limits.Burst = n
		}
	}
	if v := os.Getenv("TRESTLE_OPS_ADDR"); v != "" {
		envUsed = true
		cfg.Ops.Address = v
	}
	if v := os.Getenv("TRESTLE_OPS_SOCKET"); v != "" {
		envUsed = true
		cfg.Ops.UnixSocket = v
	}
	if c := os.Getenv("TRESTLE_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("TRESTLE_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from the given path (file) and applies
// environment overrides. A missing or unreadable file yields a zero config so
// env-only and flag-only deployments keep working.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `TRESTLE_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("TRESTLE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
