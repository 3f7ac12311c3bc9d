package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Origin  OriginConfig  `yaml:"origin"`
	Relay   RelayConfig   `yaml:"relay"`
	Store   StoreConfig   `yaml:"store"`
	Limits  LimitsConfig  `yaml:"limits"`
	Ops     OpsConfig     `yaml:"ops"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the data-plane listener settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	Engine  string    `yaml:"engine"` // nethttp | fasthttp
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// OriginConfig controls how the externally visible URL of a request is
// resolved when the server sits behind proxies or name-based routing.
type OriginConfig struct {
	URL        string `yaml:"url"`         // explicit scheme://host override
	TrustProxy bool   `yaml:"trust_proxy"` // honor x-forwarded-* from the peer
}

// RelayConfig tunes the request/response bridge.
type RelayConfig struct {
	ReadChunk        SizeBytes `yaml:"read_chunk"`         // body pump read size
	BodyBufferChunks int       `yaml:"body_buffer_chunks"` // queued chunks per request body
	MaxBody          SizeBytes `yaml:"max_body"`           // request body cap, 0 = engine default
	SlowRequest      Duration  `yaml:"slow_request"`       // warn when a handler runs longer
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	DBPath string      `yaml:"db_path"`
	Sweep  SweepConfig `yaml:"sweep"`
}

// SweepConfig drives the expired-document sweeper.
type SweepConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	BatchSize int    `yaml:"batch_size"`
	DryRun    bool   `yaml:"dry_run"`
}

// LimitsConfig holds per-client rate limiting.
type LimitsConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// OpsConfig holds the ops/admin listener settings.
type OpsConfig struct {
	Address      string `yaml:"address"`        // empty disables the TCP ops listener
	UnixSocket   string `yaml:"unix_socket"`    // optional unix-socket ops listener
	SameUserOnly bool   `yaml:"same_user_only"` // restrict the unix socket to the server's UID
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
