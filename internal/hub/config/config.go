// Package config loads the hub's runtime configuration. Defaults are
// layered under an optional YAML file and the enumerated environment
// variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the hub's runtime configuration. Millisecond fields
// mirror the wire-level knob names; use the duration accessors.
type Config struct {
	BindAddr  string `koanf:"bind_addr"`
	DataDir   string `koanf:"data_dir"`
	AuthToken string `koanf:"auth_token"`

	HeartbeatTimeoutMS int64 `koanf:"heartbeat_timeout_ms"`
	OrchTimeoutMS      int64 `koanf:"orch_timeout_ms"`
	AuctionDefaultMS   int64 `koanf:"auction_default_ms"`
	MinLeaseTTLMS      int64 `koanf:"min_lease_ttl_ms"`
	MaxLeaseTTLMS      int64 `koanf:"max_lease_ttl_ms"`
	SnapshotEveryN     int   `koanf:"snapshot_every_n"`
	SnapshotIntervalMS int64 `koanf:"snapshot_interval_ms"`
	ProjectIdleMS      int64 `koanf:"project_idle_ms"`
	AgentTTLMS         int64 `koanf:"agent_ttl_ms"`
	ScanIntervalMS     int64 `koanf:"scan_interval_ms"`
	ReapIntervalMS     int64 `koanf:"reap_interval_ms"`
	PongTimeoutMS      int64 `koanf:"pong_timeout_ms"`
	IdleTimeoutMS      int64 `koanf:"idle_timeout_ms"`

	MaxConnectionsPerProject int `koanf:"max_connections_per_project"`
	MaxEventQueue            int `koanf:"max_event_queue"`
	InboxCap                 int `koanf:"inbox_cap"`
}

// defaults are the documented default values for every knob.
var defaults = map[string]any{
	"bind_addr":                   ":4540",
	"data_dir":                    defaultDataDir(),
	"auth_token":                  "",
	"heartbeat_timeout_ms":        60_000,
	"orch_timeout_ms":             120_000,
	"auction_default_ms":          10_000,
	"min_lease_ttl_ms":            30_000,
	"max_lease_ttl_ms":            1_800_000,
	"snapshot_every_n":            500,
	"snapshot_interval_ms":        60_000,
	"project_idle_ms":             900_000,
	"agent_ttl_ms":                1_800_000,
	"scan_interval_ms":            10_000,
	"reap_interval_ms":            5_000,
	"pong_timeout_ms":             20_000,
	"idle_timeout_ms":             90_000,
	"max_connections_per_project": 64,
	"max_event_queue":             256,
	"inbox_cap":                   1000,
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables (BIND_ADDR, DATA_DIR, AUTH_TOKEN, ...).
func Load(configFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configFile, err)
		}
	}

	// The enumerated env vars carry no prefix (BIND_ADDR, not
	// SWARMHUB_BIND_ADDR); lowercasing maps them onto the koanf keys
	// and anything unrecognized is ignored by Unmarshal.
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate checks configuration values. It does not touch the
// filesystem; see EnsureDataDir.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth_token is required")
	}
	if c.MinLeaseTTLMS <= 0 || c.MaxLeaseTTLMS < c.MinLeaseTTLMS {
		return fmt.Errorf("lease ttl bounds invalid: min=%dms max=%dms", c.MinLeaseTTLMS, c.MaxLeaseTTLMS)
	}
	if c.SnapshotEveryN <= 0 {
		return fmt.Errorf("snapshot_every_n must be positive")
	}
	if c.MaxEventQueue <= 0 || c.MaxConnectionsPerProject <= 0 {
		return fmt.Errorf("queue and connection limits must be positive")
	}
	return nil
}

// EnsureDataDir creates the data directory if needed and verifies it
// is writable.
func (c *Config) EnsureDataDir() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	probe := filepath.Join(c.DataDir, ".probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}

// SocketPath returns the Unix domain socket path for local clients.
func (c *Config) SocketPath() string {
	return filepath.Join(c.DataDir, "swarmhub.sock")
}

// ProjectDir returns the per-project data directory.
func (c *Config) ProjectDir(projectID string) string {
	return filepath.Join(c.DataDir, projectID)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "swarmhub")
	}
	return filepath.Join(home, ".config", "swarmhub")
}

// Duration accessors.

func (c *Config) HeartbeatTimeout() time.Duration { return ms(c.HeartbeatTimeoutMS) }
func (c *Config) OrchTimeout() time.Duration      { return ms(c.OrchTimeoutMS) }
func (c *Config) AuctionDefault() time.Duration   { return ms(c.AuctionDefaultMS) }
func (c *Config) MinLeaseTTL() time.Duration      { return ms(c.MinLeaseTTLMS) }
func (c *Config) MaxLeaseTTL() time.Duration      { return ms(c.MaxLeaseTTLMS) }
func (c *Config) SnapshotInterval() time.Duration { return ms(c.SnapshotIntervalMS) }
func (c *Config) ProjectIdle() time.Duration      { return ms(c.ProjectIdleMS) }
func (c *Config) AgentTTL() time.Duration         { return ms(c.AgentTTLMS) }
func (c *Config) ScanInterval() time.Duration     { return ms(c.ScanIntervalMS) }
func (c *Config) ReapInterval() time.Duration     { return ms(c.ReapIntervalMS) }
func (c *Config) PongTimeout() time.Duration      { return ms(c.PongTimeoutMS) }
func (c *Config) IdleTimeout() time.Duration      { return ms(c.IdleTimeoutMS) }

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}
