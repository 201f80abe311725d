// Package config loads and validates the tracker configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethan0sc4r/codmar001/source"
)

// Defaults applied by Load when the file leaves a section out.
const (
	DefaultListenAddr         = ":8765"
	DefaultDedupWindowSec     = 60
	DefaultVesselTTLSec       = 3600
	DefaultCleanupIntervalSec = 300
	DefaultSyncIntervalSec    = 300
	DefaultHeartbeatSec       = 30
	DefaultShutdownTimeoutSec = 10
)

// Config is the full tracker configuration.
type Config struct {
	Server    Server          `json:"server"`
	Logging   Logging         `json:"logging"`
	Sources   []source.Config `json:"sources"`
	Dedup     Dedup           `json:"dedup"`
	Vessels   Vessels         `json:"vessels"`
	Watchlist Watchlist       `json:"watchlist"`
	WebSocket WebSocket       `json:"websocket"`
}

// Server holds the HTTP listener settings.
type Server struct {
	Listen             string `json:"listen"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_seconds"`
}

// Logging selects the log output shape.
type Logging struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Dedup tunes the duplicate-suppression window.
type Dedup struct {
	WindowSec     int `json:"window_seconds"`
	TTLMultiplier int `json:"ttl_multiplier"`
}

// Vessels tunes the vessel-state store.
type Vessels struct {
	TTLSec             int `json:"ttl_seconds"`
	CleanupIntervalSec int `json:"cleanup_interval_seconds"`
}

// Watchlist configures the upstream provider and the sync schedule.
type Watchlist struct {
	Enabled bool   `json:"enabled"`
	APIURL  string `json:"api_url"`

	VesselsEndpoint string `json:"vessels_endpoint,omitempty"`
	ListsEndpoint   string `json:"lists_endpoint,omitempty"`

	// AuthType is one of "none", "bearer", "apikey" or "basic".
	AuthType  string `json:"auth_type,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`

	SyncOnStart     bool `json:"sync_on_start"`
	SyncIntervalSec int  `json:"sync_interval_seconds"`
	PushUpdates     bool `json:"push_updates"`

	// DBPath is the durable store location; ":memory:" keeps everything
	// in-process.
	DBPath string `json:"db_path,omitempty"`
}

// WebSocket tunes the fan-out side.
type WebSocket struct {
	MaxClients    int `json:"max_clients"`
	MaxClientsGeo int `json:"max_clients_geo"`
	MaxConnsPerIP int `json:"max_conns_per_ip"`
	RateLimit     int `json:"rate_limit"`
	RateWindowSec int `json:"rate_window_seconds"`
	SendBuffer    int `json:"send_buffer"`
	HeartbeatSec  int `json:"heartbeat_seconds"`

	// AuthToken, when set, is required of every subscriber.
	AuthToken string `json:"auth_token,omitempty"`

	// DisabledPools names the stream endpoints this deployment does not
	// serve: any of "raw", "all", "watchlist", "geo", "geo_watchlist".
	DisabledPools []string `json:"disabled_pools,omitempty"`

	BroadcastRaw bool `json:"broadcast_raw"`
}

// Load reads a config file, expands ${VAR} references from the environment
// and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	if err := json.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = DefaultShutdownTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Dedup.WindowSec <= 0 {
		c.Dedup.WindowSec = DefaultDedupWindowSec
	}
	if c.Vessels.TTLSec <= 0 {
		c.Vessels.TTLSec = DefaultVesselTTLSec
	}
	if c.Vessels.CleanupIntervalSec <= 0 {
		c.Vessels.CleanupIntervalSec = DefaultCleanupIntervalSec
	}
	if c.Watchlist.SyncIntervalSec <= 0 {
		c.Watchlist.SyncIntervalSec = DefaultSyncIntervalSec
	}
	if c.WebSocket.HeartbeatSec <= 0 {
		c.WebSocket.HeartbeatSec = DefaultHeartbeatSec
	}
}

// Validate fails fast on a config that cannot run.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("config: at least one source is required")
	}
	enabled := 0
	for _, src := range c.Sources {
		if !src.IsEnabled() {
			continue
		}
		enabled++
		if err := src.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if enabled == 0 {
		return errors.New("config: every source is disabled")
	}

	if c.Watchlist.Enabled && c.Watchlist.APIURL == "" {
		return errors.New("config: watchlist.api_url is required when watchlist is enabled")
	}
	switch c.Watchlist.AuthType {
	case "", "none", "bearer", "apikey", "basic":
	default:
		return fmt.Errorf("config: unknown watchlist auth_type %q", c.Watchlist.AuthType)
	}

	for _, pool := range c.WebSocket.DisabledPools {
		switch pool {
		case "raw", "all", "watchlist", "geo", "geo_watchlist":
		default:
			return fmt.Errorf("config: unknown websocket pool %q", pool)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	return nil
}

// DedupWindow returns the dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowSec) * time.Second
}

// VesselTTL returns the vessel record lifetime.
func (c *Config) VesselTTL() time.Duration {
	return time.Duration(c.Vessels.TTLSec) * time.Second
}

// CleanupInterval returns the state sweep period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Vessels.CleanupIntervalSec) * time.Second
}

// SyncInterval returns the watchlist sync period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Watchlist.SyncIntervalSec) * time.Second
}

// Heartbeat returns the keepalive period for subscribers.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.WebSocket.HeartbeatSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}

// RateWindow returns the subscriber admission rate window; zero selects the
// fan-out default.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.WebSocket.RateWindowSec) * time.Second
}
