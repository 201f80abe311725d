package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `{
	"sources": [
		{"name": "coastal", "protocol": "tcp", "host": "ais.example.net", "port": 4712}
	]
}`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8765", cfg.Server.Listen)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 60*time.Second, cfg.DedupWindow())
	assert.Equal(t, time.Hour, cfg.VesselTTL())
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval())
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval())
	assert.Equal(t, 30*time.Second, cfg.Heartbeat())
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout())
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"server": {"listen": ":9000", "shutdown_timeout_seconds": 5},
		"logging": {"level": "debug", "development": true},
		"sources": [
			{"name": "coastal", "protocol": "tcp", "host": "10.0.0.5", "port": 4712},
			{"name": "aggregator", "protocol": "websocket", "url": "wss://feed.example.net/stream", "enabled": false},
			{"name": "mast", "protocol": "serial", "device": "/dev/ttyUSB0", "baud": 4800}
		],
		"dedup": {"window_seconds": 30, "ttl_multiplier": 3},
		"vessels": {"ttl_seconds": 1800, "cleanup_interval_seconds": 120},
		"watchlist": {
			"enabled": true,
			"api_url": "https://lists.example.net",
			"auth_type": "bearer",
			"auth_token": "secret",
			"sync_on_start": true,
			"sync_interval_seconds": 60,
			"push_updates": true,
			"db_path": "watchlist.db"
		},
		"websocket": {"max_clients": 100, "rate_limit": 3, "heartbeat_seconds": 15, "disabled_pools": ["raw"], "broadcast_raw": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.DedupWindow())
	assert.Equal(t, 30*time.Minute, cfg.VesselTTL())
	assert.Equal(t, time.Minute, cfg.SyncInterval())
	assert.Equal(t, 15*time.Second, cfg.Heartbeat())
	assert.True(t, cfg.Watchlist.Enabled)
	assert.True(t, cfg.WebSocket.BroadcastRaw)
	assert.Equal(t, []string{"raw"}, cfg.WebSocket.DisabledPools)

	require.Len(t, cfg.Sources, 3)
	assert.True(t, cfg.Sources[0].IsEnabled())
	assert.False(t, cfg.Sources[1].IsEnabled())
	assert.Equal(t, 4800, cfg.Sources[2].Baud)
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("WATCHLIST_TOKEN", "tok-123")
	t.Setenv("FEED_HOST", "ais.example.net")

	cfg, err := Load(writeConfig(t, `{
		"sources": [
			{"name": "coastal", "protocol": "tcp", "host": "${FEED_HOST}", "port": 4712}
		],
		"watchlist": {
			"enabled": true,
			"api_url": "https://lists.example.net",
			"auth_type": "bearer",
			"auth_token": "${WATCHLIST_TOKEN}"
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "ais.example.net", cfg.Sources[0].Host)
	assert.Equal(t, "tok-123", cfg.Watchlist.AuthToken)
}

func TestLoad_Invalid(t *testing.T) {
	var testCases = []struct {
		name string
		body string
		want string
	}{
		{
			name: "no sources",
			body: `{"sources": []}`,
			want: "at least one source",
		},
		{
			name: "all sources disabled",
			body: `{"sources": [{"name": "a", "protocol": "tcp", "host": "h", "port": 1, "enabled": false}]}`,
			want: "every source is disabled",
		},
		{
			name: "tcp without port",
			body: `{"sources": [{"name": "a", "protocol": "tcp", "host": "h"}]}`,
			want: "tcp requires host and port",
		},
		{
			name: "unknown protocol",
			body: `{"sources": [{"name": "a", "protocol": "carrier-pigeon"}]}`,
			want: "unknown protocol",
		},
		{
			name: "watchlist without url",
			body: `{"sources": [{"name": "a", "protocol": "tcp", "host": "h", "port": 1}], "watchlist": {"enabled": true}}`,
			want: "watchlist.api_url is required",
		},
		{
			name: "bad auth type",
			body: `{"sources": [{"name": "a", "protocol": "tcp", "host": "h", "port": 1}], "watchlist": {"enabled": true, "api_url": "u", "auth_type": "kerberos"}}`,
			want: "unknown watchlist auth_type",
		},
		{
			name: "unknown websocket pool",
			body: `{"sources": [{"name": "a", "protocol": "tcp", "host": "h", "port": 1}], "websocket": {"disabled_pools": ["firehose"]}}`,
			want: "unknown websocket pool",
		},
		{
			name: "bad log level",
			body: `{"sources": [{"name": "a", "protocol": "tcp", "host": "h", "port": 1}], "logging": {"level": "loud"}}`,
			want: "unknown logging level",
		},
		{
			name: "malformed json",
			body: `{"sources": [`,
			want: "unexpected end",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
