package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "shopee.com.br", cfg.Domain)
	assert.Equal(t, 9222, cfg.CDPPort)
	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10.0, cfg.InactivityWindowS)
	assert.Equal(t, 0, cfg.PagesPerSession)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SHOPCAP_DOMAIN", "shopee.co.id")
	t.Setenv("SHOPCAP_PROFILE", "perfil-2")
	t.Setenv("SHOPCAP_REQUESTS_PER_MINUTE", "0")
	t.Setenv("SHOPCAP_PROXY_URL", "socks5://127.0.0.1:9050")
	t.Setenv("SHOPCAP_BLOCK_PATTERNS", "/verify/,/denied/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "shopee.co.id", cfg.Domain)
	assert.Equal(t, "perfil-2", cfg.Profile)
	assert.Equal(t, 1, cfg.RequestsPerMinute, "a zero budget is coerced to the minimum")
	assert.Equal(t, "socks5://127.0.0.1:9050", cfg.ProxyURL)
	assert.Equal(t, []string{"/verify/", "/denied/"}, cfg.BlockPatterns)
}

func TestLoadCoercesDelayRange(t *testing.T) {
	t.Setenv("SHOPCAP_MIN_DELAY_S", "3.0")
	t.Setenv("SHOPCAP_MAX_DELAY_S", "1.0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.MinDelayS, cfg.MaxDelayS)
}

func TestConfigPaths(t *testing.T) {
	cfg := &Config{DataDir: "data"}
	assert.Equal(t, filepath.Join("data", "logs", "events.jsonl"), cfg.EventLogPath())
	assert.Equal(t, filepath.Join("data", "queue", "tasks"), cfg.QueueDir())
	assert.Equal(t, filepath.Join("data", "status"), cfg.StatusDir())
	assert.Equal(t, filepath.Join("data", "catalog.sqlite3"), cfg.CatalogDSN())
}
