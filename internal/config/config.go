package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every knob the pipeline needs. It is built once by Load and
// injected into constructors; nothing reads viper after that.
type Config struct {
	Domain  string `mapstructure:"domain"`
	CDPPort int    `mapstructure:"cdp_port"`
	DataDir string `mapstructure:"data_dir"`
	Profile string `mapstructure:"profile"`

	Locale   string `mapstructure:"locale"`
	Timezone string `mapstructure:"timezone"`

	RequestsPerMinute int     `mapstructure:"requests_per_minute"`
	MinDelayS         float64 `mapstructure:"min_delay_s"`
	MaxDelayS         float64 `mapstructure:"max_delay_s"`
	PauseS            float64 `mapstructure:"pause_s"`
	StaggerS          float64 `mapstructure:"stagger_s"`

	PagesPerSession   int     `mapstructure:"pages_per_session"`
	CooldownMinS      float64 `mapstructure:"cooldown_min_s"`
	CooldownMaxS      float64 `mapstructure:"cooldown_max_s"`
	InactivityWindowS float64 `mapstructure:"inactivity_window_s"`

	ProxyURL string `mapstructure:"proxy_url"`

	// Optional overrides for the default capture pattern sets.
	PDPPatterns    []string `mapstructure:"pdp_patterns"`
	SearchPatterns []string `mapstructure:"search_patterns"`
	BlockPatterns  []string `mapstructure:"block_patterns"`
}

// EventLogPath is where the structured JSONL event log lives.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "logs", "events.jsonl")
}

// QueueDir is the durable task store directory.
func (c *Config) QueueDir() string {
	return filepath.Join(c.DataDir, "queue", "tasks")
}

// StatusDir holds per-profile session-status records.
func (c *Config) StatusDir() string {
	return filepath.Join(c.DataDir, "status")
}

// CatalogDSN is the sqlite file backing the capture-run catalog.
func (c *Config) CatalogDSN() string {
	return filepath.Join(c.DataDir, "catalog.sqlite3")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain", "shopee.com.br")
	v.SetDefault("cdp_port", 9222)
	v.SetDefault("data_dir", "data")
	v.SetDefault("profile", "default")
	v.SetDefault("locale", "pt-BR")
	v.SetDefault("timezone", "America/Sao_Paulo")
	v.SetDefault("requests_per_minute", 60)
	v.SetDefault("min_delay_s", 1.0)
	v.SetDefault("max_delay_s", 2.5)
	v.SetDefault("pause_s", 0.5)
	v.SetDefault("stagger_s", 1.0)
	v.SetDefault("pages_per_session", 0)
	v.SetDefault("cooldown_min_s", 5.0)
	v.SetDefault("cooldown_max_s", 12.0)
	v.SetDefault("inactivity_window_s", 10.0)
	// Empty defaults too: viper only unmarshals keys it knows about, so a
	// key without a default is invisible to env overrides.
	v.SetDefault("proxy_url", "")
	v.SetDefault("pdp_patterns", []string{})
	v.SetDefault("search_patterns", []string{})
	v.SetDefault("block_patterns", []string{})
}

// Load reads config.yaml when present and applies SHOPCAP_* environment
// overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("shopcap")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = 1
	}
	if cfg.MaxDelayS < cfg.MinDelayS {
		cfg.MaxDelayS = cfg.MinDelayS
	}
	return &cfg, nil
}
