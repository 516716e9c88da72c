package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
)

// ClientConfig is the root configuration for the market-data client.
type ClientConfig struct {
	API       APIConfig       `yaml:"api"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Feed      FeedConfig      `yaml:"feed"`
	History   HistoryConfig   `yaml:"history"`
	Cache     CacheConfig     `yaml:"cache"`
}

// APIConfig holds endpoint and credential settings.
type APIConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	AccountID         int64         `yaml:"account_id"`
	AccessToken       string        `yaml:"access_token"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleTimeout      time.Duration `yaml:"stale_timeout"`
}

// ReconnectConfig holds backoff settings for session recovery.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// FeedConfig holds live feed settings.
type FeedConfig struct {
	CascadeUnsubscribe bool `yaml:"cascade_unsubscribe"`
	BufferSize         int  `yaml:"buffer_size"`
}

// HistoryConfig holds historical fetch settings. MaxSpans overrides the
// per-period span limit of one request, keyed by timeframe name ("M1",
// "H1", ...).
type HistoryConfig struct {
	MaxSpans map[string]time.Duration `yaml:"max_spans"`
}

// SpanOverrides converts the name-keyed overrides to period keys.
func (h HistoryConfig) SpanOverrides() (map[model.Period]time.Duration, error) {
	if len(h.MaxSpans) == 0 {
		return nil, nil
	}
	spans := make(map[model.Period]time.Duration, len(h.MaxSpans))
	for name, d := range h.MaxSpans {
		p, err := model.ParsePeriod(name)
		if err != nil {
			return nil, fmt.Errorf("history.max_spans: %w", err)
		}
		spans[p] = d
	}
	return spans, nil
}

// CacheConfig holds the local bar cache settings. An empty path disables
// caching.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg ClientConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*ClientConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
