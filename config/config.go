package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Polyflow   PolyflowConfig   `yaml:"polyflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Endpoints  EndpointsConfig  `yaml:"endpoints"`
	Reader     ReaderConfig     `yaml:"reader"`
	Stream     StreamConfig     `yaml:"stream"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type PolyflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	UpdateBuffer int `yaml:"update_buffer"`
	BookBuffer   int `yaml:"book_buffer"`
	StatusBuffer int `yaml:"status_buffer"`
}

// EndpointsConfig lists the three REST base URLs and the market websocket
// endpoint. Env overrides use the caarlos0/env tags.
type EndpointsConfig struct {
	GammaURL string `yaml:"gamma_url" env:"GAMMA_URL"`
	ClobURL  string `yaml:"clob_url" env:"CLOB_URL"`
	DataURL  string `yaml:"data_url" env:"DATA_API_URL"`
	WsURL    string `yaml:"ws_url" env:"WS_URL"`
}

type ReaderConfig struct {
	Timeout   time.Duration    `yaml:"timeout"`
	Retry     RetryConfig      `yaml:"retry"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Rules     []RateRuleConfig `yaml:"rules"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// RateLimitConfig tunes the token-per-second smoothing limiter applied to
// every outbound request, independent of the per-endpoint window rules.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// RateRuleConfig is one fixed-window admission rule, matched by host and
// path prefix. Requests not matching any rule bypass window limiting.
type RateRuleConfig struct {
	Host       string        `yaml:"host"`
	PathPrefix string        `yaml:"path_prefix"`
	Capacity   int           `yaml:"capacity"`
	Window     time.Duration `yaml:"window"`
}

type StreamConfig struct {
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	StaleThreshold     time.Duration `yaml:"stale_threshold"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
}

type ReconcilerConfig struct {
	StreamFreshness  time.Duration `yaml:"stream_freshness"`
	BookInterval     time.Duration `yaml:"book_interval"`
	PriceInterval    time.Duration `yaml:"price_interval"`
	HistoryInterval  time.Duration `yaml:"history_interval"`
	HoldersInterval  time.Duration `yaml:"holders_interval"`
	PriceStaleAfter  time.Duration `yaml:"price_stale_after"`
	BookStaleAfter   time.Duration `yaml:"book_stale_after"`
	HistoryStale     time.Duration `yaml:"history_stale_after"`
	HoldersStale     time.Duration `yaml:"holders_stale_after"`
	HistoryMaxPoints int           `yaml:"history_max_points"`
	HoldersLimit     int           `yaml:"holders_limit"`
}

type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables win over file values
	if err := env.Parse(&config.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to apply endpoint env overrides: %w", err)
	}
	if err := env.Parse(&config.Logging); err != nil {
		return nil, fmt.Errorf("failed to apply logging env overrides: %w", err)
	}

	config.Endpoints.GammaURL = strings.TrimRight(strings.TrimSpace(config.Endpoints.GammaURL), "/")
	config.Endpoints.ClobURL = strings.TrimRight(strings.TrimSpace(config.Endpoints.ClobURL), "/")
	config.Endpoints.DataURL = strings.TrimRight(strings.TrimSpace(config.Endpoints.DataURL), "/")
	config.Endpoints.WsURL = strings.TrimSpace(config.Endpoints.WsURL)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Channels: ChannelsConfig{
			UpdateBuffer: 256,
			BookBuffer:   32,
			StatusBuffer: 16,
		},
		Reader: ReaderConfig{
			Timeout: 10 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   300 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         5,
			},
		},
		Stream: StreamConfig{
			HeartbeatInterval:  2 * time.Second,
			StaleThreshold:     15 * time.Second,
			ReconnectBaseDelay: 500 * time.Millisecond,
			ReconnectMaxDelay:  30 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			StreamFreshness:  5 * time.Second,
			BookInterval:     10 * time.Second,
			PriceInterval:    15 * time.Second,
			HistoryInterval:  60 * time.Second,
			HoldersInterval:  5 * time.Minute,
			PriceStaleAfter:  30 * time.Second,
			BookStaleAfter:   45 * time.Second,
			HistoryStale:     5 * time.Minute,
			HoldersStale:     15 * time.Minute,
			HistoryMaxPoints: 1000,
			HoldersLimit:     20,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Polyflow.Name == "" {
		return fmt.Errorf("polyflow.name is required")
	}

	if cfg.Polyflow.Version == "" {
		return fmt.Errorf("polyflow.version is required")
	}

	if cfg.Channels.UpdateBuffer <= 0 {
		return fmt.Errorf("channels.update_buffer must be greater than 0")
	}
	if cfg.Channels.BookBuffer <= 0 {
		return fmt.Errorf("channels.book_buffer must be greater than 0")
	}

	for _, name := range []struct {
		key string
		val string
	}{
		{"endpoints.gamma_url", cfg.Endpoints.GammaURL},
		{"endpoints.clob_url", cfg.Endpoints.ClobURL},
		{"endpoints.data_url", cfg.Endpoints.DataURL},
	} {
		if name.val == "" {
			return fmt.Errorf("%s is required", name.key)
		}
		if _, err := url.Parse(name.val); err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", name.key, err)
		}
	}
	if cfg.Endpoints.WsURL == "" {
		return fmt.Errorf("endpoints.ws_url is required")
	}
	if !strings.HasPrefix(cfg.Endpoints.WsURL, "ws://") && !strings.HasPrefix(cfg.Endpoints.WsURL, "wss://") {
		return fmt.Errorf("endpoints.ws_url must be a ws:// or wss:// URL")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reader.retry.max_attempts must be greater than 0")
	}
	if cfg.Reader.Retry.BaseDelay <= 0 {
		return fmt.Errorf("reader.retry.base_delay must be greater than 0")
	}

	for i, rule := range cfg.Reader.Rules {
		if rule.Host == "" {
			return fmt.Errorf("reader.rules[%d].host is required", i)
		}
		if rule.Capacity <= 0 {
			return fmt.Errorf("reader.rules[%d].capacity must be greater than 0", i)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("reader.rules[%d].window must be greater than 0", i)
		}
	}

	if cfg.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeat_interval must be greater than 0")
	}
	if cfg.Stream.StaleThreshold <= cfg.Stream.HeartbeatInterval {
		return fmt.Errorf("stream.stale_threshold must exceed stream.heartbeat_interval")
	}
	if cfg.Stream.ReconnectBaseDelay <= 0 || cfg.Stream.ReconnectMaxDelay < cfg.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream reconnect delays are invalid")
	}

	if cfg.Reconciler.BookInterval <= 0 {
		return fmt.Errorf("reconciler.book_interval must be greater than 0")
	}
	if cfg.Reconciler.HistoryInterval <= 0 {
		return fmt.Errorf("reconciler.history_interval must be greater than 0")
	}
	if cfg.Reconciler.HoldersInterval <= 0 {
		return fmt.Errorf("reconciler.holders_interval must be greater than 0")
	}
	if cfg.Reconciler.StreamFreshness <= 0 {
		return fmt.Errorf("reconciler.stream_freshness must be greater than 0")
	}
	if cfg.Reconciler.PriceStaleAfter <= 0 {
		return fmt.Errorf("reconciler.price_stale_after must be greater than 0")
	}
	if cfg.Reconciler.BookStaleAfter <= 0 {
		return fmt.Errorf("reconciler.book_stale_after must be greater than 0")
	}
	if cfg.Reconciler.HistoryStale <= 0 {
		return fmt.Errorf("reconciler.history_stale_after must be greater than 0")
	}
	if cfg.Reconciler.HoldersStale <= 0 {
		return fmt.Errorf("reconciler.holders_stale_after must be greater than 0")
	}
	if cfg.Reconciler.HistoryMaxPoints <= 0 {
		return fmt.Errorf("reconciler.history_max_points must be greater than 0")
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when dashboard is enabled")
	}

	return nil
}
