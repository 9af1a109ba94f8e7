// Package config resolves client settings from defaults, an optional TOML
// file, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultProductID      = "THEWOODBRIDGECOMPANY.SXSDEMOAPP"
	DefaultHost           = "localhost"
	DefaultBasePort       = 9000
	DefaultMaxAttempts    = 5
	DefaultLinkType       = 3
	DefaultProbeTimeout   = 750 * time.Millisecond
	DefaultCommandTimeout = 10 * time.Second
	DefaultChannelTTL     = time.Hour
)

const (
	EnvAPIKey         = "EIKON_APP_KEY"
	EnvProductID      = "SXS_PRODUCT_ID"
	EnvHost           = "SXS_HOST"
	EnvBasePort       = "SXS_BASE_PORT"
	EnvMaxAttempts    = "SXS_MAX_ATTEMPTS"
	EnvLinkType       = "SXS_LINK_TYPE"
	EnvProbeTimeout   = "SXS_PROBE_TIMEOUT"
	EnvCommandTimeout = "SXS_COMMAND_TIMEOUT"
	EnvWatchlist      = "SXS_WATCHLIST"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config holds client settings.
type Config struct {
	ProductID      string
	APIKey         string
	Host           string
	BasePort       int
	MaxAttempts    int
	LinkType       int
	ProbeTimeout   time.Duration
	CommandTimeout time.Duration
	ChannelTTL     time.Duration
	WatchlistPath  string
}

type fileConfig struct {
	ProductID      string `toml:"product_id"`
	APIKey         string `toml:"api_key"`
	Host           string `toml:"host"`
	BasePort       int    `toml:"base_port"`
	MaxAttempts    int    `toml:"max_attempts"`
	LinkType       int    `toml:"link_type"`
	ProbeTimeout   string `toml:"probe_timeout"`
	CommandTimeout string `toml:"command_timeout"`
	ChannelTTL     string `toml:"channel_ttl"`
	Watchlist      string `toml:"watchlist"`
}

// Default returns the built-in configuration. APIKey is always empty.
func Default() Config {
	return Config{
		ProductID:      DefaultProductID,
		Host:           DefaultHost,
		BasePort:       DefaultBasePort,
		MaxAttempts:    DefaultMaxAttempts,
		LinkType:       DefaultLinkType,
		ProbeTimeout:   DefaultProbeTimeout,
		CommandTimeout: DefaultCommandTimeout,
		ChannelTTL:     DefaultChannelTTL,
	}
}

// Load resolves defaults, then path (if non-empty), then the environment.
// A missing API key is not an error here; the session reports it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("product_id") {
		if v := strings.TrimSpace(raw.ProductID); v != "" {
			cfg.ProductID = v
		}
	}
	if meta.IsDefined("api_key") {
		cfg.APIKey = strings.TrimSpace(raw.APIKey)
	}
	if meta.IsDefined("host") {
		if v := strings.TrimSpace(raw.Host); v != "" {
			cfg.Host = v
		}
	}
	if meta.IsDefined("base_port") {
		cfg.BasePort = raw.BasePort
	}
	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("link_type") {
		cfg.LinkType = raw.LinkType
	}
	if meta.IsDefined("probe_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ProbeTimeout))
		if err != nil {
			return fmt.Errorf("parse probe_timeout: %w", err)
		}
		cfg.ProbeTimeout = d
	}
	if meta.IsDefined("command_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CommandTimeout))
		if err != nil {
			return fmt.Errorf("parse command_timeout: %w", err)
		}
		cfg.CommandTimeout = d
	}
	if meta.IsDefined("channel_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ChannelTTL))
		if err != nil {
			return fmt.Errorf("parse channel_ttl: %w", err)
		}
		cfg.ChannelTTL = d
	}
	if meta.IsDefined("watchlist") {
		cfg.WatchlistPath = strings.TrimSpace(raw.Watchlist)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvProductID); v != "" {
		cfg.ProductID = v
	}
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(EnvBasePort); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvBasePort, err)
		}
		cfg.BasePort = n
	}
	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvMaxAttempts, err)
		}
		cfg.MaxAttempts = n
	}
	if v := os.Getenv(EnvLinkType); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvLinkType, err)
		}
		cfg.LinkType = n
	}
	if v := os.Getenv(EnvProbeTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvProbeTimeout, err)
		}
		cfg.ProbeTimeout = d
	}
	if v := os.Getenv(EnvCommandTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvCommandTimeout, err)
		}
		cfg.CommandTimeout = d
	}
	if v := os.Getenv(EnvWatchlist); v != "" {
		cfg.WatchlistPath = v
	}
	return nil
}

// Validate checks ranges. It does not require an API key.
func (c Config) Validate() error {
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("%w: base port %d out of range", ErrInvalidConfig, c.BasePort)
	}
	if c.MaxAttempts < 0 || c.BasePort+c.MaxAttempts > 65535 {
		return fmt.Errorf("%w: max attempts %d out of range", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: probe timeout must be positive", ErrInvalidConfig)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("%w: command timeout must be positive", ErrInvalidConfig)
	}
	if c.ProductID == "" {
		return fmt.Errorf("%w: product id is empty", ErrInvalidConfig)
	}
	return nil
}
