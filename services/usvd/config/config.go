// Package config loads the usvd daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"usvprotocol/native/cdp"
	"usvprotocol/storage"
)

const (
	envEnvironment = "USVD_ENV"
	envJWTSecret   = "USVD_JWT_SECRET"

	// OracleSourceStatic serves readings pinned in the config file.
	OracleSourceStatic = "static"
	// OracleSourceHTTP polls a JSON endpoint.
	OracleSourceHTTP = "http"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for usvd.
type Config struct {
	Environment string          `yaml:"environment"`
	ParamsPath  string          `yaml:"params"`
	Listen      ListenConfig    `yaml:"listen"`
	Storage     StorageConfig   `yaml:"storage"`
	Journal     JournalConfig   `yaml:"journal"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Auth        AuthConfig      `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Oracle      OracleConfig    `yaml:"oracle"`

	// Params is decoded from ParamsPath by Load.
	Params cdp.Params `yaml:"-"`
}

type ListenConfig struct {
	HTTP string `yaml:"http"`
	GRPC string `yaml:"grpc"`
}

type StorageConfig struct {
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	AllowMigrate bool   `yaml:"allow_migrate"`
}

type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Traces      bool              `yaml:"traces"`
	Metrics     bool              `yaml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	ClockSkew Duration `yaml:"clock_skew"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// OracleConfig selects the price feed sources. In dev mode the feed returns
// DevPrice and the sources are ignored.
type OracleConfig struct {
	Interval  Duration     `yaml:"interval"`
	DevPrice  uint64       `yaml:"dev_price"`
	Primary   SourceConfig `yaml:"primary"`
	Secondary SourceConfig `yaml:"secondary"`
	// StakeRate is the wrapper tokens per 1e8 underlying. Zero is parity.
	StakeRate uint64 `yaml:"stake_rate"`
}

// SourceConfig describes one price source. Static sources read Price, Conf
// and Answer; HTTP sources fetch the same JSON shape from Endpoint.
type SourceConfig struct {
	Type     string   `yaml:"type"`
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
	Price    int64    `yaml:"price"`
	Conf     uint64   `yaml:"conf"`
	Answer   int64    `yaml:"answer"`
}

// Load reads configuration from path, applies env overrides and defaults, and
// loads the market parameters it points at.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	if cfg.ParamsPath != "" {
		params, err := cdp.LoadParams(cfg.ParamsPath)
		if err != nil {
			return cfg, err
		}
		cfg.Params = params
	} else {
		cfg.Params = cdp.DefaultParams()
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv(envEnvironment)); env != "" {
		cfg.Environment = env
	}
	if secret := os.Getenv(envJWTSecret); strings.TrimSpace(secret) != "" {
		cfg.Auth.JWTSecret = secret
	}
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Listen.HTTP == "" {
		c.Listen.HTTP = ":8480"
	}
	if c.Listen.GRPC == "" {
		c.Listen.GRPC = ":8481"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendMemory
	}
	if c.Journal.DSN == "" {
		c.Journal.DSN = "file:usvd-journal.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Auth.ClockSkew.Duration <= 0 {
		c.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	if c.Oracle.Interval.Duration <= 0 {
		c.Oracle.Interval.Duration = 30 * time.Second
	}
	for _, src := range []*SourceConfig{&c.Oracle.Primary, &c.Oracle.Secondary} {
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Type == "" {
			src.Type = OracleSourceStatic
		}
		if src.Timeout.Duration <= 0 {
			src.Timeout.Duration = 5 * time.Second
		}
	}
}

func (c Config) validate() error {
	var errs []error
	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendLevelDB, storage.BackendBolt:
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path must be set for %s", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q not supported", c.Storage.Backend))
	}
	if c.Environment != "dev" && len(strings.TrimSpace(c.Auth.JWTSecret)) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 bytes outside dev"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be within [0,1]"))
	}
	for name, src := range map[string]SourceConfig{"primary": c.Oracle.Primary, "secondary": c.Oracle.Secondary} {
		switch src.Type {
		case OracleSourceStatic:
		case OracleSourceHTTP:
			if strings.TrimSpace(src.Endpoint) == "" {
				errs = append(errs, fmt.Errorf("oracle.%s.endpoint required for http sources", name))
			}
		default:
			errs = append(errs, fmt.Errorf("oracle.%s.type %q not supported", name, src.Type))
		}
	}
	return errors.Join(errs...)
}

// DevMode reports whether the market runs with a manual price and clock.
func (c Config) DevMode() bool {
	return c.Params.DevMode
}
