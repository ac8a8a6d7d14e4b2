package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "time/tzdata" // zone database for responder.timezone on hosts without one

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the demo-app process.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Responder ResponderConfig `yaml:"responder"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	TLS       TLSConfig       `yaml:"tls"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	GRPC      GRPCConfig      `yaml:"grpc"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ResponderConfig struct {
	// Timezone is an IANA zone name used when rendering timestamps.
	Timezone string `yaml:"timezone"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RateLimitConfig struct {
	Enabled             bool          `yaml:"enabled"`
	RequestsPerInterval int           `yaml:"requests_per_interval"`
	Interval            time.Duration `yaml:"interval"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	TrustedProxies      []string      `yaml:"trusted_proxies"`
}

type TLSConfig struct {
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	ClientCA string `yaml:"client_ca"`
}

// Enabled reports whether both a certificate and a key are configured.
func (t TLSConfig) Enabled() bool {
	return t.Cert != "" && t.Key != ""
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type GRPCConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEMO_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("DEMO_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("DEMO_GRPC_ADDR"); v != "" {
		cfg.GRPC.ListenAddr = v
	}
	if v := os.Getenv("DEMO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DEMO_TIMEZONE"); v != "" {
		cfg.Responder.Timezone = v
	}
	if v := os.Getenv("DEMO_TLS_CERT"); v != "" {
		cfg.TLS.Cert = v
	}
	if v := os.Getenv("DEMO_TLS_KEY"); v != "" {
		cfg.TLS.Key = v
	}
	if v := os.Getenv("DEMO_TLS_CLIENT_CA"); v != "" {
		cfg.TLS.ClientCA = v
	}
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.ListenAddr == "" {
		errs = append(errs, errors.New("http.listen_addr is required"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", c.Log.Format))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		errs = append(errs, errors.New("tls.cert and tls.key must be set together"))
	}
	if c.TLS.ClientCA != "" && !c.TLS.Enabled() {
		errs = append(errs, errors.New("tls.client_ca requires tls.cert and tls.key"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerInterval <= 0 {
			errs = append(errs, errors.New("rate_limit.requests_per_interval must be positive"))
		}
		if c.RateLimit.Interval <= 0 {
			errs = append(errs, errors.New("rate_limit.interval must be positive"))
		}
		if c.RateLimit.CleanupInterval <= 0 {
			errs = append(errs, errors.New("rate_limit.cleanup_interval must be positive"))
		}
		if c.RateLimit.StaleAfter <= 0 {
			errs = append(errs, errors.New("rate_limit.stale_after must be positive"))
		}
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics.listen_addr is required when metrics are enabled"))
	}
	if c.GRPC.Enabled && c.GRPC.ListenAddr == "" {
		errs = append(errs, errors.New("grpc.listen_addr is required when grpc is enabled"))
	}

	return errors.Join(errs...)
}

// Location resolves Responder.Timezone. An empty value means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Responder.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Responder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("responder.timezone %q: %w", c.Responder.Timezone, err)
	}
	return loc, nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", name)
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Responder: ResponderConfig{
			Timezone: "UTC",
		},
		RateLimit: RateLimitConfig{
			Enabled:             false,
			RequestsPerInterval: 100,
			Interval:            1 * time.Second,
			CleanupInterval:     1 * time.Minute,
			StaleAfter:          5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9091",
		},
		GRPC: GRPCConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}
