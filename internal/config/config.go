// Package config provides configuration management for the QA orchestrator.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the QA orchestrator.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Backend contains document service client settings.
	Backend BackendConfig `mapstructure:"backend"`
	// Poller contains background job polling settings for QA jobs.
	Poller PollerConfig `mapstructure:"poller"`
	// Cluster contains clustering run monitoring settings.
	Cluster ClusterConfig `mapstructure:"cluster"`
	// Session contains QA session registry settings.
	Session SessionConfig `mapstructure:"session"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// CORS contains cross-origin settings for the view API.
	CORS CORSConfig `mapstructure:"cors"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. It
	// bounds SSE streams, so it defaults well above the read timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum duration to keep idle connections open.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig holds document service client settings.
type BackendConfig struct {
	// BaseURL is the document service base URL.
	BaseURL string `mapstructure:"base_url"`
	// RequestTimeout is the per-request timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RateLimitRPS is the maximum requests per second to the service.
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	// RateLimitBurst is the burst size for the rate limiter.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
	// APIKey authenticates requests (loaded from QAORCH_BACKEND_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// UserAgent is sent on every request.
	UserAgent string `mapstructure:"user_agent"`
}

// PollerConfig holds polling settings for QA background jobs.
type PollerConfig struct {
	// Interval is the fixed delay between status fetches.
	Interval time.Duration `mapstructure:"interval"`
	// MaxDuration bounds how long a job is observed before the poll
	// gives up with a timeout.
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// ClusterConfig holds polling settings for clustering runs. Clustering
// reprocesses the whole document corpus and runs much longer than QA
// jobs, hence the separate observation window.
type ClusterConfig struct {
	// Interval is the fixed delay between status fetches.
	Interval time.Duration `mapstructure:"interval"`
	// MaxDuration bounds how long a clustering run is observed.
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// SessionConfig holds QA session registry settings.
type SessionConfig struct {
	// TTL is the idle time after which a session is evicted and torn
	// down. Any API access refreshes it.
	TTL time.Duration `mapstructure:"ttl"`
	// CleanupInterval is how often expired sessions are swept.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// CORSConfig holds cross-origin settings for the view API.
type CORSConfig struct {
	// AllowedOrigins lists origins permitted to call the API.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("QAORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/qa-orchestrator")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Backend.APIKey = os.Getenv("QAORCH_BACKEND_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	// Write timeout must outlast the longest SSE stream tick cycle.
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.idle_timeout", "2m")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:8090")
	v.SetDefault("backend.request_timeout", "30s")
	v.SetDefault("backend.rate_limit_rps", 10.0)
	v.SetDefault("backend.rate_limit_burst", 20)
	// API key is loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("backend.user_agent", "documind-qa-orchestrator/1.0")

	// Poller defaults
	v.SetDefault("poller.interval", "2s")
	v.SetDefault("poller.max_duration", "5m")

	// Cluster defaults
	v.SetDefault("cluster.interval", "2s")
	v.SetDefault("cluster.max_duration", "30m")

	// Session defaults
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.cleanup_interval", "5m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate backend config
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid backend base_url: %s", c.Backend.BaseURL)
	}
	if c.Backend.RateLimitRPS <= 0 {
		return fmt.Errorf("backend rate_limit_rps must be positive")
	}
	if c.Backend.RateLimitBurst <= 0 {
		return fmt.Errorf("backend rate_limit_burst must be positive")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend request_timeout must be positive")
	}

	// Validate poll windows
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive")
	}
	if c.Poller.MaxDuration < c.Poller.Interval {
		return fmt.Errorf("poller max_duration (%s) must be >= interval (%s)", c.Poller.MaxDuration, c.Poller.Interval)
	}
	if c.Cluster.Interval <= 0 {
		return fmt.Errorf("cluster interval must be positive")
	}
	if c.Cluster.MaxDuration < c.Cluster.Interval {
		return fmt.Errorf("cluster max_duration (%s) must be >= interval (%s)", c.Cluster.MaxDuration, c.Cluster.Interval)
	}

	// Validate session registry
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session cleanup_interval must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate CORS
	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("cors allowed_origins must not be empty")
	}

	return nil
}
