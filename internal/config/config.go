// Package config loads trafficlens settings from file, environment and
// flags through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (TRAFFICLENS_API_URL)
const EnvPrefix = "TRAFFICLENS"

// DatabaseConfig selects the video metadata store
type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type" json:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// TracingConfig controls OTLP span export
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

// TLSConfig holds client TLS files for https/wss backends
type TLSConfig struct {
	CAFile             string `mapstructure:"ca_file" yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	CertFile           string `mapstructure:"cert_file" yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile            string `mapstructure:"key_file" yaml:"key_file,omitempty" json:"key_file,omitempty"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// Config is the effective client configuration
type Config struct {
	APIURL               string         `mapstructure:"api_url" yaml:"api_url" json:"api_url"`
	APIKey               string         `mapstructure:"api_key" yaml:"api_key,omitempty" json:"api_key,omitempty"`
	ReconnectDelay       time.Duration  `mapstructure:"reconnect_delay" yaml:"reconnect_delay" json:"reconnect_delay"`
	NotificationDuration time.Duration  `mapstructure:"notification_duration" yaml:"notification_duration" json:"notification_duration"`
	RequestTimeout       time.Duration  `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	UploadTimeout        time.Duration  `mapstructure:"upload_timeout" yaml:"upload_timeout" json:"upload_timeout"`
	LogLevel             string         `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat            string         `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	LogFile              string         `mapstructure:"log_file" yaml:"log_file,omitempty" json:"log_file,omitempty"`
	MetricsAddr          string         `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	RecentUploadsLimit   int            `mapstructure:"recent_uploads_limit" yaml:"recent_uploads_limit" json:"recent_uploads_limit"`
	Database             DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Tracing              TracingConfig  `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	TLS                  TLSConfig      `mapstructure:"tls" yaml:"tls" json:"tls"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		APIURL:               "http://localhost:8000",
		ReconnectDelay:       3 * time.Second,
		NotificationDuration: 5 * time.Second,
		RequestTimeout:       30 * time.Second,
		UploadTimeout:        0,
		LogLevel:             "info",
		LogFormat:            "text",
		RecentUploadsLimit:   10,
		Database:             DatabaseConfig{Type: "sqlite", DSN: DefaultVideoDBPath()},
		Tracing:              TracingConfig{Endpoint: "localhost:4318"},
	}
}

// SetDefaults registers every key with viper so env overrides of nested
// keys are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("reconnect_delay", d.ReconnectDelay)
	v.SetDefault("notification_duration", d.NotificationDuration)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("upload_timeout", d.UploadTimeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("recent_uploads_limit", d.RecentUploadsLimit)
	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tls.ca_file", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.insecure_skip_verify", false)
}

// DefaultConfigDir is ~/.trafficlens
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".trafficlens"), nil
}

// DefaultVideoDBPath is ~/.trafficlens/videos.db, or videos.db in the
// working directory when no home directory is known.
func DefaultVideoDBPath() string {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "videos.db"
	}
	return filepath.Join(dir, "videos.db")
}

// Configure points v at cfgFile (or ~/.trafficlens/config.yaml), enables
// TRAFFICLENS_* environment overrides and reads the file if it exists.
func Configure(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := DefaultConfigDir()
		if err != nil {
			return err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && (errors.As(err, &notFound) || os.IsNotExist(err)) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes, normalises and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if (c.Database.Type == "sqlite" || c.Database.Type == "sqlite3") && strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = DefaultVideoDBPath()
	}
}

// Validate checks value ranges and URL schemes
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("api_url %q is not a valid URL", c.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url must use http or https, got %q", u.Scheme)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive")
	}
	if c.NotificationDuration <= 0 {
		return fmt.Errorf("notification_duration must be positive")
	}
	if c.RequestTimeout < 0 || c.UploadTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.RecentUploadsLimit <= 0 {
		return fmt.Errorf("recent_uploads_limit must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q is not one of text, json", c.LogFormat)
	}
	switch c.Database.Type {
	case "memory", "sqlite", "sqlite3":
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for %s", c.Database.Type)
		}
	default:
		return fmt.Errorf("database.type %q is not one of memory, sqlite, postgres", c.Database.Type)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// WebSocketURL derives the socket base from api_url (http→ws, https→wss)
func (c *Config) WebSocketURL() string {
	switch {
	case strings.HasPrefix(c.APIURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.APIURL, "https://")
	case strings.HasPrefix(c.APIURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.APIURL, "http://")
	default:
		return c.APIURL
	}
}

// JobsSocketURL is the job feed address
func (c *Config) JobsSocketURL() string {
	return c.WebSocketURL() + "/ws/jobs"
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "@") {
		c.Database.DSN = redactDSN(c.Database.DSN)
	}
	return c
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "********"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
