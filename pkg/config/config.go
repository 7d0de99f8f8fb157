package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEarlyStopThreshold is the number of consecutive already-archived
// items after which an incremental pass is considered caught up.
const DefaultEarlyStopThreshold = 20

// MirrorRemoteEnv names the environment variable holding the mirror remote.
const MirrorRemoteEnv = "IGARCHIVE_MIRROR_REMOTE"

// Config holds all configuration options for the archiver
type Config struct {
	Instagram InstagramConfig `yaml:"instagram" toml:"instagram" json:"instagram"`
	Archive   ArchiveConfig   `yaml:"archive" toml:"archive" json:"archive"`
	Sync      SyncConfig      `yaml:"sync" toml:"sync" json:"sync"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit" json:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry" json:"retry"`
	Mirror    MirrorConfig    `yaml:"mirror" toml:"mirror" json:"mirror"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" json:"metrics"`
	Server    ServerConfig    `yaml:"server" toml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" json:"logging"`
}

// InstagramConfig holds Instagram-specific configuration
type InstagramConfig struct {
	Username      string        `yaml:"username" toml:"username" json:"username"`
	UserAgent     string        `yaml:"user_agent" toml:"user_agent" json:"user_agent"`
	BaseURL       string        `yaml:"base_url" toml:"base_url" json:"base_url"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout" json:"timeout"`
	MediaTimeout  time.Duration `yaml:"media_timeout" toml:"media_timeout" json:"media_timeout"`
	PageSize      int           `yaml:"page_size" toml:"page_size" json:"page_size"`
	SafeMediaHost bool          `yaml:"safe_media_host" toml:"safe_media_host" json:"safe_media_host"`
}

// ArchiveConfig controls where archived items live on disk
type ArchiveConfig struct {
	BaseDirectory string `yaml:"base_directory" toml:"base_directory" json:"base_directory"`
}

// SyncConfig holds the incremental sync defaults
type SyncConfig struct {
	Limit              int  `yaml:"limit" toml:"limit" json:"limit"`
	FullResync         bool `yaml:"full_resync" toml:"full_resync" json:"full_resync"`
	EarlyStopThreshold int  `yaml:"early_stop_threshold" toml:"early_stop_threshold" json:"early_stop_threshold"`
	DisableEarlyStop   bool `yaml:"disable_early_stop" toml:"disable_early_stop" json:"disable_early_stop"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" toml:"burst_size" json:"burst_size"`
}

// RetryConfig holds retry configuration for remote requests
type RetryConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled" json:"enabled"`
	MaxAttempts  int           `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay" toml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" toml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" toml:"jitter_factor" json:"jitter_factor"`
}

// MirrorConfig holds the remote mirror settings
type MirrorConfig struct {
	Remote     string   `yaml:"remote" toml:"remote" json:"remote"`
	Backend    string   `yaml:"backend" toml:"backend" json:"backend"`
	Mode       string   `yaml:"mode" toml:"mode" json:"mode"`
	Tool       string   `yaml:"tool" toml:"tool" json:"tool"`
	ToolArgs   []string `yaml:"tool_args" toml:"tool_args" json:"tool_args"`
	S3Region   string   `yaml:"s3_region" toml:"s3_region" json:"s3_region"`
	S3Endpoint string   `yaml:"s3_endpoint" toml:"s3_endpoint" json:"s3_endpoint"`
}

// MetricsConfig controls Prometheus metrics publication
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" toml:"pushgateway_url" json:"pushgateway_url"`
	Job            string `yaml:"job" toml:"job" json:"job"`
}

// ServerConfig holds the read-only archive API settings
type ServerConfig struct {
	Addr              string `yaml:"addr" toml:"addr" json:"addr"`
	RequestsPerMinute int    `yaml:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute"`
	AllowDelete       bool   `yaml:"allow_delete" toml:"allow_delete" json:"allow_delete"`
	// APISecret, when set, is required as a bearer token on /api requests
	APISecret         string `yaml:"api_secret" toml:"api_secret" json:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
	File  string `yaml:"file" toml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instagram: InstagramConfig{
			UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			BaseURL:       "https://www.instagram.com",
			Timeout:       30 * time.Second,
			MediaTimeout:  60 * time.Second,
			PageSize:      12,
			SafeMediaHost: true,
		},
		Archive: ArchiveConfig{
			BaseDirectory: "./archive",
		},
		Sync: SyncConfig{
			EarlyStopThreshold: DefaultEarlyStopThreshold,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         5,
		},
		Retry: RetryConfig{
			Enabled:      true,
			MaxAttempts:  3,
			BaseDelay:    2 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Mirror: MirrorConfig{
			Backend: "auto",
			Mode:    "mirror",
			Tool:    "rclone",
		},
		Metrics: MetricsConfig{
			Job: "igarchive",
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8787",
			RequestsPerMinute: 600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("IGARCHIVE_USERNAME"); v != "" {
		c.Instagram.Username = v
	}
	if v := os.Getenv("IGARCHIVE_USER_AGENT"); v != "" {
		c.Instagram.UserAgent = v
	}
	if v := os.Getenv("IGARCHIVE_BASE_DIR"); v != "" {
		c.Archive.BaseDirectory = v
	}
	if v := os.Getenv("IGARCHIVE_EARLY_STOP_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGARCHIVE_EARLY_STOP_THRESHOLD: %w", err))
		} else {
			c.Sync.EarlyStopThreshold = n
		}
	}
	if v := os.Getenv("IGARCHIVE_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IGARCHIVE_REQUESTS_PER_MINUTE: %w", err))
		} else if n > 0 {
			c.RateLimit.RequestsPerMinute = n
		}
	}

	// The remote is read from the environment so that a plain shell export
	// is enough to turn mirroring on.
	if v, ok := os.LookupEnv(MirrorRemoteEnv); ok {
		c.Mirror.Remote = strings.TrimSpace(v)
	}
	if v := os.Getenv("IGARCHIVE_MIRROR_BACKEND"); v != "" {
		c.Mirror.Backend = v
	}
	if v := os.Getenv("IGARCHIVE_S3_ENDPOINT"); v != "" {
		c.Mirror.S3Endpoint = v
	}
	if v := os.Getenv("IGARCHIVE_PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
	if v := os.Getenv("IGARCHIVE_API_SECRET"); v != "" {
		c.Server.APISecret = v
	}
	if v := os.Getenv("IGARCHIVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML or TOML file. The format
// is picked from the file extension.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return nil
}

// findConfigFile searches for a config file in the standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".igarchive.yaml",
		".igarchive.yml",
		".igarchive.toml",
		filepath.Join(home, ".config", "igarchive", "config.yaml"),
		filepath.Join(home, ".config", "igarchive", "config.yml"),
		filepath.Join(home, ".config", "igarchive", "config.toml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Archive.BaseDirectory == "" {
		errs = append(errs, errors.New("archive base directory is required"))
	}
	if c.Instagram.BaseURL == "" {
		errs = append(errs, errors.New("instagram base URL is required"))
	}
	if c.Instagram.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Sync.Limit < 0 {
		errs = append(errs, errors.New("limit cannot be negative"))
	}
	if c.Sync.EarlyStopThreshold < 0 {
		errs = append(errs, errors.New("early stop threshold cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	if c.Retry.Enabled {
		if c.Retry.MaxAttempts <= 0 {
			errs = append(errs, errors.New("retry max attempts must be positive"))
		}
		if c.Retry.Multiplier < 1 {
			errs = append(errs, errors.New("retry multiplier must be at least 1"))
		}
	}

	switch strings.ToLower(c.Mirror.Backend) {
	case "auto", "rclone", "s3":
	default:
		errs = append(errs, fmt.Errorf("invalid mirror backend %q", c.Mirror.Backend))
	}
	switch strings.ToLower(c.Mirror.Mode) {
	case "mirror", "merge":
	default:
		errs = append(errs, fmt.Errorf("invalid mirror mode %q", c.Mirror.Mode))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save writes the configuration to path. A .toml extension selects TOML,
// anything else is written as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		if err := toml.NewEncoder(f).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		return nil
	}

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return enc.Close()
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["base-dir"].(string); ok && v != "" {
		c.Archive.BaseDirectory = v
	}
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Instagram.Username = v
	}
	if v, ok := flags["limit"].(int); ok && v >= 0 {
		c.Sync.Limit = v
	}
	if v, ok := flags["full-resync"].(bool); ok {
		c.Sync.FullResync = v
	}
	if v, ok := flags["no-early-stop"].(bool); ok {
		c.Sync.DisableEarlyStop = v
	}
	if v, ok := flags["early-stop"].(int); ok && v > 0 {
		c.Sync.EarlyStopThreshold = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line flags > environment (.env included) > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	home := os.Getenv("HOME")
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(home, ".igarchive.env"))

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
