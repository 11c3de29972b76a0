package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the optional YAML overlay file.
const FileEnv = "NEXUS_CONFIG_FILE"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LogConfig        `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Storage    StorageConfig    `yaml:"storage"`
	Conduit    ConduitConfig    `yaml:"conduit"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	GenAI      GenAIConfig      `yaml:"genai"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Cloud      CloudConfig      `yaml:"cloud"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000" yaml:"port"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" yaml:"-"`
	AllowOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*" yaml:"allow_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
	File        string `envconfig:"LOG_FILE" yaml:"file"`
	MaxSizeMB   int    `envconfig:"LOG_MAX_SIZE_MB" default:"100" yaml:"max_size_mb"`
	MaxBackups  int    `envconfig:"LOG_MAX_BACKUPS" default:"5" yaml:"max_backups"`
	MaxAgeDays  int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28" yaml:"max_age_days"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// StorageConfig selects the durable key-value store.
type StorageConfig struct {
	Driver string `envconfig:"STORAGE_DRIVER" default:"badger" yaml:"driver"`
	Path   string `envconfig:"STORAGE_PATH" default:"./data/nexus" yaml:"path"`
}

// ConduitConfig configures cross-process delivery of conduit messages.
type ConduitConfig struct {
	Bus           string        `envconfig:"CONDUIT_BUS" default:"local" yaml:"bus"`
	NATSURL       string        `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222" yaml:"nats_url"`
	Watch         bool          `envconfig:"CONDUIT_WATCH" default:"true" yaml:"watch"`
	WatchInterval time.Duration `envconfig:"CONDUIT_WATCH_INTERVAL" default:"500ms" yaml:"-"`
}

// SupervisorConfig holds the update lifecycle timings.
type SupervisorConfig struct {
	RecoveryTimeout time.Duration `envconfig:"RECOVERY_TIMEOUT" default:"2s" yaml:"-"`
	RollbackDelay   time.Duration `envconfig:"ROLLBACK_DELAY" default:"800ms" yaml:"-"`
	RestoreDelay    time.Duration `envconfig:"RESTORE_DELAY" default:"2s" yaml:"-"`
}

// GenAIConfig selects and configures the code generator.
type GenAIConfig struct {
	Provider        string        `envconfig:"GENAI_PROVIDER" default:"gemini" yaml:"provider"`
	Model           string        `envconfig:"GENAI_MODEL" yaml:"model"`
	APIKey          string        `envconfig:"GENAI_API_KEY" yaml:"-"`
	BaseURL         string        `envconfig:"GENAI_BASE_URL" yaml:"base_url"`
	Timeout         time.Duration `envconfig:"GENAI_TIMEOUT" default:"120s" yaml:"-"`
	MaxRetries      int           `envconfig:"GENAI_MAX_RETRIES" default:"2" yaml:"max_retries"`
	RateLimit       float64       `envconfig:"GENAI_RATE_LIMIT" default:"1" yaml:"rate_limit"`
	MaxOutputTokens int64         `envconfig:"GENAI_MAX_OUTPUT_TOKENS" default:"16384" yaml:"max_output_tokens"`
}

// RuntimeConfig configures the runtime host and its headless probe.
type RuntimeConfig struct {
	ProbeMode     string        `envconfig:"PROBE_MODE" default:"errors" yaml:"probe_mode"`
	ProbeTimeout  time.Duration `envconfig:"PROBE_TIMEOUT" default:"2s" yaml:"-"`
	ProbePoolSize int           `envconfig:"PROBE_POOL_SIZE" default:"4" yaml:"probe_pool_size"`
}

// CloudConfig configures archive backups to an S3-compatible bucket.
// Backups are disabled when Endpoint is empty.
type CloudConfig struct {
	Endpoint    string        `envconfig:"CLOUD_ENDPOINT" yaml:"endpoint"`
	AccessKey   string        `envconfig:"CLOUD_ACCESS_KEY" yaml:"-"`
	SecretKey   string        `envconfig:"CLOUD_SECRET_KEY" yaml:"-"`
	Bucket      string        `envconfig:"CLOUD_BUCKET" default:"nexus-archives" yaml:"bucket"`
	Prefix      string        `envconfig:"CLOUD_PREFIX" default:"archives/" yaml:"prefix"`
	UseSSL      bool          `envconfig:"CLOUD_USE_SSL" default:"true" yaml:"use_ssl"`
	ImportDelay time.Duration `envconfig:"CLOUD_IMPORT_DELAY" default:"0s" yaml:"-"`
}

// Load loads configuration from environment variables, then applies the
// YAML file named by NEXUS_CONFIG_FILE if set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ApplyFile overlays the YAML or TOML document at path onto c. Keys missing
// from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return c.ApplyTOML(data)
	}
	return c.ApplyYAML(data)
}

// ApplyTOML overlays a TOML document onto c. Keys use the same names as the
// YAML form.
func (c *Config) ApplyTOML(data []byte) error {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert config file: %w", err)
	}
	return c.ApplyYAML(out)
}

// ApplyYAML overlays a YAML document onto c.
func (c *Config) ApplyYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate rejects unknown drivers and modes.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "badger", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Conduit.Bus {
	case "local", "nats":
	default:
		return fmt.Errorf("unknown conduit bus %q", c.Conduit.Bus)
	}
	switch strings.ToLower(c.Runtime.ProbeMode) {
	case "off", "errors", "full":
	default:
		return fmt.Errorf("unknown probe mode %q", c.Runtime.ProbeMode)
	}
	if c.Runtime.ProbePoolSize < 1 {
		return fmt.Errorf("probe pool size must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Logging: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Storage: StorageConfig{
			Driver: "badger",
			Path:   "./data/nexus",
		},
		Conduit: ConduitConfig{
			Bus:           "local",
			NATSURL:       "nats://127.0.0.1:4222",
			Watch:         true,
			WatchInterval: 500 * time.Millisecond,
		},
		Supervisor: SupervisorConfig{
			RecoveryTimeout: 2 * time.Second,
			RollbackDelay:   800 * time.Millisecond,
			RestoreDelay:    2 * time.Second,
		},
		GenAI: GenAIConfig{
			Provider:        "gemini",
			Timeout:         120 * time.Second,
			MaxRetries:      2,
			RateLimit:       1,
			MaxOutputTokens: 16384,
		},
		Runtime: RuntimeConfig{
			ProbeMode:     "errors",
			ProbeTimeout:  2 * time.Second,
			ProbePoolSize: 4,
		},
		Cloud: CloudConfig{
			Bucket: "nexus-archives",
			Prefix: "archives/",
			UseSSL: true,
		},
	}
}
