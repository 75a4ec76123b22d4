package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

const (
	DefaultListen         = "localhost:8080"
	DefaultBufferSize     = 64
	DefaultHeartbeat      = 25 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxBatch       = 100
	DefaultRedisAddr      = "localhost:6379"
	DefaultSampleRatio    = 1.0
	defaultStoragePrefix  = "/home/user/.local/share/pulse"
	defaultDatabaseName   = "pulse.db"
	defaultApplicationDir = "pulse"
)

type Config struct {
	Listen     string         `toml:"listen"`
	StorageDir string         `toml:"storage_dir"`
	Debug      bool           `toml:"debug"`
	Auth       AuthConfig     `toml:"auth"`
	Stream     StreamConfig   `toml:"stream"`
	Counters   CountersConfig `toml:"counters"`
	Ingest     IngestConfig   `toml:"ingest"`
	Tracing    TracingConfig  `toml:"tracing"`
}

// AuthConfig holds the shared HS256 secret of the external token issuer.
type AuthConfig struct {
	Secret string `toml:"secret"`
	Issuer string `toml:"issuer,omitempty"`
}

type StreamConfig struct {
	BufferSize        int      `toml:"buffer_size"`
	OverflowPolicy    string   `toml:"overflow_policy"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	WriteTimeout      Duration `toml:"write_timeout"`
	// MaxConnections caps concurrent push connections. Zero means no cap.
	MaxConnections int `toml:"max_connections"`
}

type CountersConfig struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr,omitempty"`
	RedisDB   int    `toml:"redis_db,omitempty"`
}

type IngestConfig struct {
	MaxBatch int `toml:"max_batch"`
}

type TracingConfig struct {
	// OTLPEndpoint is the host:port of an OTLP/HTTP collector. Empty disables tracing.
	OTLPEndpoint string  `toml:"otlp_endpoint,omitempty"`
	SampleRatio  float64 `toml:"sample_ratio"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func GetDefaultConfig() (*Config, error) {
	storageDir, err := GetDefaultStorageDir()
	if err != nil {
		return nil, fmt.Errorf("getting default storage directory: %w", err)
	}
	cfg := &Config{StorageDir: storageDir}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}
	if c.Stream.OverflowPolicy == "" {
		c.Stream.OverflowPolicy = "disconnect"
	}
	if c.Stream.HeartbeatInterval.Duration == 0 {
		c.Stream.HeartbeatInterval = Duration{DefaultHeartbeat}
	}
	if c.Stream.WriteTimeout.Duration == 0 {
		c.Stream.WriteTimeout = Duration{DefaultWriteTimeout}
	}
	if c.Counters.Backend == "" {
		c.Counters.Backend = "sqlite"
	}
	if c.Counters.Backend == "redis" && c.Counters.RedisAddr == "" {
		c.Counters.RedisAddr = DefaultRedisAddr
	}
	if c.Ingest.MaxBatch <= 0 {
		c.Ingest.MaxBatch = DefaultMaxBatch
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = DefaultSampleRatio
	}
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.StorageDir == "" {
		storageDir, err := GetDefaultStorageDir()
		if err != nil {
			return nil, fmt.Errorf("getting default storage directory: %w", err)
		}
		config.StorageDir = storageDir
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	switch c.Stream.OverflowPolicy {
	case "disconnect", "drop":
	default:
		errs = append(errs, fmt.Errorf("stream.overflow_policy: unknown policy %q", c.Stream.OverflowPolicy))
	}
	switch c.Counters.Backend {
	case "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("counters.backend: unknown backend %q", c.Counters.Backend))
	}
	if c.Stream.MaxConnections < 0 {
		errs = append(errs, errors.New("stream.max_connections must not be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v out of range [0, 1]", c.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}

// DBPath returns the path of the SQLite database inside the storage directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.StorageDir, defaultDatabaseName)
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0600)
}

func (c *Config) generateConfigTemplate() (string, error) {
	storageDir := c.StorageDir
	if storageDir == "" {
		var err error
		storageDir, err = GetDefaultStorageDir()
		if err != nil {
			return "", fmt.Errorf("getting default storage directory: %w", err)
		}
	}

	template := strings.Replace(configTemplate, defaultStoragePrefix, storageDir, 1)
	if c.Auth.Secret != "" {
		template = strings.Replace(template, `secret = "change-me"`, fmt.Sprintf("secret = %q", c.Auth.Secret), 1)
	}
	return template, nil
}

// GetDefaultStorageDir returns the default storage directory for the database
func GetDefaultStorageDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	dir := filepath.Join(dataDir, defaultApplicationDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating storage directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetConfigDir returns the configuration directory for pulse
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	dir := filepath.Join(configDir, defaultApplicationDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	return dir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
