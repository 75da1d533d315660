package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/docflow/pkg/auth"
	"github.com/JaimeStill/docflow/pkg/database"
	"github.com/JaimeStill/docflow/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvDocflowEnv             = "DOCFLOW_ENV"
	EnvDocflowShutdownTimeout = "DOCFLOW_SHUTDOWN_TIMEOUT"
	EnvDocflowVersion         = "DOCFLOW_VERSION"
	EnvDocflowLogLevel        = "DOCFLOW_LOG_LEVEL"
	EnvDocflowLogFormat       = "DOCFLOW_LOG_FORMAT"
)

// DatabaseEnv names the environment overrides of the database section.
// The migrate command resolves its connection from the same variables.
var DatabaseEnv = &database.Env{
	Host:            "DOCFLOW_DB_HOST",
	Port:            "DOCFLOW_DB_PORT",
	Name:            "DOCFLOW_DB_NAME",
	User:            "DOCFLOW_DB_USER",
	Password:        "DOCFLOW_DB_PASSWORD",
	SSLMode:         "DOCFLOW_DB_SSL_MODE",
	MaxOpenConns:    "DOCFLOW_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "DOCFLOW_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "DOCFLOW_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "DOCFLOW_DB_CONN_TIMEOUT",
	ApplicationName: "DOCFLOW_DB_APPLICATION_NAME",
}

var storageEnv = &storage.Env{
	ContainerName:    "DOCFLOW_STORAGE_CONTAINER_NAME",
	ConnectionString: "DOCFLOW_STORAGE_CONNECTION_STRING",
	Prefix:           "DOCFLOW_STORAGE_PREFIX",
}

var authEnv = &auth.Env{
	Issuer:      "DOCFLOW_AUTH_ISSUER",
	ClientID:    "DOCFLOW_AUTH_CLIENT_ID",
	ActorHeader: "DOCFLOW_AUTH_ACTOR_HEADER",
}

// Config is the root configuration for the docflow service.
type Config struct {
	Server          ServerConfig    `toml:"server"`
	Database        database.Config `toml:"database"`
	Storage         storage.Config  `toml:"storage"`
	API             APIConfig       `toml:"api"`
	Auth            auth.Config     `toml:"auth"`
	Directory       DirectoryConfig `toml:"directory"`
	ShutdownTimeout string          `toml:"shutdown_timeout"`
	Version         string          `toml:"version"`
	LogLevel        string          `toml:"log_level"`
	LogFormat       string          `toml:"log_format"`
}

// Env returns the DOCFLOW_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvDocflowEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		c.LogFormat = overlay.LogFormat
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Auth.Merge(&overlay.Auth)
	c.Directory.Merge(&overlay.Directory)
}

// Finalize applies defaults, environment overrides, and validation to the
// root config and every sub-config.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(DatabaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Auth.Finalize(authEnv); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Directory.Finalize(); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvDocflowShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvDocflowVersion); v != "" {
		c.Version = v
	}
	if v := os.Getenv(EnvDocflowLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDocflowLogFormat); v != "" {
		c.LogFormat = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %q", c.LogFormat)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvDocflowEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
