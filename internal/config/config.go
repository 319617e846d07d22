// Package config loads custcache settings.
//
// Settings are layered, lowest precedence first: built-in defaults, a config
// file (YAML, TOML or JSON), a .env file in the working directory, and
// CUSTCACHE_* environment variables. Command-line flags bound with BindFlag
// override all of them.
//
//	db.path          CUSTCACHE_DB_PATH          .custcache/customers.db
//	remote.type      CUSTCACHE_REMOTE_TYPE      graphql | file
//	remote.endpoint  CUSTCACHE_REMOTE_ENDPOINT
//	remote.api_key   CUSTCACHE_REMOTE_API_KEY
//	remote.file      CUSTCACHE_REMOTE_FILE
//	sync.schedule    CUSTCACHE_SYNC_SCHEDULE    @every 15m
//	feed.port        CUSTCACHE_FEED_PORT        0 (disabled)
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/custcache/internal/customer/remote"
)

// EnvPrefix is prepended to environment variable names.
const EnvPrefix = "CUSTCACHE"

// DefaultConfigName is the config file looked up when none is given.
const DefaultConfigName = "custcache"

// Config is the resolved configuration.
type Config struct {
	DB     DBConfig     `mapstructure:"db"`
	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Feed   FeedConfig   `mapstructure:"feed"`
	Log    LogConfig    `mapstructure:"log"`
}

// DBConfig locates the SQLite cache file.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig selects the customer source. Type is "graphql" or "file";
// Endpoint and APIKey apply to graphql, File to file.
type RemoteConfig struct {
	Type     string        `mapstructure:"type"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	File     string        `mapstructure:"file"`
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SyncConfig controls scheduled resyncs (a cron spec, empty for none) and
// whether an empty cache is filled on first read.
type SyncConfig struct {
	Schedule  string `mapstructure:"schedule"`
	Bootstrap bool   `mapstructure:"bootstrap"`
}

// FeedConfig is where the daemon serves its WebSocket feed. Port 0 disables it.
type FeedConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig enables rotated file logging when File is set.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Loader wraps a viper instance so flags can be bound before Load.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment binding set up.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", ".custcache/customers.db")
	v.SetDefault("remote.type", string(remote.TypeGraphQL))
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.file", "")
	v.SetDefault("remote.page_size", 100)
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("sync.schedule", "@every 15m")
	v.SetDefault("sync.bootstrap", true)
	v.SetDefault("feed.host", "")
	v.SetDefault("feed.port", 0)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// BindFlag makes flag override key when it is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("flag for %s is nil", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads .env and the config file, then resolves every key.
//
// If path is empty, custcache.{yaml,toml,json} is looked up in the working
// directory and .custcache/; a missing file is not an error. An explicit
// path that cannot be read is.
func (l *Loader) Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		l.v.SetConfigFile(path)
	} else {
		l.v.SetConfigName(DefaultConfigName)
		l.v.AddConfigPath(".")
		l.v.AddConfigPath(".custcache")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the config file that was read, or "".
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load is NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Validate checks settings that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	switch remote.Type(c.Remote.Type) {
	case remote.TypeGraphQL, remote.TypeFile:
	default:
		return fmt.Errorf("remote.type %q is not one of %v", c.Remote.Type, remote.RegisteredTypes())
	}
	if c.Remote.PageSize < 0 {
		return fmt.Errorf("remote.page_size must not be negative")
	}
	if c.Feed.Port < 0 || c.Feed.Port > 65535 {
		return fmt.Errorf("feed.port %d out of range", c.Feed.Port)
	}
	return nil
}

// RemoteSource converts the remote settings for remote.New.
func (c *Config) RemoteSource() remote.Config {
	return remote.Config{
		Type:     remote.Type(c.Remote.Type),
		Endpoint: c.Remote.Endpoint,
		APIKey:   c.Remote.APIKey,
		PageSize: c.Remote.PageSize,
		Timeout:  c.Remote.Timeout,
		Path:     c.Remote.File,
	}
}
