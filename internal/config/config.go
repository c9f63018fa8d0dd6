// Package config loads daemon configuration from file and environment, and
// supports hot reload of the key pattern list while the daemon runs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache"`
	Store   StoreConfig   `mapstructure:"store"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Log     LogConfig     `mapstructure:"log"`
}

// CacheConfig is the key-value store connection.
type CacheConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig is the embedded relational database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig drives the scheduler.
type SyncConfig struct {
	// Patterns are the glob key patterns each pass scans.
	Patterns []string `mapstructure:"patterns"`
	// Interval between passes in interval mode.
	Interval time.Duration `mapstructure:"interval"`
	// Mode is "interval" or "manual".
	Mode string `mapstructure:"mode"`
}

// MonitorConfig is the operational HTTP/WebSocket surface.
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig controls log level and optional rotated file output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File, when set, sends logs to a rotated file instead of stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("store.path", "cachesync.db")
	v.SetDefault("sync.patterns", []string{"transferModel_*", "fxQuote_in_*"})
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.mode", "interval")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8480)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from the given file (optional) and the
// CACHESYNC_* environment. The returned viper instance can be passed to
// Watch for hot reload.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CACHESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Sync.Patterns) == 0 {
		return nil, fmt.Errorf("sync.patterns cannot be empty")
	}
	return &cfg, nil
}

// Watch reloads the config file on change and hands the result to onChange.
// A reload that fails to decode is logged and dropped; the running config
// stays in effect.
func Watch(v *viper.Viper, log logrus.FieldLogger, onChange func(*Config)) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			log.WithError(err).WithField("file", e.Name).Error("ignoring bad config reload")
			return
		}
		log.WithField("file", e.Name).Info("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
}
