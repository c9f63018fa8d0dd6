// cachesyncd projects the transfer-processing engine's key-value cache into
// an embedded relational store that the admin API queries for reporting.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fjordpay/cachesync/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cachesyncd",
	Short: "Transfer cache synchronization daemon",
	Long: `cachesyncd synchronizes transfer and FX conversion documents from the
processing engine's Redis cache into an embedded SQLite store, so reporting
queries (lists, filters, aggregates, detail views) never hit Redis directly.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig reads configuration and applies the logging settings.
func loadConfig() (*config.Config, *viper.Viper, error) {
	cfg, v, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := configureLogging(cfg.Log); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func configureLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)

	if cfg.File != "" {
		logrus.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return nil
}
