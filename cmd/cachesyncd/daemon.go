package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fjordpay/cachesync/internal/cache"
	"github.com/fjordpay/cachesync/internal/config"
	"github.com/fjordpay/cachesync/internal/monitor"
	"github.com/fjordpay/cachesync/internal/scheduler"
	"github.com/fjordpay/cachesync/internal/store"
	"github.com/fjordpay/cachesync/internal/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the periodic synchronization daemon.

The daemon connects to the Redis cache, applies store migrations, rebuilds
sync state from existing rows, then scans the configured key patterns on a
fixed interval. When the monitor is enabled it also serves /health, /status,
POST /sync, and a WebSocket feed of pass reports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, v, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched, cleanup, err := buildScheduler(ctx, cfg, scheduler.ModeInterval)
		if err != nil {
			return err
		}
		defer cleanup()

		var mon *monitor.Server
		if cfg.Monitor.Enabled {
			mon = monitor.NewServer(sched, &monitor.Config{Port: cfg.Monitor.Port})
			if err := mon.Start(); err != nil {
				return err
			}
			defer func() {
				if err := mon.Stop(); err != nil {
					logrus.WithError(err).Warn("monitor shutdown failed")
				}
			}()
			sched.SetOnReport(mon.PublishReport)
		}

		// Pattern changes in the config file take effect on the next pass.
		config.Watch(v, logrus.StandardLogger(), func(updated *config.Config) {
			sched.SetPatterns(updated.Sync.Patterns)
		})

		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		logrus.WithFields(logrus.Fields{
			"interval": cfg.Sync.Interval,
			"patterns": cfg.Sync.Patterns,
		}).Info("cachesyncd running")

		<-ctx.Done()
		logrus.Info("shutdown signal received")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched, cleanup, err := buildScheduler(ctx, cfg, scheduler.ModeManual)
		if err != nil {
			return err
		}
		defer cleanup()

		start := time.Now()
		report, err := sched.Trigger(ctx)
		if err != nil {
			return fmt.Errorf("sync pass failed: %w", err)
		}

		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Scanned:  %d\n", report.KeysScanned)
		fmt.Printf("   Inserted: %d\n", report.Inserted)
		fmt.Printf("   Updated:  %d\n", report.Updated)
		fmt.Printf("   Skipped:  %d\n", report.Skipped)
		fmt.Printf("   Errored:  %d\n", report.Errored)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show materialized row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		transfers, err := st.TransferCount(ctx)
		if err != nil {
			return err
		}
		quotes, err := st.FxQuoteCount(ctx)
		if err != nil {
			return err
		}
		conversions, err := st.FxTransferCount(ctx)
		if err != nil {
			return err
		}
		summary, err := st.SummarizeTransfers(ctx, 0, 0)
		if err != nil {
			return err
		}
		totals, err := st.SumAmountsByCurrency(ctx, 0, 0)
		if err != nil {
			return err
		}

		fmt.Printf("Store: %s\n", cfg.Store.Path)
		fmt.Printf("   Transfers:    %d (succeeded=%d errored=%d pending=%d)\n",
			transfers, summary.Succeeded, summary.Errored, summary.Pending)
		fmt.Printf("   FX quotes:    %d\n", quotes)
		fmt.Printf("   FX transfers: %d\n", conversions)
		for _, ct := range totals {
			fmt.Printf("   Volume %s:   %.2f (%d transfers)\n", ct.Currency, ct.Total, ct.Count)
		}
		return nil
	},
}

// buildScheduler wires cache, store, engine and scheduler for one mode.
// The returned cleanup closes the cache connection and the store.
func buildScheduler(ctx context.Context, cfg *config.Config, mode scheduler.Mode) (*scheduler.Scheduler, func(), error) {
	client := cache.NewClient(cache.Config{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		_ = client.Disconnect()
		return nil, nil, err
	}
	cleanup := func() {
		_ = st.Close()
		_ = client.Disconnect()
	}

	if err := st.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	engine, err := sync.NewEngine(ctx, client, st, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sched, err := scheduler.New(engine, scheduler.Config{
		Mode:     mode,
		Interval: cfg.Sync.Interval,
		Patterns: cfg.Sync.Patterns,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return sched, cleanup, nil
}
