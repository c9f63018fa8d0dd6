// Package scheduler drives the sync engine, either on a fixed interval or
// through an explicit manual trigger.
//
// The two modes are mutually exclusive per deployment and fixed at
// construction time: interval mode for production daemons, manual mode for
// test harnesses and one-shot CLI runs that need deterministic passes.
// Whatever the mode, at most one pass is ever in flight; an interval tick
// that would overlap a running pass is skipped and logged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fjordpay/cachesync/internal/sync"
)

// Mode selects the drive strategy at construction time.
type Mode int

const (
	// ModeInterval runs a pass on a fixed timer.
	ModeInterval Mode = iota
	// ModeManual runs a pass only when Trigger is called.
	ModeManual
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeInterval:
		return "interval"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "interval", "":
		return ModeInterval, nil
	case "manual":
		return ModeManual, nil
	default:
		return 0, fmt.Errorf("unknown scheduler mode %q", s)
	}
}

// ErrPassInFlight is returned by Trigger when a pass is already running.
// Overlapping passes are a protocol violation, not merely inefficient.
var ErrPassInFlight = errors.New("sync pass already in flight")

// Config holds scheduler configuration.
type Config struct {
	Mode Mode
	// Interval between passes; required in ModeInterval.
	Interval time.Duration
	// Patterns are the cache key patterns each pass scans.
	Patterns []string
	// OnReport, when set, receives every completed pass report. Used to
	// publish reports to the monitor server.
	OnReport func(*sync.Report)
	// Logger for scheduler activity; nil falls back to the logrus
	// standard logger.
	Logger logrus.FieldLogger
}

// Status is the last-pass view exposed to operational collaborators.
type Status struct {
	Mode       string       `json:"mode"`
	LastReport *sync.Report `json:"last_report,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	LastRunAt  time.Time    `json:"last_run_at,omitempty"`
}

// Scheduler wraps a Syncer with the drive strategy.
type Scheduler struct {
	syncer sync.Syncer
	cfg    Config
	log    logrus.FieldLogger

	// passMu guarantees a single in-flight pass.
	passMu stdsync.Mutex

	mu         stdsync.Mutex
	patterns   []string
	lastReport *sync.Report
	lastErr    error
	lastRunAt  time.Time

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a scheduler. In ModeInterval the interval must be positive.
func New(syncer sync.Syncer, cfg Config) (*Scheduler, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.Mode == ModeInterval && cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive in interval mode")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Scheduler{
		syncer:   syncer,
		cfg:      cfg,
		log:      cfg.Logger.WithField("component", "scheduler"),
		patterns: append([]string(nil), cfg.Patterns...),
	}, nil
}

// Start launches the interval timer. It is an error in manual mode, where
// passes only run through Trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Mode != ModeInterval {
		return fmt.Errorf("scheduler is in %s mode, Start is only valid in interval mode", s.cfg.Mode)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.intervalLoop(ctx)

	s.log.WithField("interval", s.cfg.Interval).Info("scheduler started")
	return nil
}

// Stop cancels the timer and waits for any in-flight pass to finish.
// Safe to call in manual mode, safe to call twice, and safe to call from
// a goroutine other than the one that called Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) intervalLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// First pass immediately rather than waiting a full interval.
	s.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

// Trigger runs one pass now. Returns ErrPassInFlight if another pass is
// still running.
func (s *Scheduler) Trigger(ctx context.Context) (*sync.Report, error) {
	if !s.passMu.TryLock() {
		return nil, ErrPassInFlight
	}
	defer s.passMu.Unlock()
	return s.pass(ctx)
}

// runPass is the interval-tick entry point: an overlapping tick is skipped.
func (s *Scheduler) runPass(ctx context.Context) {
	if !s.passMu.TryLock() {
		s.log.Warn("previous pass still running, skipping tick")
		return
	}
	defer s.passMu.Unlock()
	_, _ = s.pass(ctx)
}

// pass executes one pass and records its outcome. Callers hold passMu.
func (s *Scheduler) pass(ctx context.Context) (*sync.Report, error) {
	report, err := s.syncer.RunOnce(ctx, s.Patterns())

	s.mu.Lock()
	s.lastReport = report
	s.lastErr = err
	s.lastRunAt = time.Now()
	s.mu.Unlock()

	if err != nil {
		// Pass-level failure: the next pass retries, the process stays up.
		s.log.WithError(err).Error("sync pass failed")
		return nil, err
	}
	s.mu.Lock()
	onReport := s.cfg.OnReport
	s.mu.Unlock()
	if onReport != nil {
		onReport(report)
	}
	return report, nil
}

// SetOnReport replaces the report callback. The monitor server needs the
// scheduler as its pass controller, so the callback is wired after both
// exist.
func (s *Scheduler) SetOnReport(fn func(*sync.Report)) {
	s.mu.Lock()
	s.cfg.OnReport = fn
	s.mu.Unlock()
}

// Patterns returns the current key pattern list.
func (s *Scheduler) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.patterns...)
}

// SetPatterns replaces the key pattern list, taking effect on the next
// pass. Used by config hot reload.
func (s *Scheduler) SetPatterns(patterns []string) {
	s.mu.Lock()
	s.patterns = append([]string(nil), patterns...)
	s.mu.Unlock()
	s.log.WithField("patterns", patterns).Info("key patterns updated")
}

// Status reports the last pass outcome.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Mode:       s.cfg.Mode.String(),
		LastReport: s.lastReport,
		LastRunAt:  s.lastRunAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
