// Package daemon runs the sync engine on a fixed schedule.
//
// The daemon:
// 1. Runs one cycle immediately on startup
// 2. Runs subsequent cycles on a timer
// 3. Contains cycle failures and panics so the schedule keeps going
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jopper-sync/jopper/internal/engine"
)

// Runner executes one reconciliation cycle. *engine.Engine satisfies this.
type Runner interface {
	RunCycle(ctx context.Context) (*engine.CycleReport, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is the time between the end of one cycle and the next tick.
	Interval time.Duration

	// Logger for daemon activity.
	Logger *logrus.Logger

	// OnCycle, when set, is called after every completed cycle with its
	// report. Used to feed the dashboard broadcaster.
	OnCycle func(*engine.CycleReport)
}

// Daemon schedules reconciliation cycles against a Runner.
type Daemon struct {
	runner Runner
	config Config

	mu        sync.Mutex
	cyclesRun int
	lastErr   error
}

// New creates a daemon. Interval must be positive.
func New(runner Runner, config Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", config.Interval)
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &Daemon{runner: runner, config: config}, nil
}

// Run blocks until ctx is cancelled, executing one cycle immediately and
// then one per interval. A cycle that fails or panics is logged and does not
// stop the schedule; the daemon only returns on shutdown.
//
// Cycles never overlap or queue. If a cycle outlasts the interval, the tick
// that fired during it is discarded and the next cycle waits for a fresh one.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.WithField("interval", d.config.Interval).Info("Starting sync daemon")

	d.runOnce(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.config.Logger.Info("Shutdown signal received, stopping daemon")
			return ctx.Err()

		case <-ticker.C:
			d.runOnce(ctx)

			// Discard a tick that accumulated while the cycle ran so a slow
			// cycle is skipped, not queued.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// runOnce executes a single cycle with panic containment.
func (d *Daemon) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := d.guardedCycle(ctx)

	d.mu.Lock()
	d.cyclesRun++
	d.lastErr = err
	d.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.config.Logger.WithError(err).Error("Sync cycle failed, will retry on next tick")
	}

	if report != nil && d.config.OnCycle != nil {
		d.config.OnCycle(report)
	}
}

func (d *Daemon) guardedCycle(ctx context.Context) (report *engine.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			d.config.Logger.WithField("stack", string(debug.Stack())).Error("Recovered from panic in sync cycle")
		}
	}()
	return d.runner.RunCycle(ctx)
}

// CyclesRun reports how many cycles have been attempted.
func (d *Daemon) CyclesRun() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cyclesRun
}

// LastErr returns the error from the most recent cycle, or nil.
func (d *Daemon) LastErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}
