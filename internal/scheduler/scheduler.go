// Package scheduler runs periodic housekeeping such as expiring finished
// jobs and batches.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper drops expired entries and reports how many it removed.
type Sweeper interface {
	Sweep() int
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func() int

func (f SweeperFunc) Sweep() int { return f() }

type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	sweepers map[string]Sweeper
}

func New(interval time.Duration) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		interval: interval,
		sweepers: make(map[string]Sweeper),
	}
}

// Add registers s under name. Must be called before Start.
func (s *Scheduler) Add(name string, sw Sweeper) error {
	if _, exists := s.sweepers[name]; exists {
		return fmt.Errorf("sweeper %q already registered", name)
	}
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, func() { runSweep(name, sw) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.sweepers[name] = sw
	return nil
}

// SweepNow runs every sweeper once, synchronously.
func (s *Scheduler) SweepNow() int {
	total := 0
	for name, sw := range s.sweepers {
		total += runSweep(name, sw)
	}
	return total
}

func (s *Scheduler) Start() {
	slog.Info("starting scheduler", "interval", s.interval, "sweepers", len(s.sweepers))
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		slog.Info("scheduler stopped")
	case <-ctx.Done():
		slog.Warn("timeout waiting for scheduled sweep to finish")
	}
}

func runSweep(name string, sw Sweeper) int {
	start := time.Now()
	removed := sw.Sweep()
	if removed > 0 {
		slog.Info("expired entries removed", "sweeper", name, "removed", removed, "duration", time.Since(start))
	}
	return removed
}
