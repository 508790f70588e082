package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/job"
)

const (
	DefaultPollInterval    = 3 * time.Second
	DefaultPollMaxAttempts = 60
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller turns an asynchronous vendor job into a bounded blocking wait.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

func NewPoller(interval time.Duration, maxAttempts int) Poller {
	return Poller{Interval: interval, MaxAttempts: maxAttempts}
}

// Poll checks the vendor every Interval until the job settles. Every status
// check counts against MaxAttempts, including the retry after a transient
// error, so the vendor never sees more than MaxAttempts checks.
func (p Poller) Poll(ctx context.Context, client generation.Client, jobRef string) (job.Output, error) {
	interval, maxAttempts, sleep := p.Interval, p.MaxAttempts, p.Sleep
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	if sleep == nil {
		sleep = contextSleep
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := sleep(ctx, interval); err != nil {
			return job.Output{}, contextFailure(ctx, err)
		}

		st, err := client.PollStatus(ctx, jobRef)
		if err != nil {
			if ctx.Err() != nil {
				return job.Output{}, contextFailure(ctx, ctx.Err())
			}
			if !common.IsRetryable(err) {
				return job.Output{}, err
			}
			lastErr = err
			slog.Warn("transient poll error", "vendor", client.Name(), "job_ref", jobRef, "attempt", attempt, "remaining", maxAttempts-attempt, "err", err)
			continue
		}
		lastErr = nil

		switch st.State {
		case generation.StateComplete:
			if st.Output.Empty() {
				return job.Output{}, generation.GenerationFailed(client.Name(), "vendor reported completion without output")
			}
			slog.Info("vendor job complete", "vendor", client.Name(), "job_ref", jobRef, "attempts", attempt)
			return st.Output, nil
		case generation.StateFailed:
			reason := st.Error
			if reason == "" {
				reason = "vendor reported failure"
			}
			return job.Output{}, generation.GenerationFailed(client.Name(), reason)
		}
	}

	if lastErr != nil {
		return job.Output{}, fmt.Errorf("%w: vendor job %s unreachable after %d status checks: %v", common.ErrTimeout, jobRef, maxAttempts, lastErr)
	}
	return job.Output{}, fmt.Errorf("%w: vendor job %s still running after %d status checks", common.ErrTimeout, jobRef, maxAttempts)
}

// contextFailure maps a context error: a deadline means the job ran out of
// time, anything else is a cancellation.
func contextFailure(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: job exceeded its time budget", common.ErrTimeout)
	}
	return fmt.Errorf("%w: %v", common.ErrCancelled, err)
}

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
