package memq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fedutinova/shopgen/internal/common"
)

func TestSubmit_RunsTask(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	q.Start(1)
	defer q.Close()

	h, err := q.Submit(context.Background(), "job-1", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if q.InFlight() != 0 {
		t.Fatalf("expected handle to be released, in flight = %d", q.InFlight())
	}
}

func TestSubmit_DuplicateID(t *testing.T) {
	q := NewMemoryQueue(10, time.Second)
	defer q.Close()

	block := func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
	if _, err := q.Submit(context.Background(), "dup", block); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	_, err := q.Submit(context.Background(), "dup", block)
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRun_TimeoutCancelsContext(t *testing.T) {
	q := NewMemoryQueue(10, 20*time.Millisecond)
	q.Start(1)
	defer q.Close()

	h, err := q.Submit(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for task")
	}
	if !errors.Is(h.Err(), context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", h.Err())
	}
}

func TestCancel(t *testing.T) {
	q := NewMemoryQueue(10, time.Minute)
	q.Start(1)
	defer q.Close()

	started := make(chan struct{})
	h, err := q.Submit(context.Background(), "c", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	<-started

	if !q.Cancel("c") {
		t.Fatalf("expected handle to be found")
	}
	if err := h.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if q.Cancel("c") {
		t.Fatalf("finished task must not be cancellable")
	}
}

func TestWorkerPoolBounded(t *testing.T) {
	q := NewMemoryQueue(10, time.Second)
	q.Start(2)
	defer q.Close()

	release := make(chan struct{})
	running := make(chan struct{}, 10)
	var handles []*Handle
	for _, id := range []string{"a", "b", "c"} {
		h, err := q.Submit(context.Background(), id, func(ctx context.Context) error {
			running <- struct{}{}
			<-release
			return nil
		})
		if err != nil {
			t.Fatalf("Submit error: %v", err)
		}
		handles = append(handles, h)
	}

	<-running
	<-running
	select {
	case <-running:
		t.Fatalf("third task started while two workers were busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	for _, h := range handles {
		if err := h.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestClose_CancelsOutstanding(t *testing.T) {
	q := NewMemoryQueue(10, time.Minute)
	q.Start(1)

	started := make(chan struct{})
	running, _ := q.Submit(context.Background(), "running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	var queuedCtxErr error
	queued, _ := q.Submit(context.Background(), "queued", func(ctx context.Context) error {
		queuedCtxErr = ctx.Err()
		return ctx.Err()
	})

	if err := q.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	for _, h := range []*Handle{running, queued} {
		select {
		case <-h.Done():
		default:
			t.Fatalf("task %s did not finish on close", h.ID)
		}
	}
	if !errors.Is(queuedCtxErr, context.Canceled) {
		t.Fatalf("queued task should see a cancelled context, got %v", queuedCtxErr)
	}

	if _, err := q.Submit(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubmitWithTimeout_OverridesDefault(t *testing.T) {
	q := NewMemoryQueue(10, 10*time.Millisecond)
	q.Start(1)
	defer q.Close()

	h, err := q.SubmitWithTimeout(context.Background(), "long", time.Second, func(ctx context.Context) error {
		select {
		case <-time.After(50 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("task should outlive the default budget, got %v", err)
	}
}

func TestSubmitRacingClose_EveryHandleFinishes(t *testing.T) {
	for round := 0; round < 50; round++ {
		q := NewMemoryQueue(64, time.Second)
		q.Start(2)

		var (
			mu      sync.Mutex
			handles []*Handle
			wg      sync.WaitGroup
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := q.Submit(context.Background(), fmt.Sprintf("r%d-%d", round, i), func(ctx context.Context) error {
					return ctx.Err()
				})
				if err != nil {
					return
				}
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}()
		}
		_ = q.Close()
		wg.Wait()

		for _, h := range handles {
			select {
			case <-h.Done():
			case <-time.After(time.Second):
				t.Fatalf("round %d: accepted task %s never finished", round, h.ID)
			}
		}
	}
}
