package memq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedutinova/shopgen/internal/common"
)

var ErrClosed = errors.New("dispatcher closed")

// Task is one unit of background work. It must honor ctx.
type Task func(ctx context.Context) error

// Handle tracks a submitted task until it finishes.
type Handle struct {
	ID string

	ctx     context.Context
	cancel  context.CancelFunc
	task    Task
	timeout time.Duration
	done    chan struct{}
	err     error
}

// Done is closed once the task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the task's return value. Valid only after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the task returns or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Dispatcher interface {
	Submit(ctx context.Context, id string, task Task) (*Handle, error)
	SubmitWithTimeout(ctx context.Context, id string, timeout time.Duration, task Task) (*Handle, error)
	Handle(id string) (*Handle, bool)
	Cancel(id string) bool
	Start(n int)
	InFlight() int
	Len() int
	Close() error
}

type memQueue struct {
	buf     chan *Handle
	maxWait time.Duration

	root     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once

	mu      sync.RWMutex
	closed  bool
	handles map[string]*Handle
}

// NewMemoryQueue returns a dispatcher with a bounded backlog. Every task runs
// under its own cancellable context capped at maxJobDuration.
func NewMemoryQueue(buffer int, maxJobDuration time.Duration) Dispatcher {
	root, cancel := context.WithCancel(context.Background())
	return &memQueue{
		buf:      make(chan *Handle, buffer),
		maxWait:  maxJobDuration,
		root:     root,
		shutdown: cancel,
		handles:  make(map[string]*Handle, buffer),
	}
}

func (q *memQueue) Submit(ctx context.Context, id string, task Task) (*Handle, error) {
	return q.SubmitWithTimeout(ctx, id, q.maxWait, task)
}

// SubmitWithTimeout is Submit with a task-specific time budget, for work
// such as batches that legitimately outlives a single job.
func (q *memQueue) SubmitWithTimeout(ctx context.Context, id string, timeout time.Duration, task Task) (*Handle, error) {
	if timeout <= 0 {
		timeout = q.maxWait
	}
	taskCtx, cancel := context.WithCancel(q.root)
	h := &Handle{
		ID:      id,
		ctx:     taskCtx,
		cancel:  cancel,
		task:    task,
		timeout: timeout,
		done:    make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	if _, exists := q.handles[id]; exists {
		q.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("task %s: %w", id, common.ErrConflict)
	}
	q.handles[id] = h
	q.mu.Unlock()

	select {
	case q.buf <- h:
		// Close may have drained the buffer between the closed check and
		// the send; run the leftovers here so h still finishes
		q.mu.RLock()
		closed := q.closed
		q.mu.RUnlock()
		if closed {
			q.drain(0)
		}
		return h, nil
	case <-ctx.Done():
		q.forget(h)
		return nil, ctx.Err()
	case <-q.root.Done():
		q.forget(h)
		return nil, ErrClosed
	}
}

func (q *memQueue) Handle(id string) (*Handle, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handles[id]
	return h, ok
}

// Cancel cancels the task's context. A task that has not started yet still
// runs, with an already cancelled context, so it can record its outcome.
func (q *memQueue) Cancel(id string) bool {
	h, ok := q.Handle(id)
	if !ok {
		return false
	}
	h.cancel()
	return true
}

func (q *memQueue) Start(n int) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func(workerID int) {
			defer q.wg.Done()
			for {
				select {
				case <-q.root.Done():
					q.drain(workerID)
					return
				case h := <-q.buf:
					q.run(h, workerID)
				}
			}
		}(i + 1)
	}
}

func (q *memQueue) run(h *Handle, workerID int) {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(h.ctx, h.timeout)
	err := h.task(runCtx)
	cancel()
	h.cancel()

	h.err = err
	q.forget(h)
	close(h.done)

	if err != nil {
		slog.Warn("task finished with error", "id", h.ID, "worker", workerID, "duration", time.Since(started), "err", err)
	} else {
		slog.Debug("task done", "id", h.ID, "worker", workerID, "duration", time.Since(started))
	}
}

// drain runs whatever is still buffered with a cancelled context, so every
// accepted task reaches a terminal outcome.
func (q *memQueue) drain(workerID int) {
	for {
		select {
		case h := <-q.buf:
			q.run(h, workerID)
		default:
			return
		}
	}
}

func (q *memQueue) forget(h *Handle) {
	q.mu.Lock()
	if cur, ok := q.handles[h.ID]; ok && cur == h {
		delete(q.handles, h.ID)
	}
	q.mu.Unlock()
}

// InFlight counts accepted tasks that have not returned yet.
func (q *memQueue) InFlight() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.handles)
}

// Len is the number of tasks waiting for a worker.
func (q *memQueue) Len() int {
	return len(q.buf)
}

// Close cancels every outstanding task and waits for the workers to exit.
func (q *memQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		q.shutdown()
		q.wg.Wait()
		q.drain(0)
	})
	return nil
}
