package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/job"
	"github.com/fedutinova/shopgen/internal/memq"
	"github.com/fedutinova/shopgen/internal/models"
	"github.com/fedutinova/shopgen/internal/registry"
)

// fakeVendor scripts Submit and PollStatus and counts the calls.
type fakeVendor struct {
	name   string
	submit func(ctx context.Context, req generation.Request) (generation.Submission, error)
	poll   func(call int) (generation.Status, error)

	mu       sync.Mutex
	submits  []generation.Request
	polls    int
	pollRefs []string
}

func (f *fakeVendor) Name() string { return f.name }

func (f *fakeVendor) Submit(ctx context.Context, req generation.Request) (generation.Submission, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	f.mu.Unlock()
	if f.submit == nil {
		return generation.Submission{JobRef: "ref-1"}, nil
	}
	return f.submit(ctx, req)
}

func (f *fakeVendor) PollStatus(ctx context.Context, jobRef string) (generation.Status, error) {
	f.mu.Lock()
	f.polls++
	call := f.polls
	f.pollRefs = append(f.pollRefs, jobRef)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return generation.Status{}, err
	}
	if f.poll == nil {
		return generation.Status{State: generation.StateComplete, Output: job.Output{URL: "https://cdn.example.com/out.png"}}, nil
	}
	return f.poll(call)
}

func (f *fakeVendor) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeVendor) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = 0
	f.pollRefs = nil
	f.submits = nil
}

func (f *fakeVendor) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func immediate(url string) func(context.Context, generation.Request) (generation.Submission, error) {
	return func(context.Context, generation.Request) (generation.Submission, error) {
		return generation.Submission{Output: &job.Output{URL: url}}, nil
	}
}

func running() (generation.Status, error) {
	return generation.Status{State: generation.StateRunning}, nil
}

// noSleep returns at once unless ctx is already done.
func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testPoller(maxAttempts int) Poller {
	return Poller{Interval: time.Millisecond, MaxAttempts: maxAttempts, Sleep: noSleep}
}

type fixture struct {
	orch   *Orchestrator
	reg    *registry.Registry
	tasks  memq.Dispatcher
	vendor *fakeVendor
}

func newFixture(vendor *fakeVendor, cfg Config) *fixture {
	if cfg.Poller.Interval == 0 {
		cfg.Poller = testPoller(60)
	}
	available := generation.NewModels()
	available.Register("leonardo", vendor)

	reg := registry.New(time.Minute)
	tasks := memq.NewMemoryQueue(16, 5*time.Second)
	tasks.Start(2)

	return &fixture{
		orch:   New(reg, available, tasks, NewBatchStore(time.Minute, nil), cfg),
		reg:    reg,
		tasks:  tasks,
		vendor: vendor,
	}
}

func item(productID string) job.WorkItem {
	return job.WorkItem{
		ProductID:   productID,
		ProductName: "Linen shirt",
		SourceURL:   "https://cdn.shopify.com/s/files/" + productID + ".jpg",
		Params:      job.Params{Model: "leonardo"},
	}
}

type memoryRecorder struct {
	mu   sync.Mutex
	rows []models.Generation
	err  error
}

func (r *memoryRecorder) RecordGeneration(_ context.Context, g *models.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, *g)
	return nil
}

func (r *memoryRecorder) all() []models.Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Generation(nil), r.rows...)
}

// hookFunc adapts a function to Hook.
type hookFunc struct {
	name string
	fn   func(ctx context.Context, in HookInput) (HookOutput, error)
}

func (h hookFunc) Name() string { return h.name }

func (h hookFunc) Run(ctx context.Context, in HookInput) (HookOutput, error) {
	return h.fn(ctx, in)
}
