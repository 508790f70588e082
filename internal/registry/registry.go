package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/job"
)

const DefaultRetention = 5 * time.Minute

// Registry holds the state of every outstanding and recently finished job.
// It is process-local and non-durable: a restart loses all of it.
type Registry struct {
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*job.Job
}

type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(retention time.Duration, opts ...Option) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	r := &Registry{
		retention: retention,
		now:       time.Now,
		jobs:      make(map[string]*job.Job),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create registers a pending job for input and returns a copy of it.
func (r *Registry) Create(input job.WorkItem) (job.Job, error) {
	if strings.TrimSpace(input.ProductID) == "" {
		return job.Job{}, common.InvalidInput("product_id is required")
	}

	now := r.now()
	id := newID(input, now)

	j := &job.Job{
		ID:        id,
		Status:    job.StatusPending,
		Input:     input,
		CreatedAt: now,
	}

	r.mu.Lock()
	if _, exists := r.jobs[id]; exists {
		r.mu.Unlock()
		return job.Job{}, fmt.Errorf("job %s: %w", id, common.ErrConflict)
	}
	r.jobs[id] = j
	r.mu.Unlock()

	slog.Debug("job registered", "job_id", id, "product_id", input.ProductID)
	return snapshot(j), nil
}

// MarkProcessing moves a pending job to processing. It may be called again
// on a processing job to record the vendor reference, which is write-once.
func (r *Registry) MarkProcessing(id, vendorRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return common.ErrJobNotFound
	}

	switch j.Status {
	case job.StatusPending:
		now := r.now()
		j.Status = job.StatusProcessing
		j.StartedAt = &now
	case job.StatusProcessing:
	default:
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, j.Status, job.StatusProcessing)
	}

	if vendorRef == "" {
		return nil
	}
	if j.VendorJobRef != "" && j.VendorJobRef != vendorRef {
		return common.ErrVendorRefImmutable
	}
	j.VendorJobRef = vendorRef
	return nil
}

func (r *Registry) MarkComplete(id string, result job.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return common.ErrJobNotFound
	}
	if !job.CanTransition(j.Status, job.StatusComplete) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, j.Status, job.StatusComplete)
	}

	now := r.now()
	j.Status = job.StatusComplete
	j.Result = &result
	j.CompletedAt = &now
	return nil
}

func (r *Registry) MarkFailed(id string, failure job.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return common.ErrJobNotFound
	}
	if !job.CanTransition(j.Status, job.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, j.Status, job.StatusFailed)
	}

	now := r.now()
	j.Status = job.StatusFailed
	j.Error = &failure
	j.FailedAt = &now
	return nil
}

// Remove drops a job that never started, e.g. one that could not be
// dispatched. Running and finished jobs are left to Sweep.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != job.StatusPending {
		return false
	}
	delete(r.jobs, id)
	return true
}

// Get returns a copy of the job. Expired terminal jobs are still returned
// until the next Sweep removes them.
func (r *Registry) Get(id string) (job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return job.Job{}, common.ErrJobNotFound
	}
	return snapshot(j), nil
}

// Sweep drops terminal jobs older than the retention window and reports how
// many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, j := range r.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.FinishedAt().Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("registry swept", "removed", removed, "remaining", len(r.jobs))
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *Registry) Retention() time.Duration {
	return r.retention
}

// newID builds <product>[-<image>]-<unix ms>-<random>, so retries of one
// item never collide.
func newID(input job.WorkItem, now time.Time) string {
	identity := sanitize(input.ProductID)
	if input.ImageID != "" {
		identity += "-" + sanitize(input.ImageID)
	}
	return fmt.Sprintf("%s-%d-%s", identity, now.UnixMilli(), uuid.NewString()[:8])
}

// sanitize reduces one id to a path-safe token. Shopify ids arrive either
// numeric or as gid://shopify/Product/123.
func sanitize(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		default:
			return '_'
		}
	}, s)
}

func snapshot(j *job.Job) job.Job {
	out := *j
	if j.Result != nil {
		res := *j.Result
		res.PostProcessing = append([]job.HookOutcome(nil), j.Result.PostProcessing...)
		out.Result = &res
	}
	if j.Error != nil {
		f := *j.Error
		out.Error = &f
	}
	return out
}
