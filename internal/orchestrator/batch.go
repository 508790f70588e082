package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/job"
)

// BatchRequest is an ordered list of items sharing generation parameters.
// Item params override the shared ones field by field.
type BatchRequest struct {
	Items       []job.WorkItem `json:"items"`
	Params      job.Params     `json:"params"`
	PostProcess bool           `json:"post_process"`
	// Concurrency above 1 runs that many items at a time.
	Concurrency int    `json:"concurrency,omitempty"`
	Shop        string `json:"-"`
}

type BatchStatus string

const (
	BatchRunning  BatchStatus = "running"
	BatchComplete BatchStatus = "complete"
)

// Outcome summarizes a finished batch.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

type ItemOutcome struct {
	Index               int               `json:"index"`
	JobID               string            `json:"job_id,omitempty"`
	ProductID           string            `json:"product_id"`
	ImageID             string            `json:"image_id,omitempty"`
	Status              job.Status        `json:"status"`
	Success             bool              `json:"success"`
	Output              *job.Output       `json:"output,omitempty"`
	ErrorKind           common.Kind       `json:"error_kind,omitempty"`
	Error               string            `json:"error,omitempty"`
	PostProcessing      []job.HookOutcome `json:"post_processing,omitempty"`
	PostProcessingError string            `json:"post_processing_error,omitempty"`
}

type BatchResult struct {
	ID         string        `json:"batch_id"`
	Status     BatchStatus   `json:"status"`
	Outcome    Outcome       `json:"outcome,omitempty"`
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Items      []ItemOutcome `json:"items"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	// Shop owns the batch; only that shop may read it back.
	Shop string `json:"-"`
}

// Progress is processed/total in [0, 1].
func (b BatchResult) Progress() float64 {
	if b.Total == 0 {
		return 1
	}
	return float64(b.Processed) / float64(b.Total)
}

func (b BatchResult) clone() BatchResult {
	out := b
	out.Items = make([]ItemOutcome, len(b.Items))
	for i, it := range b.Items {
		if it.Output != nil {
			o := *it.Output
			it.Output = &o
		}
		it.PostProcessing = append([]job.HookOutcome(nil), it.PostProcessing...)
		out.Items[i] = it
	}
	if b.FinishedAt != nil {
		t := *b.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func (b *BatchResult) record(i int, o ItemOutcome) {
	b.Items[i] = o
	b.Processed++
	if o.Success {
		b.Succeeded++
	} else {
		b.Failed++
	}
}

func (b *BatchResult) finish(at time.Time) {
	b.Status = BatchComplete
	b.FinishedAt = &at
	switch {
	case b.Failed == 0:
		b.Outcome = OutcomeSuccess
	case b.Succeeded == 0:
		b.Outcome = OutcomeFailure
	default:
		b.Outcome = OutcomePartial
	}
}

func newBatchResult(id string, items []job.WorkItem) BatchResult {
	res := BatchResult{
		ID:        id,
		Status:    BatchRunning,
		Total:     len(items),
		Items:     make([]ItemOutcome, len(items)),
		StartedAt: time.Now(),
	}
	for i, it := range items {
		res.Items[i] = ItemOutcome{Index: i, ProductID: it.ProductID, ImageID: it.ImageID, Status: job.StatusPending}
	}
	return res
}

// RunBatch processes every item and returns one outcome per item, in input
// order. Item failures are recorded, never returned; the error is only for
// a request that cannot run at all. progress, when set, receives a snapshot
// after each item.
func (o *Orchestrator) RunBatch(ctx context.Context, req BatchRequest, progress func(BatchResult)) (BatchResult, error) {
	if err := o.validateBatch(req); err != nil {
		return BatchResult{}, err
	}
	return o.runBatch(ctx, "batch-"+uuid.NewString(), req, progress), nil
}

// StartBatch registers the batch and runs it in the background. Progress is
// read back through Batch.
func (o *Orchestrator) StartBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if err := o.validateBatch(req); err != nil {
		return BatchResult{}, err
	}

	id := "batch-" + uuid.NewString()
	initial := newBatchResult(id, req.Items)
	initial.Shop = req.Shop
	o.batches.Put(initial)

	_, err := o.tasks.SubmitWithTimeout(ctx, id, o.batchBudget(req), func(taskCtx context.Context) error {
		res := o.runBatch(taskCtx, id, req, o.batches.Put)
		o.batches.Put(res)
		return nil
	})
	if err != nil {
		failed := initial.clone()
		for i := range failed.Items {
			failed.record(i, ItemOutcome{
				Index:     i,
				ProductID: failed.Items[i].ProductID,
				ImageID:   failed.Items[i].ImageID,
				Status:    job.StatusFailed,
				ErrorKind: common.KindInternal,
				Error:     "batch was not dispatched",
			})
		}
		failed.finish(time.Now())
		o.batches.Put(failed)
		return BatchResult{}, common.WrapInternal("dispatch batch", err)
	}

	slog.Info("batch accepted", "batch_id", id, "items", len(req.Items), "concurrency", o.concurrencyFor(req))
	return initial, nil
}

func (o *Orchestrator) Batch(id string) (BatchResult, error) {
	return o.batches.Get(id)
}

func (o *Orchestrator) runBatch(ctx context.Context, id string, req BatchRequest, progress func(BatchResult)) BatchResult {
	items := make([]job.WorkItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = mergeItem(it, req)
	}

	res := newBatchResult(id, items)
	res.Shop = req.Shop
	var mu sync.Mutex
	record := func(i int, out ItemOutcome) {
		mu.Lock()
		defer mu.Unlock()
		res.record(i, out)
		if progress != nil {
			progress(res.clone())
		}
	}

	start := time.Now()
	if n := o.concurrencyFor(req); n <= 1 {
		for i, item := range items {
			record(i, o.runItem(ctx, i, item))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(n)
		for i, item := range items {
			g.Go(func() error {
				record(i, o.runItem(ctx, i, item))
				return nil
			})
		}
		_ = g.Wait()
	}

	mu.Lock()
	defer mu.Unlock()
	res.finish(time.Now())
	slog.Info("batch finished",
		"batch_id", id,
		"outcome", res.Outcome,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return res.clone()
}

// runItem takes one item through validation, generation and hooks. It never
// fails: every problem becomes part of the outcome.
func (o *Orchestrator) runItem(ctx context.Context, index int, item job.WorkItem) ItemOutcome {
	out := ItemOutcome{Index: index, ProductID: item.ProductID, ImageID: item.ImageID, Status: job.StatusFailed}

	client, req, err := o.prepare(item)
	if err != nil {
		out.ErrorKind = common.KindOf(err)
		out.Error = err.Error()
		return out
	}

	j, err := o.registry.Create(item)
	if err != nil {
		out.ErrorKind = common.KindOf(err)
		out.Error = err.Error()
		return out
	}
	out.JobID = j.ID

	itemCtx := ctx
	if o.itemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, o.itemTimeout)
		defer cancel()
	}

	final := o.execute(itemCtx, j.ID, item, client, req)
	out.Status = final.Status
	switch {
	case final.Status == job.StatusComplete && final.Result != nil:
		output := final.Result.Output
		out.Success = true
		out.Output = &output
		out.PostProcessing = final.Result.PostProcessing
		out.PostProcessingError = final.Result.PostProcessingError
	case final.Error != nil:
		out.ErrorKind = final.Error.Kind
		out.Error = final.Error.Message
	default:
		out.ErrorKind = common.KindInternal
		out.Error = "job ended in state " + string(final.Status)
	}
	return out
}

func (o *Orchestrator) validateBatch(req BatchRequest) error {
	switch {
	case len(req.Items) == 0:
		return common.InvalidInput("batch has no items")
	case len(req.Items) > o.maxBatchItems:
		return common.InvalidInput("batch has %d items, at most %d allowed", len(req.Items), o.maxBatchItems)
	case req.Concurrency < 0:
		return common.InvalidInput("concurrency must not be negative")
	}
	return nil
}

func (o *Orchestrator) concurrencyFor(req BatchRequest) int {
	n := req.Concurrency
	if n == 0 {
		n = o.batchConcurrency
	}
	if n > len(req.Items) {
		n = len(req.Items)
	}
	return n
}

// batchBudget is the item budget times the number of sequential rounds.
func (o *Orchestrator) batchBudget(req BatchRequest) time.Duration {
	if o.itemTimeout <= 0 {
		return 0
	}
	n := o.concurrencyFor(req)
	if n < 1 {
		n = 1
	}
	rounds := (len(req.Items) + n - 1) / n
	return time.Duration(rounds) * o.itemTimeout
}

// mergeItem fills the item's unset params from the batch and stamps the
// batch-wide flags onto it.
func mergeItem(item job.WorkItem, req BatchRequest) job.WorkItem {
	shared, p := req.Params, item.Params
	if p.Model == "" {
		p.Model = shared.Model
	}
	if p.Template == "" {
		p.Template = shared.Template
	}
	if p.Prompt == "" {
		p.Prompt = shared.Prompt
	}
	if p.NegativePrompt == "" {
		p.NegativePrompt = shared.NegativePrompt
	}
	if p.Strength == nil {
		p.Strength = shared.Strength
	}
	if p.Guidance == nil {
		p.Guidance = shared.Guidance
	}
	if p.Size == "" {
		p.Size = shared.Size
	}
	if p.Quality == "" {
		p.Quality = shared.Quality
	}
	if p.Extra == nil {
		p.Extra = shared.Extra
	}
	item.Params = p
	item.PostProcess = item.PostProcess || req.PostProcess
	if req.Shop != "" {
		item.Shop = req.Shop
	}
	return item
}
