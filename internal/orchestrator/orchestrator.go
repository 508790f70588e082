// Package orchestrator drives work items through a vendor: submit, poll,
// post-process and record the outcome in the job registry.
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
	"github.com/fedutinova/shopgen/internal/memq"
	"github.com/fedutinova/shopgen/internal/models"
	"github.com/fedutinova/shopgen/internal/registry"
	"github.com/fedutinova/shopgen/internal/validation"
)

type Config struct {
	Poller           Poller
	DefaultStrength  float64
	BatchConcurrency int
	MaxBatchItems    int
	// ItemTimeout caps one batch item, like JOB_MAX_DURATION caps a job.
	ItemTimeout time.Duration
	Hooks       []Hook
	// History, when set, gets one row per finished job.
	History GenerationRecorder
}

type Orchestrator struct {
	registry *registry.Registry
	models   *generation.Models
	tasks    memq.Dispatcher
	batches  *BatchStore

	poller           Poller
	hooks            []Hook
	history          GenerationRecorder
	defaultStrength  float64
	batchConcurrency int
	maxBatchItems    int
	itemTimeout      time.Duration
}

func New(reg *registry.Registry, models *generation.Models, tasks memq.Dispatcher, batches *BatchStore, cfg Config) *Orchestrator {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 1
	}
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = 50
	}
	return &Orchestrator{
		registry:         reg,
		models:           models,
		tasks:            tasks,
		batches:          batches,
		poller:           cfg.Poller,
		hooks:            cfg.Hooks,
		history:          cfg.History,
		defaultStrength:  cfg.DefaultStrength,
		batchConcurrency: cfg.BatchConcurrency,
		maxBatchItems:    cfg.MaxBatchItems,
		itemTimeout:      cfg.ItemTimeout,
	}
}

// Submit validates item, registers a pending job and runs it in the
// background. Only invalid input is reported here; every later failure
// lands in the job's error.
func (o *Orchestrator) Submit(ctx context.Context, item job.WorkItem) (job.Job, error) {
	client, req, err := o.prepare(item)
	if err != nil {
		return job.Job{}, err
	}

	j, err := o.registry.Create(item)
	if err != nil {
		return job.Job{}, err
	}

	_, err = o.tasks.Submit(ctx, j.ID, func(taskCtx context.Context) error {
		final := o.execute(taskCtx, j.ID, item, client, req)
		if final.Error != nil {
			return errors.New(final.Error.Message)
		}
		return nil
	})
	if err != nil {
		// the caller never sees the id, so the job must not linger as pending
		o.registry.Remove(j.ID)
		slog.Error("failed to dispatch job", "job_id", j.ID, "err", err)
		return job.Job{}, common.WrapInternal("dispatch job", err)
	}

	slog.Info("generation job accepted", "job_id", j.ID, "model", item.Params.Model, "product_id", item.ProductID)
	return j, nil
}

func (o *Orchestrator) Get(id string) (job.Job, error) {
	return o.registry.Get(id)
}

// Await blocks until the job's task has returned and reports the final
// state. A job that already finished returns immediately.
func (o *Orchestrator) Await(ctx context.Context, id string) (job.Job, error) {
	if h, ok := o.tasks.Handle(id); ok {
		if err := h.Wait(ctx); err != nil && ctx.Err() != nil {
			return job.Job{}, ctx.Err()
		}
	}
	return o.registry.Get(id)
}

// Cancel stops a running job or batch. Finished work cannot be cancelled.
func (o *Orchestrator) Cancel(id string) error {
	if o.tasks.Cancel(id) {
		slog.Info("cancellation requested", "id", id)
		return nil
	}
	if j, err := o.registry.Get(id); err == nil {
		if !j.Status.Terminal() {
			// batch items run inside the batch's task
			return fmt.Errorf("job %s belongs to a batch, cancel the batch: %w", id, common.ErrConflict)
		}
		return fmt.Errorf("job %s already finished: %w", id, common.ErrConflict)
	}
	if _, err := o.batches.Get(id); err == nil {
		return fmt.Errorf("batch %s already finished: %w", id, common.ErrConflict)
	}
	return common.ErrJobNotFound
}

// Models lists the selectors that can be submitted.
func (o *Orchestrator) Models() []string {
	return o.models.Available()
}

func (o *Orchestrator) prepare(item job.WorkItem) (generation.Client, generation.Request, error) {
	if err := validation.Struct(item); err != nil {
		return nil, generation.Request{}, err
	}
	client, err := o.models.Lookup(item.Params.Model)
	if err != nil {
		return nil, generation.Request{}, err
	}
	req, err := generation.NewRequest(item, o.defaultStrength)
	if err != nil {
		return nil, generation.Request{}, err
	}
	if len(req.SourceData) > 0 {
		if err := validation.ValidateImage("source_data", req.SourceData); err != nil {
			return nil, generation.Request{}, err
		}
	}
	return client, req, nil
}

// execute runs one registered job to a terminal state and returns it.
func (o *Orchestrator) execute(ctx context.Context, id string, item job.WorkItem, client generation.Client, req generation.Request) job.Job {
	start := time.Now()
	if err := o.registry.MarkProcessing(id, ""); err != nil {
		slog.Error("cannot start job", "job_id", id, "err", err)
		return o.snapshot(id)
	}
	if ctx.Err() != nil {
		return o.fail(id, item, contextFailure(ctx, ctx.Err()))
	}

	sub, err := client.Submit(ctx, req)
	if err != nil {
		return o.fail(id, item, o.normalize(ctx, err))
	}

	var output job.Output
	if sub.Immediate() {
		output = *sub.Output
	} else {
		if sub.JobRef == "" {
			return o.fail(id, item, generation.GenerationFailed(client.Name(), "no job reference returned"))
		}
		if err := o.registry.MarkProcessing(id, sub.JobRef); err != nil {
			return o.fail(id, item, err)
		}
		output, err = o.poller.Poll(ctx, client, sub.JobRef)
		if err != nil {
			return o.fail(id, item, o.normalize(ctx, err))
		}
	}

	result := job.Result{
		Output:        output,
		Vendor:        client.Name(),
		Model:         req.Model,
		Credits:       sub.Credits,
		RevisedPrompt: sub.RevisedPrompt,
	}

	hosted := ""
	if item.PostProcess {
		result.PostProcessing, result.PostProcessingError = runHooks(ctx, o.hooks, HookInput{
			JobID:  id,
			Item:   item,
			Result: result,
		})
		hosted = hostedURL(result.PostProcessing)
	}

	if err := o.registry.MarkComplete(id, result); err != nil {
		slog.Error("cannot complete job", "job_id", id, "err", err)
	}
	o.recordHistory(id, item, func(g *models.Generation) {
		g.Vendor = result.Vendor
		g.Model = result.Model
		g.Status = string(job.StatusComplete)
		g.OutputURL = result.Output.URL
		g.HostedURL = hosted
		g.Credits = result.Credits
	})
	slog.Info("generation job complete",
		"job_id", id,
		"vendor", client.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"post_processing_error", result.PostProcessingError != "")
	return o.snapshot(id)
}

// normalize turns bare context errors into Timeout or Cancelled.
func (o *Orchestrator) normalize(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, common.ErrTimeout) || errors.Is(err, common.ErrCancelled) {
		return err
	}
	return contextFailure(ctx, err)
}

func (o *Orchestrator) fail(id string, item job.WorkItem, err error) job.Job {
	failure := failureOf(err)
	if merr := o.registry.MarkFailed(id, failure); merr != nil {
		slog.Error("cannot fail job", "job_id", id, "err", merr)
	}
	slog.Warn("generation job failed", "job_id", id, "kind", failure.Kind, "err", err)

	o.recordHistory(id, item, func(g *models.Generation) {
		g.Status = string(job.StatusFailed)
		g.ErrorKind = string(failure.Kind)
		g.ErrorMessage = failure.Message
	})
	return o.snapshot(id)
}

// recordHistory writes one history row for a finished job. It is best
// effort and runs on its own context, since the job's may be cancelled.
func (o *Orchestrator) recordHistory(id string, item job.WorkItem, fill func(*models.Generation)) {
	if o.history == nil {
		return
	}
	now := time.Now()
	g := &models.Generation{
		JobID:       id,
		Shop:        item.Shop,
		ProductID:   item.ProductID,
		ImageID:     item.ImageID,
		Vendor:      item.Params.Model,
		Model:       item.Params.Model,
		Prompt:      item.Params.Prompt,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if j, err := o.registry.Get(id); err == nil {
		g.CreatedAt = j.CreatedAt
	}
	fill(g)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.history.RecordGeneration(ctx, g); err != nil {
		slog.Warn("failed to record generation history", "job_id", id, "err", err)
	}
}

func (o *Orchestrator) snapshot(id string) job.Job {
	j, err := o.registry.Get(id)
	if err != nil {
		return job.Job{ID: id, Status: job.StatusFailed, Error: &job.Failure{Kind: common.KindInternal, Message: err.Error()}}
	}
	return j
}

func failureOf(err error) job.Failure {
	return job.Failure{
		Kind:          common.KindOf(err),
		Message:       err.Error(),
		VendorPayload: generation.PayloadOf(err),
	}
}
