package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fedutinova/shopgen/internal/catalog"
	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/job"
	"github.com/fedutinova/shopgen/internal/models"
	"github.com/fedutinova/shopgen/internal/storage"
)

// HookInput is what a post-processing step sees of a successful item.
type HookInput struct {
	JobID  string
	Item   job.WorkItem
	Result job.Result
	// HostedURL is set once an earlier hook copied the output somewhere
	// stable.
	HostedURL string
}

// URL prefers the hosted copy over the vendor URL.
func (in HookInput) URL() string {
	if in.HostedURL != "" {
		return in.HostedURL
	}
	return in.Result.Output.URL
}

type HookOutput struct {
	URL string
}

type Hook interface {
	Name() string
	Run(ctx context.Context, in HookInput) (HookOutput, error)
}

// runHooks runs every hook in order. A failing hook does not stop the
// following ones; the failures are joined into the returned message.
func runHooks(ctx context.Context, hooks []Hook, in HookInput) ([]job.HookOutcome, string) {
	if len(hooks) == 0 {
		return nil, ""
	}

	outcomes := make([]job.HookOutcome, 0, len(hooks))
	var failures []string
	for _, h := range hooks {
		out, err := runHook(ctx, h, in)
		outcome := job.HookOutcome{Name: h.Name(), Success: err == nil, URL: out.URL}
		if err != nil {
			outcome.Error = err.Error()
			failures = append(failures, h.Name()+": "+err.Error())
			slog.Warn("post-processing hook failed", "job_id", in.JobID, "hook", h.Name(), "err", err)
		} else if out.URL != "" && in.HostedURL == "" {
			in.HostedURL = out.URL
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, strings.Join(failures, "; ")
}

// hostedURL is the first URL a successful hook produced, normally the
// storage copy.
func hostedURL(outcomes []job.HookOutcome) string {
	for _, o := range outcomes {
		if o.Success && o.URL != "" {
			return o.URL
		}
	}
	return ""
}

func runHook(ctx context.Context, h Hook, in HookInput) (out HookOutput, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: hook panicked: %v", common.ErrPostProcessingFailed, p)
		}
	}()
	out, err = h.Run(ctx, in)
	if err != nil && !errors.Is(err, common.ErrPostProcessingFailed) {
		err = fmt.Errorf("%w: %w", common.ErrPostProcessingFailed, err)
	}
	return out, err
}

// StorageHook copies the generated image into our own storage.
type StorageHook struct {
	Publisher *storage.Publisher
}

func (StorageHook) Name() string { return "storage" }

func (h StorageHook) Run(ctx context.Context, in HookInput) (HookOutput, error) {
	res, err := h.Publisher.Publish(ctx, in.Result.Output, in.Item.Identity())
	if err != nil {
		return HookOutput{}, err
	}
	return HookOutput{URL: res.URL}, nil
}

// ImageAttacher is the catalog call the CatalogHook needs.
type ImageAttacher interface {
	AttachImage(ctx context.Context, shop, productID, imageURL, alt string) (*catalog.ProductImage, error)
}

// CatalogHook attaches the image to the Shopify product.
type CatalogHook struct {
	Catalog ImageAttacher
}

func (CatalogHook) Name() string { return "catalog" }

func (h CatalogHook) Run(ctx context.Context, in HookInput) (HookOutput, error) {
	url := in.URL()
	if url == "" {
		return HookOutput{}, errors.New("no hosted URL for inline output; configure storage")
	}
	img, err := h.Catalog.AttachImage(ctx, in.Item.Shop, in.Item.ProductID, url, altText(in.Item))
	if err != nil {
		return HookOutput{}, err
	}
	return HookOutput{URL: img.Src}, nil
}

func altText(item job.WorkItem) string {
	if item.ProductName != "" {
		return item.ProductName + " - AI generated"
	}
	return "AI generated product image"
}

// GenerationRecorder persists history rows.
type GenerationRecorder interface {
	RecordGeneration(ctx context.Context, g *models.Generation) error
}
