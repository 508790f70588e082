package job

import (
	"time"

	"github.com/fedutinova/shopgen/internal/common"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusComplete || to == StatusFailed
	default:
		return false
	}
}

// Params are the generation knobs shared by every item of a batch. Values are
// passed through to the vendor adapter; bounds are vendor-defined.
type Params struct {
	Model          string         `json:"model" validate:"required,oneof=dalle3 gemini leonardo"`
	Template       string         `json:"template,omitempty" validate:"omitempty,oneof=ecommerce_white female_model lifestyle studio_premium minimalist luxury_fashion"`
	Prompt         string         `json:"prompt,omitempty" validate:"max=4000"`
	NegativePrompt string         `json:"negative_prompt,omitempty" validate:"max=2000"`
	Strength       *float64       `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	Guidance       *float64       `json:"guidance,omitempty" validate:"omitempty,gte=0,lte=30"`
	Size           string         `json:"size,omitempty"`
	Quality        string         `json:"quality,omitempty" validate:"omitempty,oneof=standard hd"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// WorkItem is one product image to (re)generate.
type WorkItem struct {
	ProductID   string `json:"product_id" validate:"required"`
	ImageID     string `json:"image_id,omitempty"`
	ProductName string `json:"product_name,omitempty" validate:"max=255"`
	SourceURL   string `json:"source_url,omitempty" validate:"omitempty,url"`
	// SourceData is base64 image content when no URL is available.
	SourceData string `json:"source_data,omitempty" validate:"required_without=SourceURL"`
	Params     Params `json:"params"`
	// PostProcess runs the configured hooks after a successful generation.
	PostProcess bool `json:"post_process"`
	// Shop is the myshopify domain the item belongs to, taken from the
	// session token rather than the request body.
	Shop string `json:"shop,omitempty"`
}

// Identity is the stable, human-readable key of the item.
func (w WorkItem) Identity() string {
	if w.ImageID == "" {
		return w.ProductID
	}
	return w.ProductID + "-" + w.ImageID
}

// Output references the produced image.
type Output struct {
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type,omitempty"`
}

// Empty reports whether the output carries no image at all.
func (o Output) Empty() bool {
	return o.URL == "" && len(o.Data) == 0
}

// HookOutcome records one post-processing step.
type HookOutcome struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Result struct {
	Output              Output        `json:"output"`
	Vendor              string        `json:"vendor"`
	Model               string        `json:"model,omitempty"`
	Credits             int           `json:"credits,omitempty"`
	RevisedPrompt       string        `json:"revised_prompt,omitempty"`
	PostProcessing      []HookOutcome `json:"post_processing,omitempty"`
	PostProcessingError string        `json:"post_processing_error,omitempty"`
}

// Failure is the recorded error of a failed job.
type Failure struct {
	Kind          common.Kind `json:"kind"`
	Message       string      `json:"message"`
	VendorPayload string      `json:"vendor_payload,omitempty"`
}

type Job struct {
	ID           string     `json:"job_id"`
	Status       Status     `json:"status"`
	VendorJobRef string     `json:"vendor_job_ref,omitempty"`
	Input        WorkItem   `json:"input"`
	Result       *Result    `json:"result,omitempty"`
	Error        *Failure   `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

// FinishedAt is the terminal timestamp, zero while the job is running.
func (j Job) FinishedAt() time.Time {
	switch {
	case j.CompletedAt != nil:
		return *j.CompletedAt
	case j.FailedAt != nil:
		return *j.FailedAt
	default:
		return time.Time{}
	}
}
