// Package generation defines the contract every image vendor adapter
// implements and the errors adapters report.
package generation

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/job"
)

type State string

const (
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Client is one vendor. Synchronous vendors return the output from Submit,
// asynchronous ones return a job reference to poll.
type Client interface {
	Name() string
	Submit(ctx context.Context, req Request) (Submission, error)
	PollStatus(ctx context.Context, jobRef string) (Status, error)
}

// Request is what an adapter needs to render one item.
type Request struct {
	Model          string
	Prompt         string
	NegativePrompt string
	ProductName    string
	Strength       float64
	Guidance       *float64
	Size           string
	Quality        string
	SourceURL      string
	SourceData     []byte
	SourceMIME     string
	Extra          map[string]any
}

// HasSource reports whether the request carries a source image.
func (r Request) HasSource() bool {
	return r.SourceURL != "" || len(r.SourceData) > 0
}

// Submission is either a vendor job reference or an immediate output.
type Submission struct {
	JobRef        string
	Output        *job.Output
	RevisedPrompt string
	Credits       int
}

// Immediate reports whether the vendor already returned the image.
func (s Submission) Immediate() bool {
	return s.Output != nil
}

type Status struct {
	State  State
	Output job.Output
	Error  string
}

// NewRequest turns a work item into a vendor request. Strength falls back to
// defaultStrength when the caller did not set one.
func NewRequest(item job.WorkItem, defaultStrength float64) (Request, error) {
	p := item.Params
	prompt, err := BuildPrompt(p.Template, p.Prompt, item.ProductName)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		Model:          p.Model,
		Prompt:         prompt,
		NegativePrompt: p.NegativePrompt,
		ProductName:    item.ProductName,
		Strength:       defaultStrength,
		Guidance:       p.Guidance,
		Size:           p.Size,
		Quality:        p.Quality,
		SourceURL:      item.SourceURL,
		Extra:          p.Extra,
	}
	if p.Strength != nil {
		req.Strength = *p.Strength
	}

	if item.SourceData != "" {
		data, mime := decodeSource(item.SourceData)
		if data == nil {
			return Request{}, common.InvalidInput("source_data is not valid base64")
		}
		req.SourceData = data
		req.SourceMIME = mime
	}
	return req, nil
}

// decodeSource accepts raw base64 or a data: URL.
func decodeSource(s string) ([]byte, string) {
	mime := ""
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, ""
		}
		mime, _, _ = strings.Cut(header, ";")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ""
	}
	return data, mime
}
