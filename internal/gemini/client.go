// Package gemini renders product images with Google's Gemini image models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/genai"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/job"
)

const (
	vendorName   = "gemini"
	DefaultModel = "gemini-2.5-flash-image"

	maxSourceBytes = 20 << 20
)

type Client struct {
	genai *genai.Client
	http  *http.Client
	model string
}

type Option func(*genai.ClientConfig)

// WithBaseURL points the SDK at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = u }
}

func NewClient(ctx context.Context, apiKey, model string, opts ...Option) (*Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{genai: gc, http: &http.Client{Timeout: 30 * time.Second}, model: model}, nil
}

func (c *Client) Name() string { return vendorName }

func (c *Client) Submit(ctx context.Context, req generation.Request) (generation.Submission, error) {
	text := req.Prompt
	if req.NegativePrompt != "" {
		text += "\n\nAvoid: " + req.NegativePrompt
	}
	parts := []*genai.Part{genai.NewPartFromText(text)}

	data, mime := req.SourceData, req.SourceMIME
	if len(data) == 0 && req.SourceURL != "" {
		var err error
		data, mime, err = c.fetch(ctx, req.SourceURL)
		if err != nil {
			return generation.Submission{}, err
		}
	}
	if len(data) > 0 {
		if mime == "" {
			mime = mimetype.Detect(data).String()
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}

	slog.Info("sending request to Gemini", "model", c.model, "parts", len(parts), "has_source", req.HasSource())

	resp, err := c.genai.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	)
	if err != nil {
		return generation.Submission{}, classify(err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				slog.Info("received image from Gemini", "bytes", len(part.InlineData.Data), "mime_type", part.InlineData.MIMEType)
				return generation.Submission{
					Output: &job.Output{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType},
				}, nil
			}
		}
	}

	reason := "response contained no image"
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
	}
	return generation.Submission{}, generation.GenerationFailed(vendorName, reason)
}

// PollStatus is never needed: Gemini answers synchronously.
func (c *Client) PollStatus(ctx context.Context, jobRef string) (generation.Status, error) {
	return generation.Status{}, &generation.VendorError{
		Vendor: vendorName,
		Kind:   common.KindVendorRejected,
		Body:   "synchronous vendor has no job to poll",
	}
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return generation.FromStatus(vendorName, apiErr.Code, []byte(apiErr.Message))
	}
	return generation.FromTransport(vendorName, err)
}

// fetch downloads the source image; Gemini only accepts inline bytes for
// arbitrary URLs.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", common.InvalidInput("source_url: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", generation.FromTransport("source", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("download source image: %w", generation.FromStatus("source", resp.StatusCode, body))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, "", generation.FromTransport("source", err)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, mime, nil
}
