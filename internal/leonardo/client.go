// Package leonardo talks to the Leonardo.ai REST API, the one asynchronous
// vendor: Submit returns a generation id that is polled until it settles.
package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/job"
)

const (
	vendorName     = "leonardo"
	DefaultBaseURL = "https://cloud.leonardo.ai/api/rest/v1"

	maxSourceBytes = 20 << 20
)

type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	modelID string
}

func NewClient(baseURL, apiKey, modelID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		modelID: modelID,
	}
}

func (c *Client) Name() string { return vendorName }

type generationRequest struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	ModelID        string   `json:"modelId,omitempty"`
	NumImages      int      `json:"num_images"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	InitImageID    string   `json:"init_image_id,omitempty"`
	InitStrength   *float64 `json:"init_strength,omitempty"`
	GuidanceScale  *float64 `json:"guidance_scale,omitempty"`
}

type generationResponse struct {
	SDGenerationJob struct {
		GenerationID  string `json:"generationId"`
		APICreditCost int    `json:"apiCreditCost"`
	} `json:"sdGenerationJob"`
}

type statusResponse struct {
	GenerationsByPK *struct {
		Status          string `json:"status"`
		GeneratedImages []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

func (c *Client) Submit(ctx context.Context, req generation.Request) (generation.Submission, error) {
	width, height := parseSize(req.Size)
	body := generationRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		ModelID:        c.modelID,
		NumImages:      1,
		Width:          width,
		Height:         height,
		GuidanceScale:  req.Guidance,
	}

	if req.HasSource() {
		initID, err := c.uploadInitImage(ctx, req)
		if err != nil {
			return generation.Submission{}, err
		}
		strength := req.Strength
		body.InitImageID = initID
		body.InitStrength = &strength
	}

	var out generationResponse
	if err := c.do(ctx, http.MethodPost, "/generations", body, &out); err != nil {
		return generation.Submission{}, err
	}
	if out.SDGenerationJob.GenerationID == "" {
		return generation.Submission{}, generation.GenerationFailed(vendorName, "response carried no generation id")
	}

	slog.Info("leonardo generation submitted",
		"generation_id", out.SDGenerationJob.GenerationID,
		"credits", out.SDGenerationJob.APICreditCost,
		"init_image", body.InitImageID != "")

	return generation.Submission{
		JobRef:  out.SDGenerationJob.GenerationID,
		Credits: out.SDGenerationJob.APICreditCost,
	}, nil
}

func (c *Client) PollStatus(ctx context.Context, jobRef string) (generation.Status, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/generations/"+url.PathEscape(jobRef), nil, &out); err != nil {
		return generation.Status{}, err
	}
	g := out.GenerationsByPK
	if g == nil {
		return generation.Status{}, &generation.VendorError{
			Vendor: vendorName,
			Kind:   common.KindVendorRejected,
			Body:   "unknown generation " + jobRef,
		}
	}

	switch g.Status {
	case "COMPLETE":
		if len(g.GeneratedImages) == 0 || g.GeneratedImages[0].URL == "" {
			return generation.Status{State: generation.StateFailed, Error: "completed without images"}, nil
		}
		return generation.Status{
			State:  generation.StateComplete,
			Output: job.Output{URL: g.GeneratedImages[0].URL},
		}, nil
	case "FAILED":
		return generation.Status{State: generation.StateFailed, Error: "generation failed"}, nil
	default:
		return generation.Status{State: generation.StateRunning}, nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return generation.FromTransport(vendorName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return generation.FromStatus(vendorName, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return generation.FromTransport(vendorName, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// parseSize reads "WxH"; Leonardo wants multiples of 8, at least 8.
func parseSize(s string) (int, int) {
	const def = 1024
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return def, def
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return def, def
	}
	return roundTo8(width), roundTo8(height)
}

func roundTo8(n int) int {
	return max(n-n%8, 8)
}
