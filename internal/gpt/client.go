// Package gpt renders product images with DALL-E 3, optionally describing the
// current product photo with GPT-4o first.
package gpt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
	"github.com/fedutinova/shopgen/internal/job"
)

const vendorName = "openai"

type Client struct {
	openAI *openai.Client
	vision bool
}

// NewClient builds the adapter. With vision enabled a source image is first
// described by GPT-4o and the description folded into the DALL-E prompt.
func NewClient(apiKey string, vision bool) *Client {
	return &Client{openAI: openai.NewClient(apiKey), vision: vision}
}

// NewClientWithConfig is NewClient with a custom go-openai config, e.g. a
// different base URL.
func NewClientWithConfig(cfg openai.ClientConfig, vision bool) *Client {
	return &Client{openAI: openai.NewClientWithConfig(cfg), vision: vision}
}

func (c *Client) Name() string { return vendorName }

func (c *Client) Submit(ctx context.Context, req generation.Request) (generation.Submission, error) {
	start := time.Now()

	prompt := req.Prompt
	if c.vision && req.HasSource() {
		analysis, err := c.describeProduct(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return generation.Submission{}, ctx.Err()
			}
			// the image can still be generated from text alone
			slog.Warn("product image analysis failed, continuing with text prompt", "err", err)
		} else {
			prompt = composePrompt(analysis, req.Prompt)
		}
	}

	size := openai.CreateImageSize1024x1024
	if req.Size != "" {
		size = req.Size
	}
	quality := openai.CreateImageQualityStandard
	if req.Quality != "" {
		quality = req.Quality
	}

	slog.Info("sending image request to OpenAI",
		"model", openai.CreateImageModelDallE3,
		"size", size,
		"quality", quality,
		"prompt_length", len(prompt))

	resp, err := c.openAI.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           size,
		Quality:        quality,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return generation.Submission{}, classify(err)
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return generation.Submission{}, generation.GenerationFailed(vendorName, "image API returned no image URL")
	}

	slog.Info("received image from OpenAI", "duration_ms", time.Since(start).Milliseconds())

	return generation.Submission{
		Output:        &job.Output{URL: resp.Data[0].URL},
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

// PollStatus is never needed: DALL-E answers synchronously.
func (c *Client) PollStatus(ctx context.Context, jobRef string) (generation.Status, error) {
	return generation.Status{}, &generation.VendorError{
		Vendor: vendorName,
		Kind:   common.KindVendorRejected,
		Body:   "synchronous vendor has no job to poll",
	}
}

func (c *Client) describeProduct(ctx context.Context, req generation.Request) (string, error) {
	imageURL := req.SourceURL
	if imageURL == "" {
		mime := req.SourceMIME
		if mime == "" {
			mime = "image/png"
		}
		imageURL = fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.SourceData))
	}

	resp, err := c.openAI.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4o,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: analysisPrompt(req.ProductName)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
		MaxTokens: 500,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("no analysis in response")
	}

	slog.Debug("product image analysed", "tokens_used", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto vendor error kinds.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return generation.FromStatus(vendorName, apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return generation.FromStatus(vendorName, reqErr.HTTPStatusCode, []byte(body))
	}
	return generation.FromTransport(vendorName, err)
}
