package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fedutinova/shopgen/internal/job"
)

const maxDownloadBytes = 25 << 20

// Publisher copies a generated image into Storage. Vendor URLs expire, so a
// URL output is downloaded first.
type Publisher struct {
	store      Storage
	client     *http.Client
	presignTTL time.Duration
}

type PublisherOption func(*Publisher)

// WithPresignedURLs hands out presigned links valid for ttl instead of the
// object's public URL, for private buckets.
func WithPresignedURLs(ttl time.Duration) PublisherOption {
	return func(p *Publisher) { p.presignTTL = ttl }
}

func NewPublisher(store Storage, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, client: &http.Client{Timeout: 60 * time.Second}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, out job.Output, name string) (*UploadResult, error) {
	data := out.Data
	if len(data) == 0 {
		if out.URL == "" {
			return nil, errors.New("output has neither data nor URL")
		}
		var err error
		data, err = p.download(ctx, out.URL)
		if err != nil {
			return nil, err
		}
	}

	mt := mimetype.Detect(data)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") && !mt.Is("image/webp") && !mt.Is("image/gif") {
		return nil, fmt.Errorf("generated output is not an image: %s", mt.String())
	}

	res, err := p.store.UploadFile(ctx, name+mt.Extension(), bytes.NewReader(data), mt.String())
	if err != nil {
		return nil, err
	}
	if p.presignTTL <= 0 {
		return res, nil
	}

	url, err := p.store.GetPresignedURL(ctx, res.Key, p.presignTTL)
	if err != nil {
		// nobody can reach the copy without a link
		if derr := p.store.DeleteFile(context.WithoutCancel(ctx), res.Key); derr != nil {
			slog.Warn("failed to remove unpublished upload", "key", res.Key, "err", derr)
		}
		return nil, err
	}
	res.URL = url
	return res, nil
}

func (p *Publisher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download output: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}
	return data, nil
}
