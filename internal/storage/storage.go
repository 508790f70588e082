// Package storage hosts generated images so that the catalog receives a
// stable URL instead of a short-lived vendor link.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Storage interface {
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
	GetFile(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error)
	DeleteFile(ctx context.Context, key string) error
}

type UploadResult struct {
	Key         string
	URL         string
	ContentType string
	Size        int
}

// generateKey returns generated/<yyyy/mm/dd>/<name>_<id><ext>.
func generateKey(filename string, now time.Time) string {
	ext := filepath.Ext(filename)
	basename := strings.TrimSuffix(filepath.Base(filename), ext)

	safe := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, basename)
	if safe == "" || safe == "." {
		safe = "image"
	}

	return fmt.Sprintf("generated/%s/%s_%s%s", now.Format("2006/01/02"), safe, uuid.New().String()[:8], ext)
}
