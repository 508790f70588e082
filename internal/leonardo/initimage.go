package leonardo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
)

type initImageResponse struct {
	UploadInitImage struct {
		ID     string `json:"id"`
		URL    string `json:"url"`
		Fields string `json:"fields"`
	} `json:"uploadInitImage"`
}

// uploadInitImage registers the source image with Leonardo and pushes the
// bytes to the presigned form it hands back.
func (c *Client) uploadInitImage(ctx context.Context, req generation.Request) (string, error) {
	data, mime := req.SourceData, req.SourceMIME
	if len(data) == 0 {
		var err error
		data, mime, err = c.download(ctx, req.SourceURL)
		if err != nil {
			return "", err
		}
	}
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}

	var presign initImageResponse
	if err := c.do(ctx, http.MethodPost, "/init-image", map[string]string{"extension": extension(mime)}, &presign); err != nil {
		return "", err
	}
	up := presign.UploadInitImage
	if up.ID == "" || up.URL == "" {
		return "", generation.GenerationFailed(vendorName, "init image upload was not granted")
	}

	fields := map[string]string{}
	if up.Fields != "" {
		if err := json.Unmarshal([]byte(up.Fields), &fields); err != nil {
			return "", generation.FromTransport(vendorName, fmt.Errorf("decode upload fields: %w", err))
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write form field: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "source."+extension(mime))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, up.URL, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", generation.FromTransport(vendorName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", generation.FromStatus(vendorName, resp.StatusCode, raw)
	}
	return up.ID, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", common.InvalidInput("source_url: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", generation.FromTransport("source", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("download source image: %w", generation.FromStatus("source", resp.StatusCode, raw))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, "", generation.FromTransport("source", err)
	}
	mime, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, mime, nil
}

func extension(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
