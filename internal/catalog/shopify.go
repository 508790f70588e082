// Package catalog attaches generated images to Shopify products through the
// Admin REST API.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
)

var shopDomain = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

type ProductImage struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Src       string `json:"src"`
	Alt       string `json:"alt,omitempty"`
	Position  int    `json:"position,omitempty"`
}

type Client struct {
	client      *http.Client
	apiVersion  string
	accessToken string
	// baseURL overrides https://<shop> when set.
	baseURL string
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func NewClient(apiVersion, accessToken string, opts ...Option) *Client {
	c := &Client{
		client:      &http.Client{Timeout: 30 * time.Second},
		apiVersion:  apiVersion,
		accessToken: accessToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachImage adds imageURL to the product's media. Shopify fetches the URL
// itself, so it must be publicly reachable.
func (c *Client) AttachImage(ctx context.Context, shop, productID, imageURL, alt string) (*ProductImage, error) {
	if c.baseURL == "" && !shopDomain.MatchString(shop) {
		return nil, common.InvalidInput("invalid shop domain %q", shop)
	}
	id := NumericID(productID)
	if id == "" {
		return nil, common.InvalidInput("invalid product id %q", productID)
	}
	if imageURL == "" {
		return nil, common.InvalidInput("image url is required")
	}

	payload, err := json.Marshal(map[string]any{
		"image": map[string]string{"src": imageURL, "alt": alt},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	base := c.baseURL
	if base == "" {
		base = "https://" + shop
	}
	url := fmt.Sprintf("%s/admin/api/%s/products/%s/images.json", base, c.apiVersion, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, generation.FromTransport("shopify", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, generation.FromStatus("shopify", resp.StatusCode, body)
	}

	var out struct {
		Image ProductImage `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode shopify response: %w", err)
	}

	slog.Info("image attached to product", "shop", shop, "product_id", id, "image_id", out.Image.ID)
	return &out.Image, nil
}

// NumericID accepts "123" or "gid://shopify/Product/123" and returns "123".
func NumericID(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return ""
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}
