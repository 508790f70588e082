package gpt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, vision bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return NewClientWithConfig(cfg, vision)
}

func writeImage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"created": 1,
		"data": []map[string]any{{
			"url":            "https://oaidalleapi.example/img.png",
			"revised_prompt": "a revised prompt",
		}},
	})
}

func TestSubmit_ReturnsImmediateOutput(t *testing.T) {
	var got openai.ImageRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeImage(w)
	}, false)

	sub, err := c.Submit(context.Background(), generation.Request{Prompt: "a mug"})
	require.NoError(t, err)
	require.True(t, sub.Immediate())
	assert.Equal(t, "https://oaidalleapi.example/img.png", sub.Output.URL)
	assert.Equal(t, "a revised prompt", sub.RevisedPrompt)

	assert.Equal(t, openai.CreateImageModelDallE3, got.Model)
	assert.Equal(t, openai.CreateImageSize1024x1024, got.Size)
	assert.Equal(t, openai.CreateImageQualityStandard, got.Quality)
}

func TestSubmit_VisionFoldsAnalysisIntoPrompt(t *testing.T) {
	var imagePrompt string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{
					"index":   0,
					"message": map[string]any{"role": "assistant", "content": "navy linen shirt"},
				}},
			})
		case "/v1/images/generations":
			var req openai.ImageRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			imagePrompt = req.Prompt
			writeImage(w)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, true)

	_, err := c.Submit(context.Background(), generation.Request{
		Prompt:    "lifestyle setting",
		SourceURL: "https://cdn.shopify.com/shirt.png",
	})
	require.NoError(t, err)
	assert.Contains(t, imagePrompt, "navy linen shirt")
	assert.Contains(t, imagePrompt, "lifestyle setting")
}

func TestSubmit_VisionFailureIsNotFatal(t *testing.T) {
	var imageCalls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/chat/completions") {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		imageCalls.Add(1)
		writeImage(w)
	}, true)

	sub, err := c.Submit(context.Background(), generation.Request{Prompt: "p", SourceData: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.Output.URL)
	assert.EqualValues(t, 1, imageCalls.Load())
}

func TestSubmit_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   common.Kind
	}{
		{http.StatusBadRequest, common.KindVendorRejected},
		{http.StatusServiceUnavailable, common.KindVendorTransient},
	}
	for _, tc := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
		}, false)

		_, err := c.Submit(context.Background(), generation.Request{Prompt: "p"})
		require.Error(t, err)
		assert.Equal(t, tc.want, common.KindOf(err), "status %d", tc.status)
	}
}

func TestSubmit_EmptyResponseIsGenerationFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[]}`))
	}, false)

	_, err := c.Submit(context.Background(), generation.Request{Prompt: "p"})
	assert.ErrorIs(t, err, common.ErrVendorGenerationFailed)
}
