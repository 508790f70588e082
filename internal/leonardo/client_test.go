package leonardo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/generation"
)

func TestSubmit_WithInitImage(t *testing.T) {
	var (
		gen      generationRequest
		uploaded bool
		srvURL   string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /init-image", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"uploadInitImage": map[string]any{
				"id":     "init-1",
				"url":    srvURL + "/upload",
				"fields": `{"key":"uploads/init-1.png"}`,
			},
		})
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "uploads/init-1.png", r.FormValue("key"))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		uploaded = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /generations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gen)
		_, _ = w.Write([]byte(`{"sdGenerationJob":{"generationId":"gen-42","apiCreditCost":8}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(srv.URL, "key", "model-x")
	sub, err := c.Submit(context.Background(), generation.Request{
		Prompt:     "marble table",
		SourceData: []byte("\x89PNG\r\n\x1a\nrest"),
		Strength:   0.15,
		Size:       "1000x770",
	})
	require.NoError(t, err)

	assert.False(t, sub.Immediate())
	assert.Equal(t, "gen-42", sub.JobRef)
	assert.Equal(t, 8, sub.Credits)
	assert.True(t, uploaded)
	assert.Equal(t, "init-1", gen.InitImageID)
	require.NotNil(t, gen.InitStrength)
	assert.InDelta(t, 0.15, *gen.InitStrength, 1e-9)
	assert.Equal(t, "model-x", gen.ModelID)
	assert.Equal(t, 1000, gen.Width)
	assert.Equal(t, 768, gen.Height)
}

func TestSubmit_TextOnly(t *testing.T) {
	var gen generationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generations", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gen)
		_, _ = w.Write([]byte(`{"sdGenerationJob":{"generationId":"gen-1"}}`))
	}))
	defer srv.Close()

	sub, err := NewClient(srv.URL, "key", "").Submit(context.Background(), generation.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", sub.JobRef)
	assert.Empty(t, gen.InitImageID)
	assert.Nil(t, gen.InitStrength)
}

func TestSubmit_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   common.Kind
	}{
		{http.StatusBadRequest, common.KindVendorRejected},
		{http.StatusPaymentRequired, common.KindVendorRejected},
		{http.StatusTooManyRequests, common.KindVendorTransient},
		{http.StatusBadGateway, common.KindVendorTransient},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		_, err := NewClient(srv.URL, "key", "").Submit(context.Background(), generation.Request{Prompt: "p"})
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, tc.want, common.KindOf(err), "status %d", tc.status)
		assert.Contains(t, generation.PayloadOf(err), "nope")
	}
}

func TestPollStatus(t *testing.T) {
	responses := map[string]string{
		"pending":  `{"generations_by_pk":{"status":"PENDING","generated_images":[]}}`,
		"complete": `{"generations_by_pk":{"status":"COMPLETE","generated_images":[{"id":"i","url":"https://cdn.leonardo.ai/x.jpg"}]}}`,
		"failed":   `{"generations_by_pk":{"status":"FAILED"}}`,
		"empty":    `{"generations_by_pk":{"status":"COMPLETE","generated_images":[]}}`,
		"missing":  `{"generations_by_pk":null}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/generations/"):]
		_, _ = w.Write([]byte(responses[id]))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "key", "")

	st, err := c.PollStatus(context.Background(), "pending")
	require.NoError(t, err)
	assert.Equal(t, generation.StateRunning, st.State)

	st, err = c.PollStatus(context.Background(), "complete")
	require.NoError(t, err)
	assert.Equal(t, generation.StateComplete, st.State)
	assert.Equal(t, "https://cdn.leonardo.ai/x.jpg", st.Output.URL)

	st, err = c.PollStatus(context.Background(), "failed")
	require.NoError(t, err)
	assert.Equal(t, generation.StateFailed, st.State)

	st, err = c.PollStatus(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, generation.StateFailed, st.State)

	_, err = c.PollStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrVendorRejected)
}

func TestPollStatus_EscapesJobRef(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"generations_by_pk":{"status":"PENDING"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "key", "").PollStatus(context.Background(), "a/b c")
	require.NoError(t, err)
	assert.Equal(t, "/generations/a%2Fb%20c", gotPath)
}

func TestParseSize(t *testing.T) {
	w, h := parseSize("")
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1024, h)

	w, h = parseSize("512x768")
	assert.Equal(t, 512, w)
	assert.Equal(t, 768, h)

	w, h = parseSize("5x1027")
	assert.Equal(t, 8, w)
	assert.Equal(t, 1024, h)

	w, h = parseSize("banana")
	assert.Equal(t, 1024, w)
	assert.Equal(t, 1024, h)
}
