package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fedutinova/shopgen/internal/auth"
	"github.com/fedutinova/shopgen/internal/catalog"
	"github.com/fedutinova/shopgen/internal/common"
	"github.com/fedutinova/shopgen/internal/config"
	"github.com/fedutinova/shopgen/internal/job"
	"github.com/fedutinova/shopgen/internal/memq"
	"github.com/fedutinova/shopgen/internal/models"
	"github.com/fedutinova/shopgen/internal/orchestrator"
	"github.com/fedutinova/shopgen/internal/storage"
	"github.com/fedutinova/shopgen/internal/validation"
)

const maxBodyBytes = 32 << 20

// Generator is the orchestrator as the HTTP layer sees it.
type Generator interface {
	Submit(ctx context.Context, item job.WorkItem) (job.Job, error)
	Get(id string) (job.Job, error)
	Cancel(id string) error
	StartBatch(ctx context.Context, req orchestrator.BatchRequest) (orchestrator.BatchResult, error)
	Batch(id string) (orchestrator.BatchResult, error)
	Models() []string
}

type HistoryReader interface {
	ListGenerations(ctx context.Context, shop, productID string, limit int) ([]models.Generation, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP dependencies. Catalog, History, Storage, DB and
// Redis are optional and left nil when not configured.
type Handlers struct {
	Gen     Generator
	Catalog orchestrator.ImageAttacher
	History HistoryReader
	Storage storage.Storage
	Tasks   memq.Dispatcher
	DB      Pinger
	Redis   Pinger
	Config  config.Config
	// Limit wraps the submission routes.
	Limit func(http.Handler) http.Handler
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	// for static file serving for local storage
	if h.Storage != nil && (h.Config.StorageMode == "local" || h.Config.StorageMode == "filesystem") {
		r.Get("/files/*", h.serveFiles)
	}

	limit := h.Limit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(h.Config.ShopifyAPISecret, h.Config.ShopifyAPIKey))

		r.Get("/v1/models", h.listModels)

		r.With(limit).Post("/v1/generations", h.submitGeneration)
		r.Get("/v1/generations/{id}", h.getGeneration)
		r.Delete("/v1/generations/{id}", h.cancel)

		r.With(limit).Post("/v1/batches", h.startBatch)
		r.Get("/v1/batches/{id}", h.getBatch)
		r.Delete("/v1/batches/{id}", h.cancel)

		r.Post("/v1/catalog/attach", h.attachToCatalog)
		r.Get("/v1/products/{id}/generations", h.listHistory)
	})
}

func (h *Handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.Gen.Models()})
}

func (h *Handlers) submitGeneration(w http.ResponseWriter, r *http.Request) {
	var item job.WorkItem
	if err := decodeBody(r, &item); err != nil {
		writeError(w, err)
		return
	}
	item.Shop = auth.ShopFromContext(r.Context())

	j, err := h.Gen.Submit(r.Context(), item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

func (h *Handlers) getGeneration(w http.ResponseWriter, r *http.Request) {
	j, err := h.Gen.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ownedBy(r.Context(), j.Input.Shop) {
		writeError(w, common.ErrJobNotFound)
		return
	}
	// echoing an inline source image back on every poll is wasteful
	j.Input.SourceData = ""
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if j, err := h.Gen.Get(id); err == nil && !ownedBy(r.Context(), j.Input.Shop) {
		writeError(w, common.ErrJobNotFound)
		return
	}
	if b, err := h.Gen.Batch(id); err == nil && !ownedBy(r.Context(), b.Shop) {
		writeError(w, common.ErrBatchNotFound)
		return
	}
	if err := h.Gen.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelling": true})
}

func (h *Handlers) startBatch(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Shop = auth.ShopFromContext(r.Context())

	res, err := h.Gen.StartBatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": res.ID,
		"status":   res.Status,
		"total":    res.Total,
	})
}

func (h *Handlers) getBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Gen.Batch(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ownedBy(r.Context(), b.Shop) {
		writeError(w, common.ErrBatchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		orchestrator.BatchResult
		Progress float64 `json:"progress"`
	}{b, b.Progress()})
}

type attachRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	ImageURL  string `json:"image_url" validate:"required,url"`
	Alt       string `json:"alt,omitempty" validate:"max=512"`
}

// attachToCatalog re-runs the catalog step for an output that was already
// produced, for example after the automatic attach failed.
func (h *Handlers) attachToCatalog(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "catalog is not configured"})
		return
	}

	var req attachRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if req.Alt == "" {
		req.Alt = "AI generated product image"
	}

	img, err := h.Catalog.AttachImage(r.Context(), auth.ShopFromContext(r.Context()), req.ProductID, req.ImageURL, req.Alt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"image": img})
}

func (h *Handlers) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history is not configured"})
		return
	}

	productID := catalog.NumericID(chi.URLParam(r, "id"))
	if productID == "" {
		writeError(w, common.InvalidInput("invalid product id"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, common.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}

	rows, err := h.History.ListGenerations(r.Context(), auth.ShopFromContext(r.Context()), productID, limit)
	if err != nil {
		writeError(w, common.WrapInternal("list generations", err))
		return
	}
	if rows == nil {
		rows = []models.Generation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "generations": rows})
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/files/")
	if key == "" {
		http.Error(w, "file path required", http.StatusBadRequest)
		return
	}

	f, contentType, err := h.Storage.GetFile(r.Context(), key)
	if err != nil {
		if common.IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "invalid file path", http.StatusBadRequest)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, f); err != nil {
		slog.Warn("serve file", "key", key, "err", err)
	}
}

// ownedBy reports whether the caller may see a resource of shop. Resources
// created without a shop are visible to everyone.
func ownedBy(ctx context.Context, shop string) bool {
	return shop == "" || shop == auth.ShopFromContext(ctx)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return common.InvalidInput("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

type errorResponse struct {
	Error  string                       `json:"error"`
	Kind   common.Kind                  `json:"kind,omitempty"`
	Fields []validation.ValidationError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: common.KindOf(err)}

	status := http.StatusInternalServerError
	switch {
	case common.IsInvalidInput(err):
		status = http.StatusBadRequest
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Fields = verrs
		}
	case common.IsNotFound(err):
		status = http.StatusNotFound
		resp.Kind = ""
	case errors.Is(err, common.ErrConflict):
		status = http.StatusConflict
		resp.Kind = ""
	case common.IsUnauthorized(err):
		status = http.StatusUnauthorized
		resp.Kind = ""
	case errors.Is(err, common.ErrVendorRejected), errors.Is(err, common.ErrVendorTransient):
		status = http.StatusBadGateway
	default:
		slog.Error("request failed", "err", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
