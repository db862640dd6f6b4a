package geoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/model"
	"github.com/Adithya-Monish-Kumar-K/geoquery/internal/query"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/geoquery/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/tracing"
)

const (
	maxBodyBytes  = 10 << 20
	slowQueryTime = 250 * time.Millisecond
)

type Handler struct {
	store   *Store
	limits  config.SearchConfig
	tracker analytics.Tracker
	group   singleflight.Group
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler. tracker may be nil.
func NewHandler(store *Store, limits config.SearchConfig, tracker analytics.Tracker) *Handler {
	return &Handler{
		store:   store,
		limits:  limits,
		tracker: tracker,
		logger:  slog.Default().With("component", "geo-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/nearby", h.Nearby)
	mux.HandleFunc("GET /api/v1/within", h.Within)
	mux.HandleFunc("GET /api/v1/records", h.List)
	mux.HandleFunc("GET /api/v1/records/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/records", h.Upsert)
	mux.HandleFunc("DELETE /api/v1/records/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, query.ModeRadius)
}

func (h *Handler) Within(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, query.ModeBounds)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.serveQuery(w, r, query.ModeAll)
}

func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request, mode query.Mode) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	requestID := middleware.GetRequestID(ctx)

	req, err := ParseValues(mode, r.URL.Query(), h.limits)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	ctx, span := tracing.StartSpan(ctx, "query."+string(mode), requestID)
	// Identical in-flight requests share one execution.
	v, err, shared := h.group.Do(string(mode)+"?"+r.URL.RawQuery, func() (any, error) {
		_, child := tracing.StartChildSpan(ctx, "store.query")
		defer child.End()
		result, err := h.store.Query(context.WithoutCancel(ctx), req)
		if err != nil {
			return nil, err
		}
		child.SetAttr("total", result.Metadata.Total)
		child.SetAttr("from_cache", result.Metadata.FromCache)
		return toResponse(result), nil
	})
	span.SetAttr("shared", shared)
	span.End()
	span.LogIfSlow(log, slowQueryTime)

	if err != nil {
		log.Error("query failed", "mode", mode, "error", err)
		h.writeErr(w, err)
		return
	}
	resp := v.(proto.QueryResponse)
	trackQuery(h.tracker, req, resp, time.Since(start), requestID)
	log.Debug("query served",
		"mode", mode,
		"total", resp.Metadata.Total,
		"returned", resp.Metadata.Returned,
		"from_cache", resp.Metadata.FromCache,
		"shared", shared,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	it, ok := h.store.Get(id)
	if !ok {
		h.writeErr(w, apperrors.Newf(apperrors.ErrRecordNotFound, http.StatusNotFound, "record %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, toItem(it))
}

type upsertResponse struct {
	Upserted int      `json:"upserted"`
	IDs      []string `json:"ids"`
	Size     int      `json:"size"`
}

// Upsert accepts a single item object or an array of them.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		if maxErr := (*http.MaxBytesError)(nil); errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		log.Warn("reading request body failed", "error", err)
		h.writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	items, err := decodeItems(body)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.store.Upsert(ctx, items); err != nil {
		log.Warn("upsert rejected", "count", len(items), "error", err)
		h.writeErr(w, err)
		return
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	log.Info("records upserted", "count", len(items))
	h.writeJSON(w, http.StatusOK, upsertResponse{Upserted: len(items), IDs: ids, Size: h.store.Size()})
}

func decodeItems(body []byte) ([]*model.Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "request body is empty")
	}
	if body[0] == '[' {
		var items []*model.Item
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, invalidBody(err)
		}
		return items, nil
	}
	var it model.Item
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, invalidBody(err)
	}
	return []*model.Item{&it}, nil
}

func invalidBody(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeErr(w, err)
		return
	}
	logger.FromContext(r.Context()).Info("record deleted", "id", id)
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "size": h.store.Size()})
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.Reload(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("reload failed", "error", err)
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.store.CacheStats()
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	var hitRate float64
	if total := stats.Hits + stats.Misses; total > 0 {
		hitRate = float64(stats.Hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
		"size":      stats.Size,
		"capacity":  stats.Capacity,
		"hit_rate":  hitRate,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !h.store.InvalidateCache() {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err onto a status code and a client-safe message.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	if status == http.StatusInternalServerError {
		h.writeError(w, status, "internal error")
		return
	}
	h.writeError(w, status, err.Error())
}

func trackQuery(t analytics.Tracker, req Request, resp proto.QueryResponse, elapsed time.Duration, requestID string) {
	if t == nil {
		return
	}
	t.TrackQuery(analytics.QueryEvent{
		Mode:      string(req.Mode),
		Shape:     req.Shape(),
		Total:     resp.Metadata.Total,
		Returned:  resp.Metadata.Returned,
		LatencyUs: elapsed.Microseconds(),
		CacheHit:  resp.Metadata.FromCache,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	})
}
