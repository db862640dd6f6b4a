package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/geoquery/pkg/resilience"
)

type Handler struct {
	aggregator *Aggregator
	collector  *Collector
	logger     *slog.Logger
}

// NewHandler serves aggregator stats. collector may be nil; when set, its
// backlog is reported alongside.
func NewHandler(aggregator *Aggregator, collector *Collector) *Handler {
	return &Handler{
		aggregator: aggregator,
		collector:  collector,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

type statsResponse struct {
	AggregatedStats
	PendingEvents int   `json:"pending_events"`
	DroppedEvents int64              `json:"dropped_events"`
	Publisher     *resilience.Counts `json:"publisher,omitempty"`
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{AggregatedStats: h.aggregator.Stats()}
	if h.collector != nil {
		resp.PendingEvents = h.collector.BufferLen()
		resp.DroppedEvents = h.collector.Dropped()
		if counts, ok := h.collector.PublisherState(); ok {
			resp.Publisher = &counts
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
