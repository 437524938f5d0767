package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/borderpay/backend/internal/fetchers"
	"github.com/borderpay/backend/internal/signer"
)

// BorderSource is the data surface the border endpoints read.
type BorderSource interface {
	Fetch(ctx context.Context, params map[string]any) (map[string]any, error)
	ListCrossings(ctx context.Context) ([]fetchers.Crossing, error)
}

// BorderHandler serves the border wait time endpoints. Responses are signed
// so downstream consumers can verify them offline.
type BorderHandler struct {
	Source BorderSource
	Keys   *signer.KeyManager
	Logger *slog.Logger
}

type waitTimeRequest struct {
	Crossing string `json:"crossing"`
}

// GetWaitTime handles POST /border-wait. Body: {"crossing": "..."}.
// Unknown crossings and upstream failures surface as the fetcher's
// data-level error record, signed, with a 404.
func (h *BorderHandler) GetWaitTime(w http.ResponseWriter, r *http.Request) {
	var req waitTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Crossing == "" {
		http.Error(w, `{"error":"missing_param","message":"body field \"crossing\" is required"}`, http.StatusBadRequest)
		return
	}

	record, err := h.Source.Fetch(r.Context(), map[string]any{"crossing": req.Crossing})
	if err != nil {
		h.Logger.Error("fetch wait time", "crossing", req.Crossing, "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	if _, failed := record["error"]; failed {
		writeSigned(w, http.StatusNotFound, h.Keys, record, h.Logger)
		return
	}

	writeSigned(w, http.StatusOK, h.Keys, record, h.Logger)
}

// ListCrossings handles GET /crossings.
func (h *BorderHandler) ListCrossings(w http.ResponseWriter, r *http.Request) {
	crossings, err := h.Source.ListCrossings(r.Context())
	if err != nil {
		h.Logger.Error("list crossings", "error", err)
		http.Error(w, `{"error":"upstream_unavailable"}`, http.StatusBadGateway)
		return
	}
	writeSigned(w, http.StatusOK, h.Keys, map[string]any{"crossings": crossings}, h.Logger)
}
