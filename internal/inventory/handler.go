package inventory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joao-fontenele/threadline/internal/domain"
)

const maxLookupIDs = 100

type Lookuper interface {
	Lookup(ctx context.Context, variantIDs []string) (map[string]domain.VariantStock, error)
}

type Handler struct {
	repo   Lookuper
	logger *slog.Logger
}

func NewHandler(repo Lookuper, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// HandleLookup serves GET /variants?ids=a,b so the storefront can refresh cart prices
// and stock before checkout.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid variant id: "+id)
			return
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, "ids query parameter is required")
		return
	}
	if len(ids) > maxLookupIDs {
		h.writeError(w, http.StatusBadRequest, "too many variant ids")
		return
	}

	found, err := h.repo.Lookup(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to look up variants", "error", err, "count", len(ids))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	variants := make([]domain.VariantStock, 0, len(found))
	for _, id := range ids {
		if v, ok := found[id]; ok {
			variants = append(variants, v)
		}
	}

	h.logger.Info("variants looked up", "requested", len(ids), "found", len(variants))
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": variants})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}
