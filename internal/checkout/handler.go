package checkout

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

type Handler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /checkout/sessions", telemetry.WithHTTPRoute(h.HandleStartSession))
	mux.HandleFunc("POST /checkout/confirm", telemetry.WithHTTPRoute(h.HandleConfirm))
}

func (h *Handler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if customerID := r.Header.Get("X-Customer-ID"); customerID != "" {
		req.CustomerID = customerID
	}

	resp, err := h.svc.StartSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "failed to start checkout session")
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.Confirm(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "failed to confirm payment", "gateway_order_id", req.GatewayOrderID)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, args ...any) {
	status := domain.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(args, "error", err)...)
		h.writeError(w, status, "internal server error")
		return
	}
	h.logger.Info(msg, append(args, "error", err, "status", status)...)
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
