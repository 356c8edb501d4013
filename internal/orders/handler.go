package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/payments"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

// CustomerIDHeader carries the authenticated customer. The gateway sets it from a verified
// customer token and drops any value the client sent.
const CustomerIDHeader = "X-Customer-ID"

const maxWebhookBody = 1 << 20

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

// Register mounts the customer, admin and webhook routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(h.HandleListMine))
	mux.HandleFunc("GET /orders/{number}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("POST /orders/{number}/cancel", telemetry.WithHTTPRoute(h.HandleCancel))
	mux.HandleFunc("POST /orders/{number}/return", telemetry.WithHTTPRoute(h.HandleRequestReturn))
	mux.HandleFunc("POST /webhooks/payments", telemetry.WithHTTPRoute(h.HandlePaymentWebhook))
	mux.HandleFunc("GET /admin/orders", telemetry.WithHTTPRoute(h.HandleAdminList))
	mux.HandleFunc("GET /admin/orders/export", telemetry.WithHTTPRoute(h.HandleAdminExport))
	mux.HandleFunc("GET /admin/orders/{id}", telemetry.WithHTTPRoute(h.HandleAdminGet))
	mux.HandleFunc("PATCH /admin/orders/{id}/status", telemetry.WithHTTPRoute(h.HandleUpdateStatus))
	mux.HandleFunc("PATCH /admin/orders/{id}/tracking", telemetry.WithHTTPRoute(h.HandleUpdateTracking))
	mux.HandleFunc("PATCH /admin/orders/{id}/items/{itemId}/production", telemetry.WithHTTPRoute(h.HandleUpdateProduction))
	mux.HandleFunc("POST /admin/orders/{id}/refund", telemetry.WithHTTPRoute(h.HandleRefund))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.ListForCustomer(r.Context(), r.Header.Get(CustomerIDHeader))
	if err != nil {
		h.writeServiceError(w, err, "failed to list customer orders")
		return
	}

	h.logger.Info("customer orders listed", "count", len(views))
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	view, err := h.svc.Get(r.Context(), number, r.Header.Get(CustomerIDHeader))
	if err != nil {
		h.writeServiceError(w, err, "failed to get order", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.Cancel(r.Context(), CancelRequest{
		OrderNumber: number,
		CustomerID:  r.Header.Get(CustomerIDHeader),
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel order", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRequestReturn(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.RequestReturn(r.Context(), ReturnRequest{
		OrderNumber: number,
		CustomerID:  r.Header.Get(CustomerIDHeader),
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to request return", "order_number", number)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeServiceError(w, err, "invalid order filter")
		return
	}

	orders, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleAdminExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeServiceError(w, err, "invalid order filter")
		return
	}

	// Buffered so a failed export can still answer with a JSON error.
	var buf bytes.Buffer
	count, err := h.svc.Export(r.Context(), filter, &buf)
	if err != nil {
		h.writeServiceError(w, err, "failed to export orders")
		return
	}

	filename := "orders-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("failed to write export", "error", err)
		return
	}

	h.logger.Info("orders exported", "count", count)
}

func (h *Handler) HandleAdminGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	order, err := h.svc.AdminGet(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get order", "id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeServiceError(w, err, "invalid status", "id", id)
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, status)
	if err != nil {
		h.writeServiceError(w, err, "failed to update order status", "id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateTrackingRequest struct {
	Carrier             string     `json:"carrier"`
	TrackingNumber      string     `json:"tracking_number"`
	EstimatedDeliveryAt *time.Time `json:"estimated_delivery_at"`
}

func (h *Handler) HandleUpdateTracking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.UpdateTracking(r.Context(), id, domain.Tracking{
		Carrier:             req.Carrier,
		TrackingNumber:      req.TrackingNumber,
		EstimatedDeliveryAt: req.EstimatedDeliveryAt,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to update tracking", "id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleUpdateProduction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	itemID := r.PathValue("itemId")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := domain.ParseProductionStatus(req.Status)
	if err != nil {
		h.writeServiceError(w, err, "invalid production status", "id", id)
		return
	}

	order, err := h.svc.UpdateProduction(r.Context(), id, itemID, status)
	if err != nil {
		h.writeServiceError(w, err, "failed to update production", "id", id, "item_id", itemID)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := h.svc.Refund(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to refund order", "id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.VerifyWebhook(body, r.Header.Get("X-Razorpay-Signature")); err != nil {
		h.logger.Warn("rejected payment webhook", "error", err)
		h.writeServiceError(w, err, "invalid webhook")
		return
	}

	ev, err := payments.ParseWebhook(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), ev); err != nil {
		h.writeServiceError(w, err, "failed to apply payment webhook", "event", ev.Event)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	var filter Filter

	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return Filter{}, err
		}
		filter.Status = status
	}
	if raw := q.Get("payment_status"); raw != "" {
		status, err := domain.ParsePaymentStatus(raw)
		if err != nil {
			return Filter{}, err
		}
		filter.PaymentStatus = status
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: limit must be a number", domain.ErrValidation)
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: offset must be a number", domain.ErrValidation)
		}
		filter.Offset = n
	}

	return filter, nil
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Only unexpected errors
// are logged at error level; the message of a known error is shown to the caller.
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
