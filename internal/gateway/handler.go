// Package gateway is the edge in front of the orders and catalog services.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/threadline/internal/telemetry"
)

// copiedResponseHeaders are passed back from the service to the client.
var copiedResponseHeaders = []string{"Content-Type", "Content-Disposition"}

type Handler struct {
	ordersProxy  *ServiceProxy
	catalogProxy *ServiceProxy
	adminToken     string
	customerSecret string
	logger         *slog.Logger
}

func NewHandler(ordersProxy, catalogProxy *ServiceProxy, adminToken, customerSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:    ordersProxy,
		catalogProxy:   catalogProxy,
		adminToken:     adminToken,
		customerSecret: customerSecret,
		logger:         logger,
	}
}

// Register mounts the public routes and the token-protected admin routes.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, pattern := range []string{"/orders", "/orders/", "/checkout/", "/webhooks/"} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.Identify(h.HandleOrders)))
	}
	for _, pattern := range []string{"/products", "/products/", "/categories", "/variants"} {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleCatalog))
	}

	mux.HandleFunc("/admin/orders", telemetry.WithHTTPRoute(h.RequireAdmin(h.Identify(h.HandleOrders))))
	mux.HandleFunc("/admin/orders/", telemetry.WithHTTPRoute(h.RequireAdmin(h.Identify(h.HandleOrders))))
	mux.HandleFunc("/admin/products", telemetry.WithHTTPRoute(h.RequireAdmin(h.HandleCatalog)))
	mux.HandleFunc("/admin/products/", telemetry.WithHTTPRoute(h.RequireAdmin(h.HandleCatalog)))
	mux.HandleFunc("/admin/uploads", telemetry.WithHTTPRoute(h.RequireAdmin(h.HandleCatalog)))
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.catalogProxy, r.URL.Path)
}

// RequireAdmin rejects requests that do not carry the admin bearer token.
func (h *Handler) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.logger.Info("admin request rejected", "method", r.Method, "path", r.URL.Path)
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range copiedResponseHeaders {
		if value := resp.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
