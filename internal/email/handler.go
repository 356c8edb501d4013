// Package email accepts notification emails from the worker and records their delivery.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync/atomic"

	"github.com/joao-fontenele/threadline/internal/telemetry"
)

const (
	maxSubjectLength = 200
	maxBodyBytes     = 64 << 10
)

type Handler struct {
	logger *slog.Logger
	sent   atomic.Int64
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /send", telemetry.WithHTTPRoute(h.HandleSend))
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
	Sent   int64  `json:"sent"`
}

func (r sendRequest) validate() string {
	switch {
	case strings.TrimSpace(r.To) == "":
		return "to is required"
	case strings.TrimSpace(r.Subject) == "":
		return "subject is required"
	case len(r.Subject) > maxSubjectLength:
		return "subject is too long"
	case strings.TrimSpace(r.Body) == "":
		return "body is required"
	}
	if _, err := mail.ParseAddress(r.To); err != nil {
		return "to is not a valid email address"
	}
	return ""
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.writeError(w, http.StatusBadRequest, msg)
		return
	}

	n := h.sent.Add(1)
	h.logger.Info("email sent", "to", req.To, "subject", req.Subject, "sent_total", n)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent", Sent: n})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
