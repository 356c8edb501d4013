package email

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_Send(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "valid email is sent",
			body:       `{"to":"asha@example.com","subject":"Order ORD-1 confirmed","body":"Thanks!"}`,
			wantStatus: http.StatusOK,
			wantBody:   `"status":"sent"`,
		},
		{
			name:       "missing recipient",
			body:       `{"subject":"hi","body":"there"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "to is required",
		},
		{
			name:       "invalid recipient",
			body:       `{"to":"not-an-address","subject":"hi","body":"there"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "not a valid email address",
		},
		{
			name:       "missing body",
			body:       `{"to":"asha@example.com","subject":"hi"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "body is required",
		},
		{
			name:       "malformed json",
			body:       `{"to":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("expected body to contain %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}
