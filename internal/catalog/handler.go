package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

const (
	maxUploadBytes = 10 << 20
	maxProductBody = 1 << 20
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
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(h.HandleList))
	mux.HandleFunc("GET /products/{slug}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("GET /categories", telemetry.WithHTTPRoute(h.HandleCategories))
	mux.HandleFunc("GET /admin/products", telemetry.WithHTTPRoute(h.HandleAdminList))
	mux.HandleFunc("POST /admin/products", telemetry.WithHTTPRoute(h.HandleCreate))
	mux.HandleFunc("PUT /admin/products/{id}", telemetry.WithHTTPRoute(h.HandleUpdate))
	mux.HandleFunc("DELETE /admin/products/{id}", telemetry.WithHTTPRoute(h.HandleDelete))
	mux.HandleFunc("POST /admin/uploads", telemetry.WithHTTPRoute(h.HandleUpload))
}

func parseFilter(r *http.Request) Filter {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return Filter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Page:     page,
		PageSize: size,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.List(r.Context(), parseFilter(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to list products")
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	f := parseFilter(r)
	f.IncludeInactive = true

	page, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err, "failed to list products")
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	p, err := h.svc.GetBySlug(r.Context(), slug)
	if err != nil {
		h.writeServiceError(w, err, "failed to get product", "slug", slug)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.svc.Categories(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list categories")
		return
	}
	h.writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request) (ProductInput, bool) {
	var in ProductInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProductBody)).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return in, false
	}
	return in, true
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err, "failed to create product", "name", in.Name)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in, ok := h.decodeInput(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, err, "failed to update product", "product_id", id)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	res, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to delete product", "product_id", id)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	uploaded, err := h.svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.writeServiceError(w, err, "failed to upload image", "filename", header.Filename)
		return
	}

	h.logger.Info("image uploaded", "public_id", uploaded.PublicID)
	h.writeJSON(w, http.StatusCreated, uploaded)
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
