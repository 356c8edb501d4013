// Package catalog serves product browsing and the admin product writes, keeping hosted
// images in step with the rows that reference them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/threadline/internal/domain"
	"github.com/joao-fontenele/threadline/internal/imagehost"
)

const (
	defaultPageSize = 24
	maxPageSize     = 100
	maxSlugAttempts = 50
	cleanupTimeout  = time.Minute
)

type Store interface {
	List(ctx context.Context, f Filter) ([]domain.Product, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
	Categories(ctx context.Context) ([]string, error)
	SlugTaken(ctx context.Context, slug string, except uuid.UUID) (bool, error)
	Create(ctx context.Context, p *domain.Product) error
	Update(ctx context.Context, p *domain.Product) ([]domain.Image, error)
	IsReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	Archive(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) ([]domain.Image, error)
}

type ImageHost interface {
	Upload(ctx context.Context, filename string, file io.Reader) (imagehost.Uploaded, error)
	DeleteAll(ctx context.Context, publicIDs []string) error
}

type Filter struct {
	Category        string
	Query           string
	Page            int
	PageSize        int
	IncludeInactive bool
}

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	f.Query = strings.TrimSpace(f.Query)
	return f
}

type Page struct {
	Products []domain.Product `json:"products"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

type ImageInput struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
	Alt      string `json:"alt"`
}

type VariantInput struct {
	ID    string           `json:"id,omitempty"`
	SKU   string           `json:"sku"`
	Size  string           `json:"size"`
	Color string           `json:"color"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Stock int              `json:"stock"`
}

type ProductInput struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	BasePrice      decimal.Decimal `json:"base_price"`
	IsActive       *bool           `json:"is_active,omitempty"`
	IsDraft        bool            `json:"is_draft"`
	IsCustomizable bool            `json:"is_customizable"`
	Images         []ImageInput    `json:"images"`
	Variants       []VariantInput  `json:"variants"`
}

type DeleteResult struct {
	ID       string `json:"id"`
	Archived bool   `json:"archived"`
}

type Service struct {
	store  Store
	images ImageHost
	logger *slog.Logger
	now    func() time.Time

	cleanup sync.WaitGroup
}

func NewService(store Store, images ImageHost, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		images: images,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Drain waits for background image cleanup started by earlier writes.
func (s *Service) Drain() {
	s.cleanup.Wait()
}

func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	f = f.normalized()
	products, total, err := s.store.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return Page{Products: products, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// GetBySlug returns a product visible on the storefront.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	p, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if p == nil || !p.IsActive || p.IsDraft {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, slug)
	}
	return p, nil
}

func (s *Service) Categories(ctx context.Context) ([]string, error) {
	categories, err := s.store.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if categories == nil {
		categories = []string{}
	}
	return categories, nil
}

func (s *Service) Upload(ctx context.Context, filename string, file io.Reader) (imagehost.Uploaded, error) {
	return s.images.Upload(ctx, filename, file)
}

func (s *Service) Create(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var comp compensations
	comp.add("delete uploaded images", func(ctx context.Context) error {
		return s.images.DeleteAll(ctx, inputPublicIDs(in))
	})

	p, err := s.build(ctx, uuid.New(), in, nil)
	if err != nil {
		comp.run(ctx, s.logger)
		return nil, err
	}

	if err := s.store.Create(ctx, p); err != nil {
		comp.run(ctx, s.logger)
		return nil, translate("create product", err)
	}

	s.logger.Info("product created", "product_id", p.ID, "slug", p.Slug)
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, in ProductInput) (*domain.Product, error) {
	pid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	existing, err := s.store.GetByID(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}

	known := make(map[string]bool, len(existing.Images))
	for _, img := range existing.Images {
		known[img.PublicID] = true
	}
	var fresh []string
	for _, publicID := range inputPublicIDs(in) {
		if !known[publicID] {
			fresh = append(fresh, publicID)
		}
	}

	var comp compensations
	comp.add("delete newly uploaded images", func(ctx context.Context) error {
		return s.images.DeleteAll(ctx, fresh)
	})

	p, err := s.build(ctx, pid, in, existing)
	if err != nil {
		comp.run(ctx, s.logger)
		return nil, err
	}

	removed, err := s.store.Update(ctx, p)
	if err != nil {
		comp.run(ctx, s.logger)
		return nil, translate("update product", err)
	}

	s.cleanupImages(ctx, p.ID, removed)
	s.logger.Info("product updated", "product_id", p.ID, "images_removed", len(removed))
	return p, nil
}

// Delete archives a product that orders still reference and hard-deletes it otherwise.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	pid, err := parseID(id)
	if err != nil {
		return DeleteResult{}, err
	}

	existing, err := s.store.GetByID(ctx, pid)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("get product: %w", err)
	}
	if existing == nil {
		return DeleteResult{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}

	referenced, err := s.store.IsReferenced(ctx, pid)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("check order references: %w", err)
	}
	if referenced {
		return s.archive(ctx, pid)
	}

	images, err := s.store.HardDelete(ctx, pid)
	if err != nil {
		// An order placed since the check holds the foreign key.
		if isForeignKeyViolation(err) {
			return s.archive(ctx, pid)
		}
		return DeleteResult{}, translate("delete product", err)
	}

	s.cleanupImages(ctx, pid, images)
	s.logger.Info("product deleted", "product_id", pid, "images", len(images))
	return DeleteResult{ID: pid.String()}, nil
}

func (s *Service) archive(ctx context.Context, id uuid.UUID) (DeleteResult, error) {
	if err := s.store.Archive(ctx, id); err != nil {
		return DeleteResult{}, fmt.Errorf("archive product: %w", err)
	}
	s.logger.Info("product archived", "product_id", id)
	return DeleteResult{ID: id.String(), Archived: true}, nil
}

// cleanupImages removes hosted images in the background. Failures are logged only.
func (s *Service) cleanupImages(ctx context.Context, productID uuid.UUID, images []domain.Image) {
	ids := make([]string, 0, len(images))
	for _, img := range images {
		if img.PublicID != "" {
			ids = append(ids, img.PublicID)
		}
	}
	if len(ids) == 0 {
		return
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	s.cleanup.Add(1)
	go func() {
		defer s.cleanup.Done()
		defer cancel()
		if err := s.images.DeleteAll(bg, ids); err != nil {
			s.logger.Error("image cleanup failed", "product_id", productID, "images", len(ids), "error", err)
		}
	}()
}

// build turns the input into a product row set. existing is nil on create.
func (s *Service) build(ctx context.Context, id uuid.UUID, in ProductInput, existing *domain.Product) (*domain.Product, error) {
	now := s.now()
	p := &domain.Product{
		ID:             id,
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Category:       strings.TrimSpace(in.Category),
		BasePrice:      in.BasePrice.Round(2),
		IsActive:       in.IsActive == nil || *in.IsActive,
		IsDraft:        in.IsDraft,
		IsCustomizable: in.IsCustomizable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if existing != nil && existing.Name == p.Name {
		p.Slug = existing.Slug
		p.CreatedAt = existing.CreatedAt
	} else {
		slug, err := s.uniqueSlug(ctx, p.Name, id)
		if err != nil {
			return nil, err
		}
		p.Slug = slug
		if existing != nil {
			p.CreatedAt = existing.CreatedAt
		}
	}

	for i, img := range in.Images {
		p.Images = append(p.Images, domain.Image{
			ID:        uuid.New(),
			ProductID: id,
			URL:       strings.TrimSpace(img.URL),
			PublicID:  strings.TrimSpace(img.PublicID),
			Alt:       strings.TrimSpace(img.Alt),
			Position:  i,
			CreatedAt: now,
		})
	}

	for _, v := range in.Variants {
		variant := domain.Variant{
			ProductID: id,
			SKU:       strings.TrimSpace(v.SKU),
			Size:      strings.TrimSpace(v.Size),
			Color:     strings.TrimSpace(v.Color),
			Price:     p.BasePrice,
			Stock:     v.Stock,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if v.Price != nil {
			variant.Price = v.Price.Round(2)
		}
		if v.ID != "" {
			vid, err := uuid.Parse(v.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid variant id %q", domain.ErrValidation, v.ID)
			}
			variant.ID = vid
		} else if existing == nil {
			variant.ID = uuid.New()
		}
		p.Variants = append(p.Variants, variant)
	}

	return p, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func Slugify(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if slug == "" {
		return "product"
	}
	return slug
}

func (s *Service) uniqueSlug(ctx context.Context, name string, except uuid.UUID) (string, error) {
	base := Slugify(name)
	for n := 1; n <= maxSlugAttempts; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", base, n)
		}
		taken, err := s.store.SlugTaken(ctx, candidate, except)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]), nil
}

func validate(in ProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if in.BasePrice.IsNegative() {
		return fmt.Errorf("%w: base price must not be negative", domain.ErrValidation)
	}

	skus := make(map[string]bool, len(in.Variants))
	for _, v := range in.Variants {
		sku := strings.ToUpper(strings.TrimSpace(v.SKU))
		switch {
		case sku == "":
			return fmt.Errorf("%w: variant sku is required", domain.ErrValidation)
		case skus[sku]:
			return fmt.Errorf("%w: duplicate variant sku %q", domain.ErrValidation, v.SKU)
		case v.Stock < 0:
			return fmt.Errorf("%w: variant %s stock must not be negative", domain.ErrValidation, v.SKU)
		case v.Price != nil && v.Price.IsNegative():
			return fmt.Errorf("%w: variant %s price must not be negative", domain.ErrValidation, v.SKU)
		}
		skus[sku] = true
	}

	for _, img := range in.Images {
		if strings.TrimSpace(img.URL) == "" || strings.TrimSpace(img.PublicID) == "" {
			return fmt.Errorf("%w: image url and public id are required", domain.ErrValidation)
		}
	}
	return nil
}

func inputPublicIDs(in ProductInput) []string {
	ids := make([]string, 0, len(in.Images))
	for _, img := range in.Images {
		if id := strings.TrimSpace(img.PublicID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseID(id string) (uuid.UUID, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return pid, nil
}

// translate maps unique violations (slug or sku races) onto a conflict.
func translate(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, domain.ErrConflict, pqErr.Detail)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
