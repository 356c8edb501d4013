package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/joao-fontenele/threadline/internal/domain"
)

var productColumns = []string{
	"slug", "name", "description", "category", "base_price",
	"is_active", "is_draft", "is_customizable", "updated_at",
}

var variantColumns = []string{"sku", "size", "color", "price", "stock", "updated_at"}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func preloadChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, sku ASC") })
}

func (r *Repository) List(ctx context.Context, f Filter) ([]domain.Product, int64, error) {
	filtered := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.Product{})
		if !f.IncludeInactive {
			q = q.Where("is_active = ? AND is_draft = ?", true, false)
		}
		if f.Category != "" {
			q = q.Where("category = ?", f.Category)
		}
		if f.Query != "" {
			q = q.Where("name ILIKE ?", "%"+f.Query+"%")
		}
		return q
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var products []domain.Product
	err := preloadChildren(filtered()).
		Order("created_at DESC").
		Limit(f.PageSize).
		Offset((f.Page - 1) * f.PageSize).
		Find(&products).Error
	if err != nil {
		return nil, 0, err
	}

	return products, total, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return r.first(preloadChildren(r.db.WithContext(ctx)).Where("id = ?", id))
}

func (r *Repository) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	return r.first(preloadChildren(r.db.WithContext(ctx)).Where("slug = ?", slug))
}

func (r *Repository) first(q *gorm.DB) (*domain.Product, error) {
	var p domain.Product
	if err := q.First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("is_active = ? AND is_draft = ? AND category <> ''", true, false).
		Distinct("category").
		Order("category").
		Pluck("category", &categories).Error
	return categories, err
}

// SlugTaken reports whether another product already uses slug.
func (r *Repository) SlugTaken(ctx context.Context, slug string, except uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("slug = ? AND id <> ?", slug, except).
		Count(&count).Error
	return count > 0, err
}

// Create inserts the product with its images and variants in one transaction.
func (r *Repository) Create(ctx context.Context, p *domain.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
}

// Update replaces the product's fields, images and variants in one transaction and
// returns the images that are no longer attached. Variants keep their ids so carts and
// past orders still resolve.
func (r *Repository) Update(ctx context.Context, p *domain.Product) ([]domain.Image, error) {
	var removed []domain.Image

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []domain.Image
		if err := tx.Where("product_id = ?", p.ID).Find(&old).Error; err != nil {
			return err
		}

		res := tx.Model(p).Select(productColumns).Updates(p)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: product %s", domain.ErrNotFound, p.ID)
		}

		if err := tx.Where("product_id = ?", p.ID).Delete(&domain.Image{}).Error; err != nil {
			return err
		}
		if len(p.Images) > 0 {
			if err := tx.Create(&p.Images).Error; err != nil {
				return err
			}
		}

		keep := make([]uuid.UUID, 0, len(p.Variants))
		for i := range p.Variants {
			v := &p.Variants[i]
			if v.ID == uuid.Nil {
				v.ID = uuid.New()
				if err := tx.Create(v).Error; err != nil {
					return err
				}
			} else {
				res := tx.Model(v).Where("product_id = ?", p.ID).Select(variantColumns).Updates(v)
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("%w: variant %s does not belong to this product", domain.ErrValidation, v.ID)
				}
			}
			keep = append(keep, v.ID)
		}

		drop := tx.Where("product_id = ?", p.ID)
		if len(keep) > 0 {
			drop = drop.Where("id NOT IN ?", keep)
		}
		if err := drop.Delete(&domain.Variant{}).Error; err != nil {
			return err
		}

		kept := make(map[string]bool, len(p.Images))
		for _, img := range p.Images {
			kept[img.PublicID] = true
		}
		for _, img := range old {
			if !kept[img.PublicID] {
				removed = append(removed, img)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return removed, nil
}

// IsReferenced reports whether any order item points at the product.
func (r *Repository) IsReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM order_items WHERE product_id = ?)", id).
		Scan(&referenced).Error
	return referenced, err
}

// Archive hides the product from the storefront and leaves everything else intact.
func (r *Repository) Archive(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "is_draft": true, "updated_at": time.Now().UTC()}).
		Error
}

// HardDelete removes the product, its images and variants in one transaction and
// returns the images that were attached.
func (r *Repository) HardDelete(ctx context.Context, id uuid.UUID) ([]domain.Image, error) {
	var images []domain.Image

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", id).Find(&images).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", id).Delete(&domain.Image{}).Error; err != nil {
			return err
		}
		if err := tx.Where("product_id = ?", id).Delete(&domain.Variant{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Product{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return images, nil
}
