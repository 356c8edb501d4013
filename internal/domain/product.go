package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Slug           string          `gorm:"uniqueIndex;size:160" json:"slug"`
	Name           string          `gorm:"size:180" json:"name"`
	Description    string          `gorm:"type:text" json:"description"`
	Category       string          `gorm:"size:100;index" json:"category"`
	BasePrice      decimal.Decimal `gorm:"type:numeric(12,2)" json:"base_price"`
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	IsDraft        bool            `gorm:"not null;default:false" json:"is_draft"`
	IsCustomizable bool            `gorm:"not null;default:false" json:"is_customizable"`
	Images         []Image         `gorm:"constraint:OnDelete:CASCADE" json:"images"`
	Variants       []Variant       `gorm:"constraint:OnDelete:CASCADE" json:"variants"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

type Variant struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID uuid.UUID       `gorm:"type:uuid;index" json:"product_id"`
	SKU       string          `gorm:"size:100;uniqueIndex" json:"sku"`
	Size      string          `gorm:"size:40" json:"size"`
	Color     string          `gorm:"size:60" json:"color"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	Stock     int             `gorm:"not null;default:0" json:"stock"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Variant) TableName() string { return "product_variants" }

// Image is hosted externally; PublicID is the host's handle used to delete it.
type Image struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID uuid.UUID `gorm:"type:uuid;index" json:"product_id"`
	URL       string    `gorm:"size:500" json:"url"`
	PublicID  string    `gorm:"size:255" json:"public_id"`
	Alt       string    `gorm:"size:180" json:"alt"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

func (Image) TableName() string { return "product_images" }

// VariantStock is the checkout view of a purchasable variant.
type VariantStock struct {
	VariantID      string          `json:"variant_id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Size           string          `json:"size"`
	Color          string          `json:"color"`
	Price          decimal.Decimal `json:"price"`
	Stock          int             `json:"stock"`
	Purchasable    bool            `json:"purchasable"`
	IsCustomizable bool            `json:"is_customizable"`
}
