package model

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Discount amounts go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product is a catalog item identified by its retailer SKU.
type Product struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Category  *string   `json:"category"`
	Brand     *string   `json:"brand"`
	ImageURL  *string   `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateProduct holds the caller-supplied product fields.
type CreateProduct struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Category *string `json:"category,omitempty"`
	Brand    *string `json:"brand,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

// Alias maps an alternate SKU to a canonical product.
type Alias struct {
	ProductID int64     `json:"product_id"`
	AltSKU    string    `json:"alt_sku"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateAlias holds the caller-supplied alias fields.
type CreateAlias struct {
	ProductID int64  `json:"product_id"`
	AltSKU    string `json:"alt_sku"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value behind p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
