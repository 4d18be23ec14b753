package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawDeal is one crawler record as written to the deals NDJSON files.
type RawDeal struct {
	SKU          string              `json:"sku"`
	Name         string              `json:"name"`
	Discount     decimal.NullDecimal `json:"discount"`
	DiscountType string              `json:"discount_type"`
	ValidPeriod  *ValidPeriod        `json:"valid_period"`
	Details      string              `json:"details"`
	Category     *string             `json:"category"`
	Brand        *string             `json:"brand"`
	ImageURL     *string             `json:"image_url"`
	Region       string              `json:"region"`
	Channel      *string             `json:"channel"`
	Currency     string              `json:"currency"`
	SeenAt       Timestamp           `json:"seen_at"`
}

// ValidPeriod is the crawler's offer window.
type ValidPeriod struct {
	Starts string `json:"starts"`
	Ends   string `json:"ends"`
}

// Validate applies the crawler's acceptance rules. The message of the
// returned error is recorded on rejected records.
func (r RawDeal) Validate() error {
	switch {
	case r.SKU == "":
		return &ValidationError{Field: "sku", Message: "Missing SKU"}
	case r.Name == "":
		return &ValidationError{Field: "name", Message: "Missing product name"}
	case !r.Discount.Valid:
		return &ValidationError{Field: "discount", Message: "Missing discount"}
	case r.DiscountType == "":
		return &ValidationError{Field: "discount_type", Message: "Missing discount type"}
	case r.ValidPeriod == nil:
		return &ValidationError{Field: "valid_period", Message: "Missing valid period"}
	case r.ValidPeriod.Starts == "" || r.ValidPeriod.Ends == "":
		return &ValidationError{Field: "valid_period", Message: "Invalid valid period dates"}
	case !SaleType(r.DiscountType).Valid():
		return &ValidationError{Field: "discount_type", Message: "Invalid discount type: " + r.DiscountType}
	case !r.Discount.Decimal.IsPositive():
		return &ValidationError{Field: "discount", Message: "Invalid discount value: " + r.Discount.Decimal.String()}
	}
	return nil
}

// ToDeal converts a validated crawler record into an ingest Deal. The
// crawler reports a single discount, so low and high are equal.
func (r RawDeal) ToDeal(seenAt time.Time) Deal {
	ts := r.SeenAt
	if ts.IsZero() {
		ts = NewTimestamp(seenAt)
	}
	return Deal{
		Product: CreateProduct{
			SKU:      r.SKU,
			Name:     r.Name,
			Category: r.Category,
			Brand:    r.Brand,
			ImageURL: r.ImageURL,
		},
		OfferPeriod: OfferTerms{
			Region:       r.Region,
			Channel:      r.Channel,
			SaleType:     SaleType(r.DiscountType),
			DiscountLow:  r.Discount.Decimal,
			DiscountHigh: r.Discount.Decimal,
			Currency:     r.Currency,
			LimitQty:     LimitFromDetails(r.Details),
			Details:      StringPtr(r.Details),
			Starts:       r.ValidPeriod.Starts,
			Ends:         r.ValidPeriod.Ends,
		},
		Snapshot: SnapshotTerms{
			SeenAt:       ts,
			DiscountLow:  decimal.NewNullDecimal(r.Discount.Decimal),
			DiscountHigh: decimal.NewNullDecimal(r.Discount.Decimal),
			Details:      StringPtr(r.Details),
		},
	}
}
