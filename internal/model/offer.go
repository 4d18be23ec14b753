package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for offer windows.
const DateLayout = "2006-01-02"

// DefaultRegion is assumed when a request or record names no region.
const DefaultRegion = "US"

// DefaultCurrency is assumed when a record names no currency.
const DefaultCurrency = "USD"

// SaleType describes how an offer's discount is expressed.
type SaleType string

const (
	SaleTypeDollar  SaleType = "dollar"
	SaleTypePercent SaleType = "percent"
)

// Valid reports whether t is a known sale type.
func (t SaleType) Valid() bool {
	return t == SaleTypeDollar || t == SaleTypePercent
}

// OfferTerms are the sale terms of an offer period as supplied by ingest.
type OfferTerms struct {
	Region       string          `json:"region"`
	Channel      *string         `json:"channel"`
	SaleType     SaleType        `json:"sale_type"`
	DiscountLow  decimal.Decimal `json:"discount_low"`
	DiscountHigh decimal.Decimal `json:"discount_high"`
	Currency     string          `json:"currency"`
	LimitQty     *int            `json:"limit_qty"`
	Details      *string         `json:"details"`
	Starts       string          `json:"starts"`
	Ends         string          `json:"ends"`
}

// OfferPeriod is a time-bounded discount for one product in one region.
type OfferPeriod struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
	OfferTerms
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateOfferPeriod holds the caller-supplied offer period fields.
type CreateOfferPeriod struct {
	ProductID int64 `json:"product_id"`
	OfferTerms
}

// CurrentOffer is an offer period joined with its product's identity fields.
type CurrentOffer struct {
	OfferPeriod
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Category *string `json:"category"`
	Brand    *string `json:"brand"`
	ImageURL *string `json:"image_url"`
}

// SnapshotTerms are the terms observed for an offer period at one moment.
type SnapshotTerms struct {
	SeenAt       Timestamp           `json:"seen_at"`
	DiscountLow  decimal.NullDecimal `json:"discount_low"`
	DiscountHigh decimal.NullDecimal `json:"discount_high"`
	Details      *string             `json:"details"`
}

// OfferSnapshot is one observation in an offer period's history.
type OfferSnapshot struct {
	OfferPeriodID int64 `json:"offer_period_id"`
	SnapshotTerms
	CreatedAt time.Time `json:"created_at"`
}

// CreateOfferSnapshot holds the caller-supplied snapshot fields.
type CreateOfferSnapshot struct {
	OfferPeriodID int64 `json:"offer_period_id"`
	SnapshotTerms
}

// timestampLayouts are accepted when decoding a Timestamp, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DateLayout,
}

// Timestamp is a UTC instant that decodes from RFC 3339, a naive
// "YYYY-MM-DD HH:MM:SS" string, or a bare date.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to microseconds and converts it to UTC, the
// precision both SQL backends keep.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

// ParseTimestamp parses s with the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t), nil
		}
	}
	return Timestamp{}, eris.Errorf("model: unrecognised timestamp %q", s)
}

// MarshalJSON encodes the timestamp as RFC 3339 in UTC.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON decodes any of the accepted layouts; null leaves it zero.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "model: decode timestamp")
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Today returns the UTC calendar date of now in DateLayout.
func Today(now time.Time) string {
	return now.UTC().Format(DateLayout)
}

// ValidDate reports whether s is a calendar date in DateLayout.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
