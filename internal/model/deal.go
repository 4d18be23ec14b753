package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Deal bundles one product, one offer period and one snapshot for ingest.
type Deal struct {
	Product     CreateProduct `json:"product"`
	OfferPeriod OfferTerms    `json:"offer_period"`
	Snapshot    SnapshotTerms `json:"snapshot"`
}

// IngestResult summarises a bulk ingest.
type IngestResult struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Details IngestDetails `json:"details"`
}

// IngestDetails carries the counters of an IngestResult.
type IngestDetails struct {
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

// NewIngestResult builds the success summary for count ingested deals.
func NewIngestResult(count int, now time.Time) *IngestResult {
	return &IngestResult{
		Status:  "success",
		Message: fmt.Sprintf("Successfully ingested %d deals", count),
		Details: IngestDetails{
			Count:     count,
			Timestamp: now.UTC().Format(time.RFC3339Nano),
		},
	}
}

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var limitPattern = regexp.MustCompile(`Limit\s+(\d+)`)

// LimitFromDetails extracts a per-member purchase limit ("Limit 2") from
// free-text offer details.
func LimitFromDetails(details string) *int {
	m := limitPattern.FindStringSubmatch(details)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// Normalize trims the deal, fills region/currency defaults, turns empty
// optional strings into nulls and validates the result. seen_at is part of
// the snapshot key and must be present. prefix names the record in error messages (e.g. "deals[3]").
func (d Deal) Normalize(prefix string) (Deal, error) {
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	p := &d.Product
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	p.Category = normalizeOptional(p.Category)
	p.Brand = normalizeOptional(p.Brand)
	p.ImageURL = normalizeOptional(p.ImageURL)
	if p.SKU == "" {
		return d, invalid(field("product.sku"), "is required")
	}
	if p.Name == "" {
		return d, invalid(field("product.name"), "is required")
	}

	o := &d.OfferPeriod
	o.Region = strings.TrimSpace(o.Region)
	if o.Region == "" {
		o.Region = DefaultRegion
	}
	o.Currency = strings.TrimSpace(o.Currency)
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}
	o.Channel = normalizeOptional(o.Channel)
	o.Details = normalizeOptional(o.Details)
	if !o.SaleType.Valid() {
		return d, invalid(field("offer_period.sale_type"), "must be %q or %q, got %q", SaleTypeDollar, SaleTypePercent, o.SaleType)
	}
	if !o.DiscountLow.IsPositive() {
		return d, invalid(field("offer_period.discount_low"), "must be positive")
	}
	if o.DiscountHigh.LessThan(o.DiscountLow) {
		return d, invalid(field("offer_period.discount_high"), "must not be less than discount_low")
	}
	if o.LimitQty == nil && o.Details != nil {
		o.LimitQty = LimitFromDetails(*o.Details)
	}
	if o.LimitQty != nil && *o.LimitQty < 0 {
		return d, invalid(field("offer_period.limit_qty"), "must not be negative")
	}
	if !ValidDate(o.Starts) {
		return d, invalid(field("offer_period.starts"), "must be a date in YYYY-MM-DD form")
	}
	if !ValidDate(o.Ends) {
		return d, invalid(field("offer_period.ends"), "must be a date in YYYY-MM-DD form")
	}
	if o.Ends < o.Starts {
		return d, invalid(field("offer_period.ends"), "must not be before starts")
	}

	s := &d.Snapshot
	if s.SeenAt.IsZero() {
		return d, invalid(field("snapshot.seen_at"), "is required")
	}
	s.Details = normalizeOptional(s.Details)
	if s.DiscountLow.Valid && s.DiscountHigh.Valid && s.DiscountHigh.Decimal.LessThan(s.DiscountLow.Decimal) {
		return d, invalid(field("snapshot.discount_high"), "must not be less than discount_low")
	}

	return d, nil
}

// NormalizeDeals normalizes every deal, naming the first invalid one as
// deals[i] in the returned error.
func NormalizeDeals(deals []Deal) ([]Deal, error) {
	out := make([]Deal, len(deals))
	for i, d := range deals {
		n, err := d.Normalize(fmt.Sprintf("deals[%d]", i))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func normalizeOptional(p *string) *string {
	if p == nil {
		return nil
	}
	return StringPtr(strings.TrimSpace(*p))
}
