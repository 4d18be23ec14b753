package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 25, 12, 30, 0, 0, time.UTC)

func validDeal() Deal {
	return Deal{
		Product: CreateProduct{SKU: "ABC123", Name: "Paper Towels"},
		OfferPeriod: OfferTerms{
			Region:       "US",
			SaleType:     SaleTypeDollar,
			DiscountLow:  decimal.RequireFromString("5"),
			DiscountHigh: decimal.RequireFromString("5"),
			Currency:     "USD",
			Starts:       "2024-01-01",
			Ends:         "2024-01-31",
		},
		Snapshot: SnapshotTerms{
			SeenAt:       NewTimestamp(testNow),
			DiscountLow:  decimal.NewNullDecimal(decimal.RequireFromString("5")),
			DiscountHigh: decimal.NewNullDecimal(decimal.RequireFromString("5")),
		},
	}
}

func TestNormalize_Valid(t *testing.T) {
	d, err := validDeal().Normalize("")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", d.Product.SKU)
	assert.Equal(t, "US", d.OfferPeriod.Region)
}

func TestNormalize_Defaults(t *testing.T) {
	in := validDeal()
	in.Product.SKU = "  ABC123 "
	in.Product.Category = StringPtr("   ")
	in.OfferPeriod.Region = ""
	in.OfferPeriod.Currency = ""
	in.OfferPeriod.Details = StringPtr("Limit 2 per member")

	d, err := in.Normalize("")
	require.NoError(t, err)

	assert.Equal(t, "ABC123", d.Product.SKU)
	assert.Nil(t, d.Product.Category)
	assert.Equal(t, DefaultRegion, d.OfferPeriod.Region)
	assert.Equal(t, DefaultCurrency, d.OfferPeriod.Currency)
	require.NotNil(t, d.OfferPeriod.LimitQty)
	assert.Equal(t, 2, *d.OfferPeriod.LimitQty)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Deal)
		field  string
	}{
		{"missing sku", func(d *Deal) { d.Product.SKU = "" }, "deals[0].product.sku"},
		{"missing name", func(d *Deal) { d.Product.Name = " " }, "deals[0].product.name"},
		{"bad sale type", func(d *Deal) { d.OfferPeriod.SaleType = "bogo" }, "deals[0].offer_period.sale_type"},
		{"zero discount", func(d *Deal) { d.OfferPeriod.DiscountLow = decimal.Zero }, "deals[0].offer_period.discount_low"},
		{"inverted range", func(d *Deal) { d.OfferPeriod.DiscountHigh = decimal.RequireFromString("1") }, "deals[0].offer_period.discount_high"},
		{"negative limit", func(d *Deal) { n := -1; d.OfferPeriod.LimitQty = &n }, "deals[0].offer_period.limit_qty"},
		{"bad starts", func(d *Deal) { d.OfferPeriod.Starts = "03/01/2024" }, "deals[0].offer_period.starts"},
		{"bad ends", func(d *Deal) { d.OfferPeriod.Ends = "" }, "deals[0].offer_period.ends"},
		{"window inverted", func(d *Deal) { d.OfferPeriod.Ends = "2023-12-31" }, "deals[0].offer_period.ends"},
		{"missing seen_at", func(d *Deal) { d.Snapshot.SeenAt = Timestamp{} }, "deals[0].snapshot.seen_at"},
		{"snapshot inverted", func(d *Deal) {
			d.Snapshot.DiscountHigh = decimal.NewNullDecimal(decimal.RequireFromString("1"))
		}, "deals[0].snapshot.discount_high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDeal()
			tt.mutate(&d)
			_, err := d.Normalize("deals[0]")
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestNormalizeDeals_NamesIndex(t *testing.T) {
	bad := validDeal()
	bad.Product.SKU = ""

	_, err := NormalizeDeals([]Deal{validDeal(), bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deals[1].product.sku")
}

func TestLimitFromDetails(t *testing.T) {
	tests := []struct {
		details string
		want    *int
	}{
		{"Limit 2", intPtr(2)},
		{"$5 OFF. Limit 10 per member.", intPtr(10)},
		{"While supplies last", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.details, func(t *testing.T) {
			assert.Equal(t, tt.want, LimitFromDetails(tt.details))
		})
	}
}

func TestNewIngestResult(t *testing.T) {
	r := NewIngestResult(3, testNow)
	assert.Equal(t, "success", r.Status)
	assert.Equal(t, "Successfully ingested 3 deals", r.Message)
	assert.Equal(t, 3, r.Details.Count)
	assert.Equal(t, "2024-03-25T12:30:00Z", r.Details.Timestamp)
}

func TestDeal_DecodeIngestPayload(t *testing.T) {
	payload := `{
		"product": {"sku": "ABC123", "name": "Paper Towels", "brand": null},
		"offer_period": {"region": "US", "sale_type": "percent", "discount_low": 10, "discount_high": "15.5",
			"currency": "USD", "starts": "2024-01-01", "ends": "2024-01-31"},
		"snapshot": {"seen_at": "2024-01-02 08:00:00", "discount_low": 10, "discount_high": 15.5}
	}`

	var d Deal
	require.NoError(t, json.Unmarshal([]byte(payload), &d))

	assert.Equal(t, SaleTypePercent, d.OfferPeriod.SaleType)
	assert.True(t, d.OfferPeriod.DiscountHigh.Equal(decimal.RequireFromString("15.5")))
	assert.Nil(t, d.Product.Brand)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), d.Snapshot.SeenAt.Time)
	assert.True(t, d.Snapshot.DiscountLow.Valid)
}

func intPtr(n int) *int { return &n }
