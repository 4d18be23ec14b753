package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deals/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, ok := newTestSQLite(t).(*SQLiteStore)
	require.True(t, ok)
	return st
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_OpenBadPath(t *testing.T) {
	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.Error(t, err)
}

// The ON CONFLICT clauses generated from the upsert configs must produce the
// same rows as the pure merge functions.
func TestSQLite_UpsertMatchesMerge(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	limit := 3
	patches := []struct {
		product model.CreateProduct
		offer   model.OfferTerms
	}{
		{
			product: model.CreateProduct{SKU: "A", Name: "First", Category: model.StringPtr("Pantry"), ImageURL: model.StringPtr("https://img/a.jpg")},
			offer:   withChannel(terms("2024-03-01", "2024-03-31", "2"), "warehouse"),
		},
		{
			product: model.CreateProduct{SKU: "A", Name: "Second", Brand: model.StringPtr("Acme")},
			offer: func() model.OfferTerms {
				o := terms("2024-03-01", "2024-03-31", "4")
				o.SaleType = model.SaleTypePercent
				o.DiscountHigh = decimal.RequireFromString("8")
				o.LimitQty = &limit
				return o
			}(),
		},
		{
			product: model.CreateProduct{SKU: "A", Name: "Third", Category: model.StringPtr("Household")},
			offer:   withChannel(terms("2024-03-01", "2024-03-31", "1"), "online"),
		},
	}

	var wantProduct *model.Product
	var wantOffer *model.OfferPeriod
	for _, patch := range patches {
		productID, err := st.upsertProduct(ctx, patch.product)
		require.NoError(t, err)
		_, err = st.upsertOfferPeriod(ctx, productID, patch.offer)
		require.NoError(t, err)

		p := model.MergeProduct(wantProduct, patch.product, testNow)
		wantProduct = &p
		o := model.MergeOfferPeriod(wantOffer, productID, patch.offer, testNow)
		wantOffer = &o

		got, err := st.GetProductBySKU(ctx, "A")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, productID, got.ID)
		assert.Equal(t, wantProduct.Name, got.Name)
		assert.Equal(t, wantProduct.Category, got.Category)
		assert.Equal(t, wantProduct.Brand, got.Brand)
		assert.Equal(t, wantProduct.ImageURL, got.ImageURL)

		offers, err := st.GetCurrentOffers(ctx, "US", "2024-03-15")
		require.NoError(t, err)
		require.Len(t, offers, 1)
		gotOffer := offers[0].OfferTerms
		assert.Equal(t, wantOffer.SaleType, gotOffer.SaleType)
		assert.True(t, wantOffer.DiscountLow.Equal(gotOffer.DiscountLow))
		assert.True(t, wantOffer.DiscountHigh.Equal(gotOffer.DiscountHigh))
		assert.Equal(t, wantOffer.Channel, gotOffer.Channel)
		assert.Equal(t, wantOffer.LimitQty, gotOffer.LimitQty)
		assert.Equal(t, wantOffer.Details, gotOffer.Details)
	}
}

func TestSQLite_UpsertSnapshotCollidesOnInstant(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := mustProduct(t, st, "A", "Alpha")
	o := mustOffer(t, st, p.ID, terms("2024-03-01", "2024-03-31", "2"))

	seen := model.NewTimestamp(testNow)
	require.NoError(t, st.upsertSnapshot(ctx, o.ID, model.SnapshotTerms{SeenAt: seen, Details: model.StringPtr("one")}))
	// Same instant expressed in another zone.
	other := model.Timestamp{Time: testNow.In(time.FixedZone("PDT", -7*3600))}
	require.NoError(t, st.upsertSnapshot(ctx, o.ID, model.SnapshotTerms{SeenAt: other, Details: model.StringPtr("two")}))

	snaps, err := st.ListSnapshots(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "two", model.Deref(snaps[0].Details))
	assert.True(t, snaps[0].SeenAt.Equal(testNow))
}

func TestSQLite_OfferForeignKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.CreateOfferPeriod(context.Background(), model.CreateOfferPeriod{
		ProductID:  4242,
		OfferTerms: terms("2024-03-01", "2024-03-31", "2"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: create offer period")
}

func withChannel(o model.OfferTerms, channel string) model.OfferTerms {
	o.Channel = model.StringPtr(channel)
	return o
}
