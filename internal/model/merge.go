package model

import "time"

// The merge functions apply ingest's conflict rules to an existing row and an
// incoming record. A nil existing row yields a fresh row stamped with now.
// The SQL stores express the same rules as ON CONFLICT clauses.

// MergeProduct overwrites the name and keeps existing category, brand and
// image URL unless the incoming record supplies them.
func MergeProduct(existing *Product, in CreateProduct, now time.Time) Product {
	if existing == nil {
		return Product{
			SKU:       in.SKU,
			Name:      in.Name,
			Category:  in.Category,
			Brand:     in.Brand,
			ImageURL:  in.ImageURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	out := *existing
	out.Name = in.Name
	out.Category = coalesce(in.Category, existing.Category)
	out.Brand = coalesce(in.Brand, existing.Brand)
	out.ImageURL = coalesce(in.ImageURL, existing.ImageURL)
	out.UpdatedAt = now
	return out
}

// MergeOfferPeriod overwrites the sale terms and keeps the existing channel
// unless the incoming record supplies one. Region and window are the
// conflict key and never change.
func MergeOfferPeriod(existing *OfferPeriod, productID int64, in OfferTerms, now time.Time) OfferPeriod {
	if existing == nil {
		return OfferPeriod{
			ProductID:  productID,
			OfferTerms: in,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	out := *existing
	out.SaleType = in.SaleType
	out.DiscountLow = in.DiscountLow
	out.DiscountHigh = in.DiscountHigh
	out.Currency = in.Currency
	out.LimitQty = in.LimitQty
	out.Details = in.Details
	out.Channel = coalesce(in.Channel, existing.Channel)
	out.UpdatedAt = now
	return out
}

// MergeSnapshot overwrites the observed discounts and details.
func MergeSnapshot(existing *OfferSnapshot, offerPeriodID int64, in SnapshotTerms, now time.Time) OfferSnapshot {
	if existing == nil {
		return OfferSnapshot{
			OfferPeriodID: offerPeriodID,
			SnapshotTerms: in,
			CreatedAt:     now,
		}
	}
	out := *existing
	out.DiscountLow = in.DiscountLow
	out.DiscountHigh = in.DiscountHigh
	out.Details = in.Details
	return out
}

func coalesce[T any](incoming, existing *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}
