package store

import (
	"fmt"
	"strings"

	"github.com/sells-group/deals/internal/db"
)

// Upsert rules shared by the SQL stores and the SQL dump generator. They
// mirror model.MergeProduct, model.MergeOfferPeriod and model.MergeSnapshot.
var (
	ProductUpsert = db.UpsertConfig{
		Table:        "product",
		Columns:      []string{"sku", "name", "category", "brand", "image_url"},
		ConflictKeys: []string{"sku"},
		Overwrite:    []string{"name"},
		Coalesce:     []string{"category", "brand", "image_url"},
		Touch:        []string{"updated_at"},
		Returning:    []string{"id"},
	}

	OfferPeriodUpsert = db.UpsertConfig{
		Table: "offer_period",
		Columns: []string{
			"product_id", "region", "channel", "sale_type", "discount_low", "discount_high",
			"currency", "limit_qty", "details", "starts", "ends",
		},
		ConflictKeys: []string{"product_id", "starts", "ends", "region"},
		Overwrite:    []string{"sale_type", "discount_low", "discount_high", "currency", "limit_qty", "details"},
		Coalesce:     []string{"channel"},
		Touch:        []string{"updated_at"},
		Returning:    []string{"id"},
	}

	SnapshotUpsert = db.UpsertConfig{
		Table:        "offer_snapshot",
		Columns:      []string{"offer_period_id", "seen_at", "discount_low", "discount_high", "details"},
		ConflictKeys: []string{"offer_period_id", "seen_at"},
		Overwrite:    []string{"discount_low", "discount_high", "details"},
	}
)

const (
	productColumns     = `id, sku, name, category, brand, image_url, created_at, updated_at`
	offerPeriodColumns = `id, product_id, region, channel, sale_type, discount_low, discount_high, currency, limit_qty, details, starts, ends, created_at, updated_at`
	snapshotColumns    = `offer_period_id, seen_at, discount_low, discount_high, details, created_at`
	aliasColumns       = `product_id, alt_sku, created_at`

	currentOfferSelect = `SELECT o.id, o.product_id, o.region, o.channel, o.sale_type, o.discount_low, o.discount_high,
	o.currency, o.limit_qty, o.details, o.starts, o.ends, o.created_at, o.updated_at,
	p.sku, p.name, p.category, p.brand, p.image_url
FROM offer_period o
JOIN product p ON p.id = o.product_id`
)

// queries holds the dialect-specific statement text for one SQL store.
type queries struct {
	getProductBySKU    string
	getProductByAltSKU string
	insertProduct      string
	insertOfferPeriod  string
	insertSnapshot     string
	insertAlias        string
	currentOffers      string
	searchOffers       string
	listSnapshots      string
	upsertProduct      string
	upsertOfferPeriod  string
	upsertSnapshot     string
}

// newQueries renders the statements with ph placeholders. like is the
// case-insensitive match operator of the dialect.
func newQueries(ph db.Placeholder, like string) queries {
	return queries{
		getProductBySKU: fmt.Sprintf(`SELECT %s FROM product WHERE sku = %s`, productColumns, ph(1)),
		getProductByAltSKU: fmt.Sprintf(`SELECT p.id, p.sku, p.name, p.category, p.brand, p.image_url, p.created_at, p.updated_at
FROM product p JOIN alias a ON a.product_id = p.id WHERE a.alt_sku = %s`, ph(1)),
		insertProduct: fmt.Sprintf(`INSERT INTO product (sku, name, category, brand, image_url) VALUES (%s) RETURNING %s`,
			placeholders(ph, 5), productColumns),
		insertOfferPeriod: fmt.Sprintf(`INSERT INTO offer_period (product_id, region, channel, sale_type, discount_low, discount_high, currency, limit_qty, details, starts, ends) VALUES (%s) RETURNING %s`,
			placeholders(ph, 11), offerPeriodColumns),
		insertSnapshot: fmt.Sprintf(`INSERT INTO offer_snapshot (offer_period_id, seen_at, discount_low, discount_high, details) VALUES (%s) RETURNING %s`,
			placeholders(ph, 5), snapshotColumns),
		insertAlias: fmt.Sprintf(`INSERT INTO alias (product_id, alt_sku) VALUES (%s) RETURNING %s`,
			placeholders(ph, 2), aliasColumns),
		currentOffers: fmt.Sprintf(`%s
WHERE o.region = %s AND o.starts <= %s AND o.ends >= %s
ORDER BY o.starts DESC, o.id DESC`, currentOfferSelect, ph(1), ph(2), ph(3)),
		searchOffers: fmt.Sprintf(`%s
WHERE p.name %[2]s %[3]s ESCAPE '\' OR p.sku %[2]s %[4]s ESCAPE '\' OR p.brand %[2]s %[5]s ESCAPE '\'
	OR p.category %[2]s %[6]s ESCAPE '\' OR o.details %[2]s %[7]s ESCAPE '\'
ORDER BY o.starts DESC, o.id DESC
LIMIT %[8]d`, currentOfferSelect, like, ph(1), ph(2), ph(3), ph(4), ph(5), SearchLimit),
		listSnapshots: fmt.Sprintf(`SELECT %s FROM offer_snapshot WHERE offer_period_id = %s ORDER BY seen_at ASC`,
			snapshotColumns, ph(1)),
		upsertProduct:     ProductUpsert.MustSQL(ph),
		upsertOfferPeriod: OfferPeriodUpsert.MustSQL(ph),
		upsertSnapshot:    SnapshotUpsert.MustSQL(ph),
	}
}

func placeholders(ph db.Placeholder, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = ph(i + 1)
	}
	return strings.Join(out, ", ")
}

// likePattern turns a search term into a substring pattern with LIKE
// wildcards escaped.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// searchArgs repeats the pattern for each matched column.
func searchArgs(q string) []any {
	p := likePattern(q)
	return []any{p, p, p, p, p}
}
