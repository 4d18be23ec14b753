package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deals/internal/model"
)

// SearchLimit caps the number of rows returned by SearchOffers.
const SearchLimit = 100

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = eris.New("store: duplicate")

// Store defines the persistence interface for products, offers and aliases.
type Store interface {
	// Products
	GetProductBySKU(ctx context.Context, sku string) (*model.Product, error)
	GetProductByAltSKU(ctx context.Context, altSKU string) (*model.Product, error)
	CreateProduct(ctx context.Context, p model.CreateProduct) (*model.Product, error)

	// Offers
	CreateOfferPeriod(ctx context.Context, o model.CreateOfferPeriod) (*model.OfferPeriod, error)
	CreateOfferSnapshot(ctx context.Context, s model.CreateOfferSnapshot) (*model.OfferSnapshot, error)
	GetCurrentOffers(ctx context.Context, region, date string) ([]model.CurrentOffer, error)
	SearchOffers(ctx context.Context, query string) ([]model.CurrentOffer, error)
	ListSnapshots(ctx context.Context, offerPeriodID int64) ([]model.OfferSnapshot, error)

	// Aliases
	CreateAlias(ctx context.Context, a model.CreateAlias) (*model.Alias, error)

	// Ingest
	IngestDeals(ctx context.Context, deals []model.Deal) (*model.IngestResult, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the Store for driver: "sqlite", "postgres" or "memory".
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", driver)
	}
}

// currentOfferArgs applies the region and date defaults.
func currentOfferArgs(region, date string, now time.Time) (string, string) {
	if region == "" {
		region = model.DefaultRegion
	}
	if date == "" {
		date = model.Today(now)
	}
	return region, date
}

// scannable is implemented by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanProduct(row scannable) (*model.Product, error) {
	var p model.Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Brand, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func offerPeriodDest(o *model.OfferPeriod) []any {
	return []any{
		&o.ID, &o.ProductID, &o.Region, &o.Channel, &o.SaleType,
		&o.DiscountLow, &o.DiscountHigh, &o.Currency, &o.LimitQty, &o.Details,
		&o.Starts, &o.Ends, &o.CreatedAt, &o.UpdatedAt,
	}
}

func scanOfferPeriod(row scannable) (*model.OfferPeriod, error) {
	var o model.OfferPeriod
	if err := row.Scan(offerPeriodDest(&o)...); err != nil {
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func scanCurrentOffer(row scannable) (model.CurrentOffer, error) {
	var c model.CurrentOffer
	dest := append(offerPeriodDest(&c.OfferPeriod), &c.SKU, &c.Name, &c.Category, &c.Brand, &c.ImageURL)
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func scanSnapshot(row scannable) (*model.OfferSnapshot, error) {
	var s model.OfferSnapshot
	if err := row.Scan(&s.OfferPeriodID, &s.SeenAt.Time, &s.DiscountLow, &s.DiscountHigh, &s.Details, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.SeenAt = model.NewTimestamp(s.SeenAt.Time)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

func scanAlias(row scannable) (*model.Alias, error) {
	var a model.Alias
	if err := row.Scan(&a.ProductID, &a.AltSKU, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
