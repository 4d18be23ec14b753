package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deals/internal/db"
	"github.com/sells-group/deals/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The dialect matches
// Cloudflare D1, the production database.
type SQLiteStore struct {
	db  *sql.DB
	q   queries
	now func() time.Time
}

var sqliteQueries = newQueries(db.Question, "LIKE")

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas in effect and serialises writers.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, q: sqliteQueries, now: time.Now}, nil
}

// SQLiteMigration creates the schema. It is idempotent and is also emitted at
// the top of generated SQL dumps.
const SQLiteMigration = `
CREATE TABLE IF NOT EXISTS product (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	sku        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	category   TEXT,
	brand      TEXT,
	image_url  TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS offer_period (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id    INTEGER NOT NULL REFERENCES product(id),
	region        TEXT NOT NULL DEFAULT 'US',
	channel       TEXT,
	sale_type     TEXT NOT NULL CHECK (sale_type IN ('dollar', 'percent')),
	discount_low  REAL NOT NULL,
	discount_high REAL NOT NULL,
	currency      TEXT NOT NULL DEFAULT 'USD',
	limit_qty     INTEGER,
	details       TEXT,
	starts        TEXT NOT NULL,
	ends          TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (product_id, starts, ends, region),
	CHECK (discount_low <= discount_high)
);

CREATE TABLE IF NOT EXISTS offer_snapshot (
	offer_period_id INTEGER NOT NULL REFERENCES offer_period(id),
	seen_at         DATETIME NOT NULL,
	discount_low    REAL,
	discount_high   REAL,
	details         TEXT,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (offer_period_id, seen_at)
);

CREATE TABLE IF NOT EXISTS alias (
	product_id INTEGER NOT NULL REFERENCES product(id),
	alt_sku    TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_offer_period_region_window ON offer_period(region, starts, ends);
CREATE INDEX IF NOT EXISTS idx_offer_period_product ON offer_period(product_id);
CREATE INDEX IF NOT EXISTS idx_alias_product ON alias(product_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, SQLiteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetProductBySKU(ctx context.Context, sku string) (*model.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, s.q.getProductBySKU, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get product %s", sku)
	}
	return p, nil
}

func (s *SQLiteStore) GetProductByAltSKU(ctx context.Context, altSKU string) (*model.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, s.q.getProductByAltSKU, altSKU))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get product by alias %s", altSKU)
	}
	return p, nil
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, in model.CreateProduct) (*model.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, s.q.insertProduct,
		in.SKU, in.Name, in.Category, in.Brand, in.ImageURL,
	))
	if err != nil {
		return nil, sqliteWriteErr(err, "sqlite: create product "+in.SKU)
	}
	return p, nil
}

func (s *SQLiteStore) CreateOfferPeriod(ctx context.Context, in model.CreateOfferPeriod) (*model.OfferPeriod, error) {
	o, err := scanOfferPeriod(s.db.QueryRowContext(ctx, s.q.insertOfferPeriod, offerPeriodArgs(in.ProductID, in.OfferTerms)...))
	if err != nil {
		return nil, sqliteWriteErr(err, "sqlite: create offer period")
	}
	return o, nil
}

func (s *SQLiteStore) CreateOfferSnapshot(ctx context.Context, in model.CreateOfferSnapshot) (*model.OfferSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, s.q.insertSnapshot, s.snapshotArgs(in.OfferPeriodID, in.SnapshotTerms)...))
	if err != nil {
		return nil, sqliteWriteErr(err, "sqlite: create offer snapshot")
	}
	return snap, nil
}

func (s *SQLiteStore) CreateAlias(ctx context.Context, in model.CreateAlias) (*model.Alias, error) {
	a, err := scanAlias(s.db.QueryRowContext(ctx, s.q.insertAlias, in.ProductID, in.AltSKU))
	if err != nil {
		return nil, sqliteWriteErr(err, "sqlite: create alias "+in.AltSKU)
	}
	return a, nil
}

func (s *SQLiteStore) GetCurrentOffers(ctx context.Context, region, date string) ([]model.CurrentOffer, error) {
	region, date = currentOfferArgs(region, date, s.now())
	rows, err := s.db.QueryContext(ctx, s.q.currentOffers, region, date, date)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: current offers")
	}
	defer rows.Close() //nolint:errcheck
	return collectOffers(rows, "sqlite: current offers")
}

func (s *SQLiteStore) SearchOffers(ctx context.Context, query string) ([]model.CurrentOffer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &model.ValidationError{Field: "q", Message: "is required"}
	}
	rows, err := s.db.QueryContext(ctx, s.q.searchOffers, searchArgs(query)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search offers")
	}
	defer rows.Close() //nolint:errcheck
	return collectOffers(rows, "sqlite: search offers")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, offerPeriodID int64) ([]model.OfferSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, s.q.listSnapshots, offerPeriodID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.OfferSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) IngestDeals(ctx context.Context, deals []model.Deal) (*model.IngestResult, error) {
	return ingestDeals(ctx, s, "sqlite", deals, s.now())
}

func (s *SQLiteStore) upsertProduct(ctx context.Context, p model.CreateProduct) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q.upsertProduct, p.SKU, p.Name, p.Category, p.Brand, p.ImageURL).Scan(&id)
	return id, eris.Wrap(err, "sqlite: upsert product")
}

func (s *SQLiteStore) upsertOfferPeriod(ctx context.Context, productID int64, o model.OfferTerms) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q.upsertOfferPeriod, offerPeriodArgs(productID, o)...).Scan(&id)
	return id, eris.Wrap(err, "sqlite: upsert offer period")
}

func (s *SQLiteStore) upsertSnapshot(ctx context.Context, offerPeriodID int64, snap model.SnapshotTerms) error {
	_, err := s.db.ExecContext(ctx, s.q.upsertSnapshot, s.snapshotArgs(offerPeriodID, snap)...)
	return eris.Wrap(err, "sqlite: upsert snapshot")
}

// snapshotArgs binds seen_at as text in db.TimeLayout so that equal instants
// always collide on the (offer_period_id, seen_at) key.
func (s *SQLiteStore) snapshotArgs(offerPeriodID int64, snap model.SnapshotTerms) []any {
	seenAt := snap.SeenAt.Time
	if seenAt.IsZero() {
		seenAt = s.now()
	}
	return []any{offerPeriodID, db.FormatTime(seenAt), snap.DiscountLow, snap.DiscountHigh, snap.Details}
}

func offerPeriodArgs(productID int64, o model.OfferTerms) []any {
	return []any{
		productID, o.Region, o.Channel, string(o.SaleType), o.DiscountLow, o.DiscountHigh,
		o.Currency, o.LimitQty, o.Details, o.Starts, o.Ends,
	}
}

// offerRows is satisfied by *sql.Rows and pgx.Rows.
type offerRows interface {
	scannable
	Next() bool
	Err() error
}

func collectOffers(rows offerRows, op string) ([]model.CurrentOffer, error) {
	out := []model.CurrentOffer{}
	for rows.Next() {
		c, err := scanCurrentOffer(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+" scan")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), op+" iterate")
}

func sqliteWriteErr(err error, op string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return eris.Wrap(ErrDuplicate, op)
	}
	return eris.Wrap(err, op)
}
