package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deals/internal/db"
	"github.com/sells-group/deals/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	q       queries
	now     func() time.Time
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var postgresQueries = newQueries(db.Dollar, "ILIKE")

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool), nil
}

func newPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: postgresQueries, now: time.Now, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS product (
	id         BIGSERIAL PRIMARY KEY,
	sku        TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	category   TEXT,
	brand      TEXT,
	image_url  TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS offer_period (
	id            BIGSERIAL PRIMARY KEY,
	product_id    BIGINT NOT NULL REFERENCES product(id),
	region        TEXT NOT NULL DEFAULT 'US',
	channel       TEXT,
	sale_type     TEXT NOT NULL CHECK (sale_type IN ('dollar', 'percent')),
	discount_low  NUMERIC(12, 2) NOT NULL,
	discount_high NUMERIC(12, 2) NOT NULL,
	currency      TEXT NOT NULL DEFAULT 'USD',
	limit_qty     INTEGER,
	details       TEXT,
	starts        TEXT NOT NULL,
	ends          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, starts, ends, region),
	CHECK (discount_low <= discount_high)
);

CREATE TABLE IF NOT EXISTS offer_snapshot (
	offer_period_id BIGINT NOT NULL REFERENCES offer_period(id),
	seen_at         TIMESTAMPTZ NOT NULL,
	discount_low    NUMERIC(12, 2),
	discount_high   NUMERIC(12, 2),
	details         TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (offer_period_id, seen_at)
);

CREATE TABLE IF NOT EXISTS alias (
	product_id BIGINT NOT NULL REFERENCES product(id),
	alt_sku    TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_offer_period_region_window ON offer_period(region, starts, ends);
CREATE INDEX IF NOT EXISTS idx_offer_period_product ON offer_period(product_id);
CREATE INDEX IF NOT EXISTS idx_alias_product ON alias(product_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetProductBySKU(ctx context.Context, sku string) (*model.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, s.q.getProductBySKU, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get product %s", sku)
	}
	return p, nil
}

func (s *PostgresStore) GetProductByAltSKU(ctx context.Context, altSKU string) (*model.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, s.q.getProductByAltSKU, altSKU))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get product by alias %s", altSKU)
	}
	return p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, in model.CreateProduct) (*model.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, s.q.insertProduct,
		in.SKU, in.Name, in.Category, in.Brand, in.ImageURL,
	))
	if err != nil {
		return nil, postgresWriteErr(err, "postgres: create product "+in.SKU)
	}
	return p, nil
}

func (s *PostgresStore) CreateOfferPeriod(ctx context.Context, in model.CreateOfferPeriod) (*model.OfferPeriod, error) {
	o, err := scanOfferPeriod(s.pool.QueryRow(ctx, s.q.insertOfferPeriod, offerPeriodArgs(in.ProductID, in.OfferTerms)...))
	if err != nil {
		return nil, postgresWriteErr(err, "postgres: create offer period")
	}
	return o, nil
}

func (s *PostgresStore) CreateOfferSnapshot(ctx context.Context, in model.CreateOfferSnapshot) (*model.OfferSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, s.q.insertSnapshot, s.snapshotArgs(in.OfferPeriodID, in.SnapshotTerms)...))
	if err != nil {
		return nil, postgresWriteErr(err, "postgres: create offer snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) CreateAlias(ctx context.Context, in model.CreateAlias) (*model.Alias, error) {
	a, err := scanAlias(s.pool.QueryRow(ctx, s.q.insertAlias, in.ProductID, in.AltSKU))
	if err != nil {
		return nil, postgresWriteErr(err, "postgres: create alias "+in.AltSKU)
	}
	return a, nil
}

func (s *PostgresStore) GetCurrentOffers(ctx context.Context, region, date string) ([]model.CurrentOffer, error) {
	region, date = currentOfferArgs(region, date, s.now())
	rows, err := s.pool.Query(ctx, s.q.currentOffers, region, date, date)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: current offers")
	}
	defer rows.Close()
	return collectOffers(rows, "postgres: current offers")
}

func (s *PostgresStore) SearchOffers(ctx context.Context, query string) ([]model.CurrentOffer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &model.ValidationError{Field: "q", Message: "is required"}
	}
	rows, err := s.pool.Query(ctx, s.q.searchOffers, searchArgs(query)...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search offers")
	}
	defer rows.Close()
	return collectOffers(rows, "postgres: search offers")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, offerPeriodID int64) ([]model.OfferSnapshot, error) {
	rows, err := s.pool.Query(ctx, s.q.listSnapshots, offerPeriodID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	out := []model.OfferSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		out = append(out, *snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) IngestDeals(ctx context.Context, deals []model.Deal) (*model.IngestResult, error) {
	return ingestDeals(ctx, s, "postgres", deals, s.now())
}

func (s *PostgresStore) upsertProduct(ctx context.Context, p model.CreateProduct) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, s.q.upsertProduct, p.SKU, p.Name, p.Category, p.Brand, p.ImageURL).Scan(&id)
	return id, eris.Wrap(err, "postgres: upsert product")
}

func (s *PostgresStore) upsertOfferPeriod(ctx context.Context, productID int64, o model.OfferTerms) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, s.q.upsertOfferPeriod, offerPeriodArgs(productID, o)...).Scan(&id)
	return id, eris.Wrap(err, "postgres: upsert offer period")
}

func (s *PostgresStore) upsertSnapshot(ctx context.Context, offerPeriodID int64, snap model.SnapshotTerms) error {
	_, err := s.pool.Exec(ctx, s.q.upsertSnapshot, s.snapshotArgs(offerPeriodID, snap)...)
	return eris.Wrap(err, "postgres: upsert snapshot")
}

func (s *PostgresStore) snapshotArgs(offerPeriodID int64, snap model.SnapshotTerms) []any {
	seenAt := snap.SeenAt.Time
	if seenAt.IsZero() {
		seenAt = s.now()
	}
	return []any{offerPeriodID, seenAt.UTC(), snap.DiscountLow, snap.DiscountHigh, snap.Details}
}

func postgresWriteErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrap(ErrDuplicate, op)
	}
	return eris.Wrap(err, op)
}
