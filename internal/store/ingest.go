package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deals/internal/model"
)

// IngestBatchSize is the number of deals written concurrently. Batches run
// one after another.
const IngestBatchSize = 10

// dealWriter performs the three upserts of a single deal.
type dealWriter interface {
	upsertProduct(ctx context.Context, p model.CreateProduct) (int64, error)
	upsertOfferPeriod(ctx context.Context, productID int64, o model.OfferTerms) (int64, error)
	upsertSnapshot(ctx context.Context, offerPeriodID int64, s model.SnapshotTerms) error
}

// ingestDeals normalizes deals and writes them through w. Nothing wraps a
// deal or batch in a transaction, so writes before a failure stay applied.
func ingestDeals(ctx context.Context, w dealWriter, component string, deals []model.Deal, now time.Time) (*model.IngestResult, error) {
	normalized, err := model.NormalizeDeals(deals)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	log := zap.L().With(zap.String("component", component), zap.String("ingest_id", runID))
	log.Info("ingest started", zap.Int("deals", len(normalized)))

	for start := 0; start < len(normalized); start += IngestBatchSize {
		end := min(start+IngestBatchSize, len(normalized))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(IngestBatchSize)
		for _, d := range normalized[start:end] {
			g.Go(func() error {
				return ingestDeal(gctx, w, component, d)
			})
		}
		if err := g.Wait(); err != nil {
			log.Error("ingest failed", zap.Int("batch_start", start), zap.Error(err))
			return nil, err
		}
		log.Debug("ingest batch complete", zap.Int("batch_start", start), zap.Int("batch_size", end-start))
	}

	log.Info("ingest complete", zap.Int("deals", len(normalized)))
	return model.NewIngestResult(len(normalized), now), nil
}

func ingestDeal(ctx context.Context, w dealWriter, component string, d model.Deal) error {
	sku := d.Product.SKU

	productID, err := w.upsertProduct(ctx, d.Product)
	if err != nil {
		return eris.Wrapf(err, "%s: ingest product %s", component, sku)
	}
	offerID, err := w.upsertOfferPeriod(ctx, productID, d.OfferPeriod)
	if err != nil {
		return eris.Wrapf(err, "%s: ingest offer period for %s", component, sku)
	}
	if err := w.upsertSnapshot(ctx, offerID, d.Snapshot); err != nil {
		return eris.Wrapf(err, "%s: ingest snapshot for %s", component, sku)
	}
	return nil
}
