package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deals/internal/model"
)

// MemoryStore implements Store with in-process maps. It applies the model
// merge functions directly and is used for tests and local development.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextProductID int64
	nextOfferID   int64

	products  map[int64]model.Product
	bySKU     map[string]int64
	offers    map[int64]model.OfferPeriod
	offerKeys map[offerKey]int64
	snapshots map[snapshotKey]model.OfferSnapshot
	aliases   map[string]model.Alias
}

type offerKey struct {
	productID    int64
	starts, ends string
	region       string
}

type snapshotKey struct {
	offerPeriodID int64
	seenAt        int64
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		products:  make(map[int64]model.Product),
		bySKU:     make(map[string]int64),
		offers:    make(map[int64]model.OfferPeriod),
		offerKeys: make(map[offerKey]int64),
		snapshots: make(map[snapshotKey]model.OfferSnapshot),
		aliases:   make(map[string]model.Alias),
	}
}

func (m *MemoryStore) Ping(context.Context) error    { return nil }
func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) GetProductBySKU(_ context.Context, sku string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bySKU[sku]
	if !ok {
		return nil, nil
	}
	p := m.products[id]
	return &p, nil
}

func (m *MemoryStore) GetProductByAltSKU(_ context.Context, altSKU string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.aliases[altSKU]
	if !ok {
		return nil, nil
	}
	p, ok := m.products[a.ProductID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) CreateProduct(_ context.Context, in model.CreateProduct) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySKU[in.SKU]; ok {
		return nil, eris.Wrap(ErrDuplicate, "memory: create product "+in.SKU)
	}
	p := m.putProduct(nil, in)
	return &p, nil
}

func (m *MemoryStore) CreateOfferPeriod(_ context.Context, in model.CreateOfferPeriod) (*model.OfferPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[in.ProductID]; !ok {
		return nil, eris.Errorf("memory: create offer period: product %d not found", in.ProductID)
	}
	if _, ok := m.offerKeys[keyOf(in.ProductID, in.OfferTerms)]; ok {
		return nil, eris.Wrap(ErrDuplicate, "memory: create offer period")
	}
	o := m.putOffer(nil, in.ProductID, in.OfferTerms)
	return &o, nil
}

func (m *MemoryStore) CreateOfferSnapshot(_ context.Context, in model.CreateOfferSnapshot) (*model.OfferSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[in.OfferPeriodID]; !ok {
		return nil, eris.Errorf("memory: create offer snapshot: offer period %d not found", in.OfferPeriodID)
	}
	terms := m.snapshotTerms(in.SnapshotTerms)
	key := snapshotKey{in.OfferPeriodID, terms.SeenAt.UnixMicro()}
	if _, ok := m.snapshots[key]; ok {
		return nil, eris.Wrap(ErrDuplicate, "memory: create offer snapshot")
	}
	s := model.MergeSnapshot(nil, in.OfferPeriodID, terms, m.now().UTC())
	m.snapshots[key] = s
	return &s, nil
}

func (m *MemoryStore) CreateAlias(_ context.Context, in model.CreateAlias) (*model.Alias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[in.ProductID]; !ok {
		return nil, eris.Errorf("memory: create alias: product %d not found", in.ProductID)
	}
	if _, ok := m.aliases[in.AltSKU]; ok {
		return nil, eris.Wrap(ErrDuplicate, "memory: create alias "+in.AltSKU)
	}
	a := model.Alias{ProductID: in.ProductID, AltSKU: in.AltSKU, CreatedAt: m.now().UTC()}
	m.aliases[in.AltSKU] = a
	return &a, nil
}

func (m *MemoryStore) GetCurrentOffers(_ context.Context, region, date string) ([]model.CurrentOffer, error) {
	region, date = currentOfferArgs(region, date, m.now())
	return m.collect(func(o model.OfferPeriod, _ model.Product) bool {
		return o.Region == region && o.Starts <= date && o.Ends >= date
	}, 0), nil
}

func (m *MemoryStore) SearchOffers(_ context.Context, query string) ([]model.CurrentOffer, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, &model.ValidationError{Field: "q", Message: "is required"}
	}
	contains := func(s *string) bool {
		return s != nil && strings.Contains(strings.ToLower(*s), query)
	}
	return m.collect(func(o model.OfferPeriod, p model.Product) bool {
		return contains(&p.Name) || contains(&p.SKU) || contains(p.Brand) || contains(p.Category) || contains(o.Details)
	}, SearchLimit), nil
}

func (m *MemoryStore) ListSnapshots(_ context.Context, offerPeriodID int64) ([]model.OfferSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.OfferSnapshot{}
	for k, s := range m.snapshots {
		if k.offerPeriodID == offerPeriodID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b model.OfferSnapshot) int { return a.SeenAt.Compare(b.SeenAt.Time) })
	return out, nil
}

func (m *MemoryStore) IngestDeals(ctx context.Context, deals []model.Deal) (*model.IngestResult, error) {
	return ingestDeals(ctx, m, "memory", deals, m.now())
}

func (m *MemoryStore) upsertProduct(_ context.Context, in model.CreateProduct) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *model.Product
	if id, ok := m.bySKU[in.SKU]; ok {
		p := m.products[id]
		existing = &p
	}
	return m.putProduct(existing, in).ID, nil
}

func (m *MemoryStore) upsertOfferPeriod(_ context.Context, productID int64, in model.OfferTerms) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[productID]; !ok {
		return 0, eris.Errorf("memory: upsert offer period: product %d not found", productID)
	}
	var existing *model.OfferPeriod
	if id, ok := m.offerKeys[keyOf(productID, in)]; ok {
		o := m.offers[id]
		existing = &o
	}
	return m.putOffer(existing, productID, in).ID, nil
}

func (m *MemoryStore) upsertSnapshot(_ context.Context, offerPeriodID int64, in model.SnapshotTerms) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[offerPeriodID]; !ok {
		return eris.Errorf("memory: upsert snapshot: offer period %d not found", offerPeriodID)
	}
	terms := m.snapshotTerms(in)
	key := snapshotKey{offerPeriodID, terms.SeenAt.UnixMicro()}
	var existing *model.OfferSnapshot
	if s, ok := m.snapshots[key]; ok {
		existing = &s
	}
	m.snapshots[key] = model.MergeSnapshot(existing, offerPeriodID, terms, m.now().UTC())
	return nil
}

// putProduct merges in over existing and stores the result. Callers hold mu.
func (m *MemoryStore) putProduct(existing *model.Product, in model.CreateProduct) model.Product {
	p := model.MergeProduct(existing, in, m.now().UTC())
	if existing == nil {
		m.nextProductID++
		p.ID = m.nextProductID
		m.bySKU[p.SKU] = p.ID
	}
	m.products[p.ID] = p
	return p
}

// putOffer merges in over existing and stores the result. Callers hold mu.
func (m *MemoryStore) putOffer(existing *model.OfferPeriod, productID int64, in model.OfferTerms) model.OfferPeriod {
	o := model.MergeOfferPeriod(existing, productID, in, m.now().UTC())
	if existing == nil {
		m.nextOfferID++
		o.ID = m.nextOfferID
		m.offerKeys[keyOf(productID, in)] = o.ID
	}
	m.offers[o.ID] = o
	return o
}

func (m *MemoryStore) snapshotTerms(in model.SnapshotTerms) model.SnapshotTerms {
	if in.SeenAt.IsZero() {
		in.SeenAt = model.NewTimestamp(m.now())
	} else {
		in.SeenAt = model.NewTimestamp(in.SeenAt.Time)
	}
	return in
}

// collect joins matching offers with their products, ordered by starts DESC
// then id DESC. limit <= 0 means no limit.
func (m *MemoryStore) collect(match func(model.OfferPeriod, model.Product) bool, limit int) []model.CurrentOffer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.CurrentOffer{}
	for _, o := range m.offers {
		p := m.products[o.ProductID]
		if !match(o, p) {
			continue
		}
		out = append(out, model.CurrentOffer{
			OfferPeriod: o,
			SKU:         p.SKU,
			Name:        p.Name,
			Category:    p.Category,
			Brand:       p.Brand,
			ImageURL:    p.ImageURL,
		})
	}
	slices.SortFunc(out, func(a, b model.CurrentOffer) int {
		if c := cmp.Compare(b.Starts, a.Starts); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func keyOf(productID int64, o model.OfferTerms) offerKey {
	return offerKey{productID: productID, starts: o.Starts, ends: o.Ends, region: o.Region}
}
