package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrMovementNotFound indicates a line referencing a missing header.
var ErrMovementNotFound = errors.New("inventory: movement not found")

// ErrLocationNotFound indicates a reference to a missing location.
var ErrLocationNotFound = errors.New("inventory: location not found")

// Dataset is a portable copy of a ledger, used to seed a MemoryStore.
type Dataset struct {
	Products  []Product      `json:"products"`
	Locations []Location     `json:"locations"`
	Batches   []Batch        `json:"batches"`
	Movements []Movement     `json:"movements"`
	Lines     []MovementLine `json:"lines"`
}

// MemoryStore is an in-process ledger and snapshot store with the same
// observable behavior as Repository. It backs offline ledger replay and tests.
type MemoryStore struct {
	mu sync.RWMutex

	products  map[int64]Product
	locations map[int64]Location
	batches   map[int64]Batch
	movements map[int64]Movement
	lines     map[int64]MovementLine
	classes   map[string]MovementClass
	snapshot  []SnapshotRow
	refreshes []RefreshRecord
	nextID    int64

	uniqueIndex bool
}

var (
	_ RepositoryPort = (*MemoryStore)(nil)
	_ LedgerWriter   = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store whose snapshot supports concurrent refresh.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[int64]Product),
		locations:   make(map[int64]Location),
		batches:     make(map[int64]Batch),
		movements:   make(map[int64]Movement),
		lines:       make(map[int64]MovementLine),
		classes:     make(map[string]MovementClass),
		uniqueIndex: true,
	}
}

// DropSnapshotIndex removes the unique index concurrent refresh depends on.
func (m *MemoryStore) DropSnapshotIndex() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uniqueIndex = false
}

func (m *MemoryStore) id(requested int64) int64 {
	if requested > m.nextID {
		m.nextID = requested
	}
	if requested != 0 {
		return requested
	}
	m.nextID++
	return m.nextID
}

// Load seeds the store with a dataset, in dependency order.
func (m *MemoryStore) Load(ctx context.Context, ds Dataset) error {
	for _, p := range ds.Products {
		m.AddProduct(p)
	}
	for _, l := range ds.Locations {
		m.AddLocation(l)
	}
	for _, b := range ds.Batches {
		if _, err := m.AddBatch(b); err != nil {
			return err
		}
	}
	for _, mv := range ds.Movements {
		if _, err := m.UpsertMovement(ctx, mv); err != nil {
			return fmt.Errorf("inventory: load movement %d: %w", mv.ID, err)
		}
	}
	for _, l := range ds.Lines {
		res, err := m.WriteMovementLine(ctx, l)
		if err != nil {
			return fmt.Errorf("inventory: load line %d: %w", l.ID, err)
		}
		if !res.Written() {
			return fmt.Errorf("inventory: load line %d: %w", l.ID, ErrBatchNotFound)
		}
	}
	return nil
}

// AddProduct stores a product, assigning an id when zero.
func (m *MemoryStore) AddProduct(p Product) Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id(p.ID)
	m.products[p.ID] = p
	return p
}

// AddLocation stores a location, assigning an id when zero.
func (m *MemoryStore) AddLocation(l Location) Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = m.id(l.ID)
	m.locations[l.ID] = l
	return l
}

// AddBatch stores a batch, assigning an id when zero. A batch's product
// cannot change once stored.
func (m *MemoryStore) AddBatch(b Batch) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[b.ProductID]; !ok {
		return Batch{}, ErrProductNotFound
	}
	if existing, ok := m.batches[b.ID]; ok && existing.ProductID != b.ProductID {
		return Batch{}, fmt.Errorf("inventory: batch %d product is immutable", b.ID)
	}
	b.ID = m.id(b.ID)
	m.batches[b.ID] = b
	return b, nil
}

// Batches returns the product's batches ordered by id.
func (m *MemoryStore) Batches(productID int64) []Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.productBatches(productID)
}

func (m *MemoryStore) productBatches(productID int64) []Batch {
	var out []Batch
	for _, b := range m.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertMovement inserts or replaces a header by id.
func (m *MemoryStore) UpsertMovement(_ context.Context, mv Movement) (Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[mv.ProductID]; !ok {
		return Movement{}, ErrProductNotFound
	}
	for _, loc := range []int64{mv.LocationInID, mv.LocationOutID} {
		if _, ok := m.locations[loc]; loc != 0 && !ok {
			return Movement{}, ErrLocationNotFound
		}
	}
	mv.ID = m.id(mv.ID)
	m.movements[mv.ID] = mv
	return mv, nil
}

// WriteMovementLine appends a line, reporting LineBatchMissing for an unknown batch.
func (m *MemoryStore) WriteMovementLine(_ context.Context, line MovementLine) (LineWriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.movements[line.MovementID]; !ok {
		return LineWriteResult{}, ErrMovementNotFound
	}
	if _, ok := m.products[line.ProductID]; !ok {
		return LineWriteResult{}, ErrProductNotFound
	}
	if _, ok := m.batches[line.BatchID]; line.BatchID != 0 && !ok {
		return LineWriteResult{Status: LineBatchMissing}, nil
	}
	line.ID = m.id(line.ID)
	m.lines[line.ID] = line
	return LineWriteResult{Status: LineWritten, LineID: line.ID}, nil
}

// FindRegenBatch looks up the product's regen batch.
func (m *MemoryStore) FindRegenBatch(_ context.Context, productID int64) (Batch, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findRegen(productID)
}

func (m *MemoryStore) findRegen(productID int64) (Batch, bool, error) {
	code := RegenBatchCode(productID)
	for _, b := range m.productBatches(productID) {
		if b.Regen && b.Codes.Code == code {
			return b, true, nil
		}
	}
	return Batch{}, false, nil
}

// InsertRegenBatch creates the regen batch unless one exists for the product.
func (m *MemoryStore) InsertRegenBatch(_ context.Context, batch Batch) (Batch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[batch.ProductID]; !ok {
		return Batch{}, false, ErrProductNotFound
	}
	for _, b := range m.batches {
		if b.ProductID == batch.ProductID && b.Regen {
			return b, false, nil
		}
	}
	batch.ID = m.id(0)
	batch.Regen = true
	m.batches[batch.ID] = batch
	return batch, true, nil
}

// LoadProductLedger returns the product's classified ledger.
func (m *MemoryStore) LoadProductLedger(_ context.Context, productID int64) (ProductLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return ProductLedger{}, ErrProductNotFound
	}
	return m.ledger(p, Classify), nil
}

func (m *MemoryStore) ledger(p Product, classify func(string) MovementClass) ProductLedger {
	ledger := ProductLedger{Product: p, Batches: m.productBatches(p.ID)}
	var movements []Movement
	for _, mv := range m.movements {
		if mv.ProductID == p.ID {
			movements = append(movements, mv)
		}
	}
	sort.Slice(movements, func(i, j int) bool { return movements[i].ID < movements[j].ID })
	for _, mv := range movements {
		ledger.Movements = append(ledger.Movements, ClassifiedMovement{Movement: mv, Class: classify(mv.Type)})
	}
	for _, l := range m.lines {
		if b, ok := m.batches[l.BatchID]; ok && b.ProductID == p.ID {
			ledger.Lines = append(ledger.Lines, l)
		}
	}
	sort.Slice(ledger.Lines, func(i, j int) bool { return ledger.Lines[i].ID < ledger.Lines[j].ID })
	return ledger
}

// ListLocations returns every location keyed by id.
func (m *MemoryStore) ListLocations(context.Context) (map[int64]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]Location, len(m.locations))
	for id, l := range m.locations {
		out[id] = l
	}
	return out, nil
}

// SyncMovementClasses replaces the stored classifier table.
func (m *MemoryStore) SyncMovementClasses(_ context.Context, entries []MovementClassEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = make(map[string]MovementClass, len(entries))
	for _, e := range entries {
		m.classes[e.Label] = e.Class
	}
	return nil
}

// RefreshSnapshot rematerializes every tracked product, classifying movements
// with the stored classifier table.
func (m *MemoryStore) RefreshSnapshot(_ context.Context, concurrent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if concurrent && !m.uniqueIndex {
		return ErrRefreshUnsupported
	}
	classify := func(label string) MovementClass {
		return m.classes[NormalizeMovementType(label)]
	}
	ids := make([]int64, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ledgers := make([]ProductLedger, 0, len(ids))
	for _, id := range ids {
		ledgers = append(ledgers, m.ledger(m.products[id], classify))
	}
	m.snapshot = Materialize(ledgers, m.locations)
	return nil
}

// SnapshotRows returns the materialized rows of the given products.
func (m *MemoryStore) SnapshotRows(_ context.Context, productIDs []int64) ([]SnapshotRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		want[id] = true
	}
	var out []SnapshotRow
	for _, row := range m.snapshot {
		if want[row.ProductID] {
			out = append(out, row)
		}
	}
	return out, nil
}

// CountSnapshotRows returns the number of materialized rows.
func (m *MemoryStore) CountSnapshotRows(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.snapshot)), nil
}

// RecordRefresh appends a refresh bookkeeping entry.
func (m *MemoryStore) RecordRefresh(_ context.Context, rec RefreshRecord) (RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.refreshes)) + 1
	m.refreshes = append(m.refreshes, rec)
	return rec, nil
}

// LastRefresh returns the most recent refresh, if any.
func (m *MemoryStore) LastRefresh(context.Context) (RefreshRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.refreshes) == 0 {
		return RefreshRecord{}, false, nil
	}
	return m.refreshes[len(m.refreshes)-1], true, nil
}
