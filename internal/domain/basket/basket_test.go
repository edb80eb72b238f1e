package basket

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/pricing"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

// --- Test doubles ---

type memoryStore struct {
	records   map[string]*Record
	finalized map[string]bool
	loadErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]*Record{}, finalized: map[string]bool{}}
}

func (s *memoryStore) Load(_ context.Context, key string) (*Record, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.records[key], nil
}

func (s *memoryStore) Save(_ context.Context, key string, rec *Record) error {
	s.records[key] = rec
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	delete(s.records, key)
	return nil
}

func (s *memoryStore) Finalize(_ context.Context, key string) error {
	s.finalized[key] = true
	return nil
}

type stockOracle struct {
	stock map[string]decimal.Decimal
}

func (o *stockOracle) IsOrderable(_ context.Context, _, _, _ string, p *catalog.Product, qty decimal.Decimal) bool {
	limit, ok := o.stock[p.ID]
	return ok && qty.LessThanOrEqual(limit)
}

func (o *stockOracle) OrderabilityErrors(ctx context.Context, shopID, supplierID, customerID string, p *catalog.Product, qty decimal.Decimal) []source.Issue {
	if o.IsOrderable(ctx, shopID, supplierID, customerID, p, qty) {
		return nil
	}
	return []source.Issue{{Code: source.CodeProductNotOrderable, Message: "insufficient stock", ProductID: p.ID}}
}

type mapResolver struct {
	products  map[string]*catalog.Product
	suppliers map[string]*catalog.Supplier
}

func (r *mapResolver) Product(_ context.Context, id string) (*catalog.Product, error) {
	if p, ok := r.products[id]; ok {
		return p, nil
	}
	return nil, source.Issue{Code: source.CodeNoProduct, Message: "unknown product", ProductID: id}
}

func (r *mapResolver) Supplier(_ context.Context, id string) (*catalog.Supplier, error) {
	if sup, ok := r.suppliers[id]; ok {
		return sup, nil
	}
	return nil, source.Issue{Code: source.CodeNoSupplier, Message: "unknown supplier"}
}

func testShop() *catalog.Shop {
	return &catalog.Shop{ID: "shop1", Currency: "EUR", PricesIncludeTax: true}
}

func pieceProduct(id string) *catalog.Product {
	return &catalog.Product{
		ID:         id,
		SKU:        "SKU-" + id,
		Name:       "Product " + id,
		TaxClassID: "standard",
		Unit:       catalog.SalesUnit{Symbol: "pcs"},
	}
}

func taxfulEUR(s string) pricing.Amount {
	return pricing.New(decimal.RequireFromString(s), "EUR", pricing.Taxful)
}

type fixture struct {
	basket   *Basket
	store    *memoryStore
	oracle   *stockOracle
	resolver *mapResolver
	supplier *catalog.Supplier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemoryStore()
	oracle := &stockOracle{stock: map[string]decimal.Decimal{}}
	resolver := &mapResolver{
		products:  map[string]*catalog.Product{},
		suppliers: map[string]*catalog.Supplier{},
	}
	supplier := &catalog.Supplier{ID: "sup1", Name: "Acme"}
	resolver.suppliers["sup1"] = supplier
	env := source.Environment{Orderability: oracle}
	return &fixture{
		basket:   New("basket-key", testShop(), env, store, resolver),
		store:    store,
		oracle:   oracle,
		resolver: resolver,
		supplier: supplier,
	}
}

func (f *fixture) product(id string, stock int64) *catalog.Product {
	p := pieceProduct(id)
	f.resolver.products[id] = p
	f.oracle.stock[id] = decimal.NewFromInt(stock)
	return p
}

func (f *fixture) add(t *testing.T, p *catalog.Product, qty int64, price string) *source.Line {
	t.Helper()
	l, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.NewFromInt(qty),
		UnitPrice: taxfulEUR(price),
	})
	require.NoError(t, err)
	return l
}

// --- Tests ---

func TestAddProduct_CoalescesMatchingLine(t *testing.T) {
	f := newFixture(t)
	p := f.product("p1", 100)

	first := f.add(t, p, 2, "10.00")
	second := f.add(t, p, 3, "10.00")

	assert.Same(t, first, second)
	assert.True(t, decimal.NewFromInt(5).Equal(first.Quantity))
	assert.Len(t, f.basket.RawLines(), 1)
}

func TestAddProduct_ForceNewLine(t *testing.T) {
	f := newFixture(t)
	p := f.product("p1", 100)

	f.add(t, p, 2, "10.00")
	_, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:     f.supplier,
		Product:      p,
		Quantity:     decimal.NewFromInt(1),
		UnitPrice:    taxfulEUR("10.00"),
		ForceNewLine: true,
	})
	require.NoError(t, err)

	assert.Len(t, f.basket.RawLines(), 2)
}

func TestAddProduct_ExtraPartialMatch(t *testing.T) {
	f := newFixture(t)
	p := f.product("p1", 100)

	_, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: taxfulEUR("10.00"),
		Extra:     map[string]any{"engraving": "A"},
	})
	require.NoError(t, err)

	// Different payload value: a separate line.
	_, err = f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: taxfulEUR("10.00"),
		Extra:     map[string]any{"engraving": "B"},
	})
	require.NoError(t, err)
	assert.Len(t, f.basket.RawLines(), 2)

	// Matching payload coalesces.
	_, err = f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.NewFromInt(2),
		UnitPrice: taxfulEUR("10.00"),
		Extra:     map[string]any{"engraving": "A"},
	})
	require.NoError(t, err)
	assert.Len(t, f.basket.RawLines(), 2)
}

func TestAddProduct_ExtraNumbersMatchAcrossTypes(t *testing.T) {
	f := newFixture(t)
	p := f.product("p1", 100)

	// A stored payload comes back with its numbers as decimals.
	_, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: taxfulEUR("10.00"),
		Extra:     map[string]any{"bundle_size": decimal.NewFromInt(6)},
	})
	require.NoError(t, err)

	// The same payload given as an int must still coalesce.
	_, err = f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.NewFromInt(2),
		UnitPrice: taxfulEUR("10.00"),
		Extra:     map[string]any{"bundle_size": 6},
	})
	require.NoError(t, err)

	require.Len(t, f.basket.RawLines(), 1)
	assert.True(t, decimal.NewFromInt(3).Equal(f.basket.RawLines()[0].Quantity))
}

func TestAddProduct_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	p := f.product("p1", 100)

	_, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:  f.supplier,
		Product:   p,
		Quantity:  decimal.Zero,
		UnitPrice: taxfulEUR("10.00"),
	})

	var issue source.Issue
	require.ErrorAs(t, err, &issue)
	assert.Equal(t, source.CodeInvalidQuantity, issue.Code)
}

func TestPartition_SummedQuantitiesMarkAllLinesUnorderable(t *testing.T) {
	f := newFixture(t)
	p := f.product("p1", 5)

	f.add(t, p, 3, "10.00")
	_, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:     f.supplier,
		Product:      p,
		Quantity:     decimal.NewFromInt(3),
		UnitPrice:    taxfulEUR("10.00"),
		ForceNewLine: true,
	})
	require.NoError(t, err)

	// 3 + 3 exceeds stock 5: both lines are unorderable.
	ctx := context.Background()
	assert.Empty(t, f.basket.OrderableLines(ctx))
	assert.Len(t, f.basket.UnorderableLines(ctx), 2)
	assert.Empty(t, f.basket.Lines(ctx))
}

func TestPartition_PackageParentNeedsOrderableChildren(t *testing.T) {
	f := newFixture(t)
	child := f.product("childA", 4)
	_ = child
	bundle := f.product("bundle", 10)
	bundle.Children = map[string]decimal.Decimal{"childA": decimal.NewFromInt(2)}

	// 3 bundles need 6 of childA, stock is 4.
	f.add(t, bundle, 3, "30.00")

	ctx := context.Background()
	assert.Empty(t, f.basket.OrderableLines(ctx))
	assert.Len(t, f.basket.UnorderableLines(ctx), 1)

	// Dropping to 2 bundles (4 children) makes it orderable again.
	l := f.basket.UnorderableLines(ctx)[0]
	require.NoError(t, f.basket.UpdateLine(ctx, l.ID, map[string]any{"quantity": 2}))
	assert.Len(t, f.basket.OrderableLines(ctx), 1)
	assert.Empty(t, f.basket.UnorderableLines(ctx))
}

// contextRecordingOracle remembers the context the last stock check ran
// under.
type contextRecordingOracle struct {
	*stockOracle
	last context.Context
}

func (o *contextRecordingOracle) IsOrderable(ctx context.Context, shopID, supplierID, customerID string, p *catalog.Product, qty decimal.Decimal) bool {
	o.last = ctx
	return o.stockOracle.IsOrderable(ctx, shopID, supplierID, customerID, p, qty)
}

func TestPartition_UsesCallerContext(t *testing.T) {
	store := newMemoryStore()
	resolver := &mapResolver{
		products:  map[string]*catalog.Product{},
		suppliers: map[string]*catalog.Supplier{},
	}
	oracle := &contextRecordingOracle{stockOracle: &stockOracle{stock: map[string]decimal.Decimal{}}}
	b := New("ctx-key", testShop(), source.Environment{Orderability: oracle}, store, resolver)

	p := pieceProduct("p1")
	resolver.products["p1"] = p
	oracle.stock["p1"] = decimal.NewFromInt(10)

	_, err := b.AddProduct(context.Background(), AddProductParams{
		Product:   p,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: taxfulEUR("10.00"),
	})
	require.NoError(t, err)

	type tagKey struct{}
	ctx := context.WithValue(context.Background(), tagKey{}, "caller")
	b.OrderableLines(ctx)

	require.NotNil(t, oracle.last)
	assert.Equal(t, "caller", oracle.last.Value(tagKey{}))
}

func TestDeleteLine_CascadesAndCompacts(t *testing.T) {
	f := newFixture(t)
	parent := f.product("p1", 100)
	accessory := f.product("p2", 100)

	parentLine := f.add(t, parent, 1, "10.00")
	_, err := f.basket.AddProduct(context.Background(), AddProductParams{
		Supplier:   f.supplier,
		Product:    accessory,
		Quantity:   decimal.NewFromInt(2),
		UnitPrice:  taxfulEUR("3.00"),
		ParentLine: parentLine,
	})
	require.NoError(t, err)
	require.Len(t, f.basket.RawLines(), 2)

	require.NoError(t, f.basket.DeleteLine(context.Background(), parentLine.ID))

	// Both parent and dependent child are gone after compaction.
	assert.Empty(t, f.basket.RawLines())
}

func TestUpdateLine_UnknownID(t *testing.T) {
	f := newFixture(t)
	err := f.basket.UpdateLine(context.Background(), "missing", map[string]any{"quantity": 1})
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product("p1", 100)

	f.basket.Customer = &source.Contact{ID: "cust1"}
	f.basket.ShippingMethodID = "standard"
	f.basket.AddCode("SAVE10")
	f.basket.BillingAddress = &source.Address{Name: "Jane Doe", Street: "Main St 1", City: "Berlin", PostalCode: "10115", Country: "DE"}
	f.add(t, p, 2, "10.00")

	require.True(t, f.basket.Dirty())
	require.NoError(t, f.basket.Save(ctx))
	assert.False(t, f.basket.Dirty())

	restored := New("basket-key", testShop(), source.Environment{Orderability: f.oracle}, f.store, f.resolver)
	require.NoError(t, restored.Load(ctx))

	assert.False(t, restored.Dirty())
	assert.Equal(t, []string{"SAVE10"}, restored.Codes())
	assert.Equal(t, "standard", restored.ShippingMethodID)
	require.NotNil(t, restored.Customer)
	assert.Equal(t, "cust1", restored.Customer.ID)
	require.NotNil(t, restored.BillingAddress)
	assert.Equal(t, "Berlin", restored.BillingAddress.City)
	require.Len(t, restored.RawLines(), 1)
	got := restored.RawLines()[0]
	assert.Equal(t, "p1", got.Product.ID)
	assert.True(t, decimal.NewFromInt(2).Equal(got.Quantity))
	assert.True(t, taxfulEUR("10.00").Equal(got.BaseUnitPrice))
}

func TestLoad_CompatibilityErrorYieldsEmptyBasket(t *testing.T) {
	f := newFixture(t)
	f.store.loadErr = &CompatibilityError{Key: "basket-key", Reason: "schema version 0"}

	require.NoError(t, f.basket.Load(context.Background()))
	assert.Empty(t, f.basket.RawLines())
	assert.True(t, f.basket.Dirty())
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.basket.Finalize(context.Background()))
	assert.True(t, f.store.finalized["basket-key"])
}
