package assembly

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/pricing"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

// --- In-memory transactional repository ---

type memoryRepo struct {
	orders map[string]*Order
	lines  map[string][]*OrderLine
	taxes  map[string][]LineTax
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders: map[string]*Order{},
		lines:  map[string][]*OrderLine{},
		taxes:  map[string][]LineTax{},
	}
}

// InTx snapshots the state and restores it when fn fails, mimicking a
// database transaction rollback.
func (r *memoryRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	snapshot := r.clone()
	if err := fn(ctx, r); err != nil {
		r.orders, r.lines, r.taxes = snapshot.orders, snapshot.lines, snapshot.taxes
		return err
	}
	return nil
}

func (r *memoryRepo) clone() *memoryRepo {
	c := newMemoryRepo()
	for k, v := range r.orders {
		cp := *v
		c.orders[k] = &cp
	}
	for k, v := range r.lines {
		c.lines[k] = append([]*OrderLine(nil), v...)
	}
	for k, v := range r.taxes {
		c.taxes[k] = append([]LineTax(nil), v...)
	}
	return c
}

func (r *memoryRepo) LoadOrder(_ context.Context, orderID string) (*Order, error) {
	return r.orders[orderID], nil
}

func (r *memoryRepo) SaveOrder(_ context.Context, o *Order) error {
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memoryRepo) UpdateOrder(_ context.Context, o *Order) error {
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memoryRepo) SaveLines(_ context.Context, lines []*OrderLine) error {
	for _, l := range lines {
		r.lines[l.OrderID] = append(r.lines[l.OrderID], l)
	}
	return nil
}

func (r *memoryRepo) SaveLineTaxes(_ context.Context, lineID string, taxes []LineTax) error {
	r.taxes[lineID] = taxes
	return nil
}

func (r *memoryRepo) DeleteLines(_ context.Context, orderID string) ([]*OrderLine, error) {
	old := r.lines[orderID]
	delete(r.lines, orderID)
	for _, l := range old {
		delete(r.taxes, l.ID)
	}
	return old, nil
}

// --- Collaborator stubs ---

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
	products map[string]*catalog.Product
}

func (r *mapResolver) Product(_ context.Context, id string) (*catalog.Product, error) {
	if p, ok := r.products[id]; ok {
		return p, nil
	}
	return nil, source.Issue{Code: source.CodeNoProduct, Message: "unknown product", ProductID: id}
}

func (r *mapResolver) Supplier(_ context.Context, id string) (*catalog.Supplier, error) {
	return &catalog.Supplier{ID: id}, nil
}

type codeModifier struct {
	accepts    map[string]bool
	used       map[string][]string
	clearCalls []string
}

func newCodeModifier(accepts ...string) *codeModifier {
	m := &codeModifier{accepts: map[string]bool{}, used: map[string][]string{}}
	for _, c := range accepts {
		m.accepts[c] = true
	}
	return m
}

func (m *codeModifier) NewLines(context.Context, *source.OrderSource, []*source.Line) ([]*source.Line, error) {
	return nil, nil
}

func (m *codeModifier) CanUseCode(_ context.Context, _ *source.OrderSource, code string) bool {
	return m.accepts[code]
}

func (m *codeModifier) UseCode(_ context.Context, orderID, code string) error {
	m.used[orderID] = append(m.used[orderID], code)
	return nil
}

func (m *codeModifier) ClearCodes(_ context.Context, orderID string) error {
	m.clearCalls = append(m.clearCalls, orderID)
	return nil
}

// flatTaxer attaches a single 25% record to every product line.
type flatTaxer struct{}

func (flatTaxer) AddTaxes(_ context.Context, _ *source.OrderSource, lines []*source.Line) error {
	rate := decimal.RequireFromString("0.25")
	for _, l := range lines {
		if !l.IsProductLine() {
			continue
		}
		total := l.Total().Value()
		tax := total.Mul(rate).Div(rate.Add(decimal.NewFromInt(1))).Round(2)
		l.Taxes = []source.TaxRecord{{
			TaxID:     "vat25",
			Name:      "VAT 25%",
			Rate:      rate,
			BaseValue: total.Sub(tax),
			TaxValue:  tax,
		}}
	}
	return nil
}

type recordingStock struct {
	reconciled []string
}

func (r *recordingStock) ReconcileStock(_ context.Context, _, productID string) error {
	r.reconciled = append(r.reconciled, productID)
	return nil
}

// --- Fixtures ---

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

type world struct {
	repo     *memoryRepo
	oracle   *stockOracle
	resolver *mapResolver
	supplier *catalog.Supplier
	env      source.Environment
}

func newWorld() *world {
	w := &world{
		repo:     newMemoryRepo(),
		oracle:   &stockOracle{stock: map[string]decimal.Decimal{}},
		resolver: &mapResolver{products: map[string]*catalog.Product{}},
		supplier: &catalog.Supplier{ID: "sup1", Name: "Acme"},
	}
	w.env = source.Environment{
		Orderability: w.oracle,
		Taxes:        flatTaxer{},
	}
	return w
}

func (w *world) product(id string, stock int64) *catalog.Product {
	p := pieceProduct(id)
	w.resolver.products[id] = p
	w.oracle.stock[id] = decimal.NewFromInt(stock)
	return p
}

func (w *world) newSource() *source.OrderSource {
	return source.New(testShop(), w.env)
}

func (w *world) addLine(t *testing.T, src *source.OrderSource, p *catalog.Product, qty int64, price string) *source.Line {
	t.Helper()
	l, err := src.AddLine(source.LineSpec{
		Type:          source.TypeProduct,
		Product:       p,
		Supplier:      w.supplier,
		Quantity:      decimal.NewFromInt(qty),
		BaseUnitPrice: taxfulEUR(price),
	})
	require.NoError(t, err)
	return l
}

func (w *world) assembler(opts ...Option) *Assembler {
	opts = append(opts, WithClock(func() time.Time {
		return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	return New(w.repo, w.resolver, opts...)
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	w := newWorld()
	p := w.product("p1", 100)
	src := w.newSource()
	src.Customer = &source.Contact{ID: "cust1"}
	src.Creator = &source.Contact{ID: "staff1"}
	w.addLine(t, src, p, 2, "10.00")

	o, err := w.assembler().CreateOrder(context.Background(), src)
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "shop1", o.ShopID)
	assert.Equal(t, "EUR", o.Currency)
	assert.True(t, o.PricesIncludeTax)
	assert.Equal(t, "cust1", o.CustomerID)
	assert.Equal(t, "staff1", o.CreatorID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), o.CreatedAt)

	require.Len(t, o.Lines, 1)
	l := o.Lines[0]
	assert.Equal(t, 0, l.Ordering)
	assert.Equal(t, "p1", l.ProductID)
	assert.True(t, decimal.RequireFromString("10.00").Equal(l.BaseUnitPrice))

	require.Len(t, l.Taxes, 1)
	assert.Equal(t, "vat25", l.Taxes[0].TaxID)
	assert.True(t, decimal.RequireFromString("4.00").Equal(l.Taxes[0].TaxValue))

	assert.True(t, decimal.RequireFromString("20.00").Equal(o.TaxfulTotal))
	assert.True(t, decimal.RequireFromString("16.00").Equal(o.TaxlessTotal))

	persisted := w.repo.orders[o.ID]
	require.NotNil(t, persisted)
	assert.True(t, persisted.TaxfulTotal.Equal(o.TaxfulTotal))
	assert.Len(t, w.repo.lines[o.ID], 1)
	assert.Len(t, w.repo.taxes[l.ID], 1)
}

func TestCreateOrder_PackageChildren(t *testing.T) {
	w := newWorld()
	childA := w.product("childA", 100)
	childB := w.product("childB", 100)
	bundle := w.product("bundle", 100)
	bundle.Children = map[string]decimal.Decimal{
		childA.ID: decimal.NewFromInt(2),
		childB.ID: decimal.NewFromInt(1),
	}
	src := w.newSource()
	w.addLine(t, src, bundle, 3, "30.00")

	o, err := w.assembler().CreateOrder(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, o.Lines, 3)
	parent := o.Lines[0]
	assert.Equal(t, "bundle", parent.ProductID)

	byProduct := map[string]*OrderLine{}
	for _, l := range o.Lines[1:] {
		byProduct[l.ProductID] = l
		assert.Equal(t, parent.ID, l.ParentID)
		assert.True(t, l.BaseUnitPrice.IsZero())
		assert.Empty(t, l.Taxes)
	}
	require.Contains(t, byProduct, "childA")
	require.Contains(t, byProduct, "childB")
	assert.True(t, decimal.NewFromInt(6).Equal(byProduct["childA"].Quantity))
	assert.True(t, decimal.NewFromInt(3).Equal(byProduct["childB"].Quantity))

	// Ordering indices follow emission order with no gaps.
	for i, l := range o.Lines {
		assert.Equal(t, i, l.Ordering)
	}
}

func TestCreateOrder_ChildUnavailableIsFatal(t *testing.T) {
	w := newWorld()
	childA := w.product("childA", 2)
	bundle := w.product("bundle", 100)
	bundle.Children = map[string]decimal.Decimal{childA.ID: decimal.NewFromInt(2)}
	src := w.newSource()
	// 3 bundles need 6 of childA, stock is 2.
	w.addLine(t, src, bundle, 3, "30.00")

	_, err := w.assembler().CreateOrder(context.Background(), src)

	var unavailable *ChildUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "bundle", unavailable.ParentProductID)
	assert.Equal(t, "childA", unavailable.ChildProductID)

	// The transaction rolled back: nothing persisted.
	assert.Empty(t, w.repo.orders)
	assert.Empty(t, w.repo.lines)
}

func TestCreateOrder_ValidationIssueAborts(t *testing.T) {
	w := newWorld()
	w.env.Validators = []source.Validator{source.MinimumTotalValidator{}}
	p := w.product("p1", 100)
	shop := testShop()
	shop.MinimumOrderTotal = decimal.RequireFromString("20.00")
	src := source.New(shop, w.env)
	l, err := src.AddLine(source.LineSpec{
		Type:          source.TypeProduct,
		Product:       p,
		Supplier:      w.supplier,
		Quantity:      decimal.NewFromInt(1),
		BaseUnitPrice: taxfulEUR("15.00"),
	})
	require.NoError(t, err)
	_ = l

	_, err = New(w.repo, w.resolver).CreateOrder(context.Background(), src)

	var issue source.Issue
	require.ErrorAs(t, err, &issue)
	assert.Equal(t, source.CodeOrderTotalTooLow, issue.Code)
	assert.Empty(t, w.repo.orders)
}

func TestCreateOrder_VerificationFlags(t *testing.T) {
	w := newWorld()
	p := w.product("p1", 100)
	src := w.newSource()
	l, err := src.AddLine(source.LineSpec{
		Type:                source.TypeProduct,
		Product:             p,
		Supplier:            w.supplier,
		Quantity:            decimal.NewFromInt(1),
		BaseUnitPrice:       taxfulEUR("10.00"),
		RequireVerification: true,
	})
	require.NoError(t, err)
	_ = l

	o, err := w.assembler().CreateOrder(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, o.RequireVerification)
	assert.False(t, o.AllVerified)
}

func TestCreateOrder_CodeUsageFirstAcceptingModifierWins(t *testing.T) {
	w := newWorld()
	first := newCodeModifier("OTHER")
	second := newCodeModifier("SAVE10")
	third := newCodeModifier("SAVE10")
	w.env.Modifiers = []source.Modifier{first, second, third}
	p := w.product("p1", 100)
	src := w.newSource()
	w.addLine(t, src, p, 1, "10.00")
	src.AddCode("SAVE10")

	o, err := w.assembler().CreateOrder(context.Background(), src)
	require.NoError(t, err)

	assert.Empty(t, first.used)
	assert.Equal(t, []string{"SAVE10"}, second.used[o.ID])
	assert.Empty(t, third.used)
}

func TestUpdateOrder(t *testing.T) {
	w := newWorld()
	mod := newCodeModifier("SAVE10")
	w.env.Modifiers = []source.Modifier{mod}
	stock := &recordingStock{}
	asm := w.assembler(WithStockReconciler(stock))

	p1 := w.product("p1", 100)
	p2 := w.product("p2", 100)

	src := w.newSource()
	src.Creator = &source.Contact{ID: "staff1"}
	src.CreatorIP = "203.0.113.7"
	w.addLine(t, src, p1, 2, "10.00")
	created, err := asm.CreateOrder(context.Background(), src)
	require.NoError(t, err)

	// Rebuild the source with p1 replaced by p2 and a tampered header.
	next := w.newSource()
	next.Creator = &source.Contact{ID: "staff2"}
	next.ModifiedBy = &source.Contact{ID: "staff2"}
	next.CreatorIP = "198.51.100.9"
	next.Currency = "USD"
	w.addLine(t, next, p2, 1, "5.00")
	next.AddCode("SAVE10")

	updated, err := asm.UpdateOrder(context.Background(), created.ID, next)
	require.NoError(t, err)

	// Immutable header fields survive the update.
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "EUR", updated.Currency)
	assert.Equal(t, "staff1", updated.CreatorID)
	assert.Equal(t, "203.0.113.7", updated.CreatorIP)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	// The modifier identity is mutable.
	assert.Equal(t, "staff2", updated.ModifiedByID)

	// Old lines are gone; the new set replaced them wholesale.
	persisted := w.repo.lines[created.ID]
	require.Len(t, persisted, 1)
	assert.Equal(t, "p2", persisted[0].ProductID)

	// Usage records were cleared and re-assigned.
	assert.Equal(t, []string{created.ID}, mod.clearCalls)
	assert.Equal(t, []string{"SAVE10"}, mod.used[created.ID])

	// p1 dropped out of the order entirely.
	assert.Equal(t, []string{"p1"}, stock.reconciled)
}

func TestUpdateOrder_NotFound(t *testing.T) {
	w := newWorld()
	src := w.newSource()

	_, err := w.assembler().UpdateOrder(context.Background(), "missing", src)

	var notFound *OrderNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestUpdateOrder_AtomicOnExpansionFailure(t *testing.T) {
	w := newWorld()
	asm := w.assembler()
	p1 := w.product("p1", 100)

	src := w.newSource()
	w.addLine(t, src, p1, 2, "10.00")
	created, err := asm.CreateOrder(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, w.repo.lines[created.ID], 1)

	// The replacement set trips a fatal expansion error after the old lines
	// were already deleted inside the transaction.
	childA := w.product("childA", 1)
	bundle := w.product("bundle", 100)
	bundle.Children = map[string]decimal.Decimal{childA.ID: decimal.NewFromInt(5)}
	next := w.newSource()
	w.addLine(t, next, bundle, 1, "30.00")

	_, err = asm.UpdateOrder(context.Background(), created.ID, next)
	var unavailable *ChildUnavailableError
	require.ErrorAs(t, err, &unavailable)

	// Rollback left the previously persisted state untouched.
	require.Len(t, w.repo.lines[created.ID], 1)
	assert.Equal(t, "p1", w.repo.lines[created.ID][0].ProductID)
	assert.NotNil(t, w.repo.orders[created.ID])
}

func TestCreateOrder_ParentLinkage(t *testing.T) {
	w := newWorld()
	p1 := w.product("p1", 100)
	p2 := w.product("p2", 100)
	src := w.newSource()
	parent := w.addLine(t, src, p1, 1, "10.00")
	_, err := src.AddLine(source.LineSpec{
		Type:          source.TypeProduct,
		ParentID:      parent.ID,
		Product:       p2,
		Supplier:      w.supplier,
		Quantity:      decimal.NewFromInt(1),
		BaseUnitPrice: taxfulEUR("3.00"),
	})
	require.NoError(t, err)

	o, err := w.assembler().CreateOrder(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, o.Lines, 2)
	assert.Equal(t, o.Lines[0].ID, o.Lines[1].ParentID)
}
