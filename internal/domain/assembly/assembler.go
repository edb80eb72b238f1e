package assembly

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

// Assembler turns an OrderSource into a persisted Order. Create and Update
// share one pipeline: verify, expand final lines (synthesizing package-child
// lines), persist with ordering indices, attach taxes, post-process.
type Assembler struct {
	repo      Repository
	resolver  source.CatalogResolver
	stock     StockReconciler
	customers CustomerReconciler
	now       func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithStockReconciler wires stock reconciliation for products dropped during
// order updates.
func WithStockReconciler(s StockReconciler) Option {
	return func(a *Assembler) { a.stock = s }
}

// WithCustomerReconciler wires customer profile backfill after assembly.
func WithCustomerReconciler(c CustomerReconciler) Option {
	return func(a *Assembler) { a.customers = c }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New creates an assembler over the given repository and catalog resolver.
func New(repo Repository, resolver source.CatalogResolver, opts ...Option) *Assembler {
	a := &Assembler{
		repo:     repo,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateOrder assembles a new order from the source inside one transaction.
func (a *Assembler) CreateOrder(ctx context.Context, src *source.OrderSource) (*Order, error) {
	o := newOrderHeader(src)
	o.ID = uuid.New().String()
	o.CreatedAt = a.now().UTC()

	err := a.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.SaveOrder(ctx, o); err != nil {
			return errors.Wrap(err, "save order header")
		}
		return a.assemble(ctx, tx, o, src)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateOrder replaces the persisted state of an existing order with a fresh
// assembly of the source. The old and new line sets never coexist outside the
// transaction.
func (a *Assembler) UpdateOrder(ctx context.Context, orderID string, src *source.OrderSource) (*Order, error) {
	var o *Order
	err := a.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		prev, err := tx.LoadOrder(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "load order")
		}
		if prev == nil {
			return &OrderNotFoundError{OrderID: orderID}
		}

		o = newOrderHeader(src)
		// Immutable header fields carry over from the persisted order.
		o.ID = prev.ID
		o.ShopID = prev.ShopID
		o.Currency = prev.Currency
		o.PricesIncludeTax = prev.PricesIncludeTax
		o.CreatorID = prev.CreatorID
		o.CreatorIP = prev.CreatorIP
		o.CreatedAt = prev.CreatedAt

		for _, m := range src.Env().Modifiers {
			if err := m.ClearCodes(ctx, o.ID); err != nil {
				return errors.Wrap(err, "clear code usage")
			}
		}

		old, err := tx.DeleteLines(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "delete old lines")
		}

		if err := a.assemble(ctx, tx, o, src); err != nil {
			return err
		}
		return a.reconcileDroppedStock(ctx, o, old)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// assemble runs the shared pipeline against an order header that is already
// persisted (create) or loaded (update).
func (a *Assembler) assemble(ctx context.Context, tx Tx, o *Order, src *source.OrderSource) error {
	if issues := src.ValidationErrors(ctx); len(issues) > 0 {
		return issues[0]
	}

	finals, err := src.FinalLines(ctx, true)
	if err != nil {
		return errors.Wrap(err, "compute final lines")
	}

	lines, err := a.expand(ctx, o, src, finals)
	if err != nil {
		return err
	}
	o.Lines = lines

	if err := tx.SaveLines(ctx, lines); err != nil {
		return errors.Wrap(err, "save lines")
	}

	for _, l := range lines {
		if l.src == nil || len(l.src.Taxes) == 0 {
			continue
		}
		l.Taxes = make([]LineTax, 0, len(l.src.Taxes))
		for _, t := range l.src.Taxes {
			l.Taxes = append(l.Taxes, LineTax{
				TaxID:     t.TaxID,
				Name:      t.Name,
				Rate:      t.Rate,
				BaseValue: t.BaseValue,
				TaxValue:  t.TaxValue,
			})
		}
		if err := tx.SaveLineTaxes(ctx, l.ID, l.Taxes); err != nil {
			return errors.Wrap(err, "save line taxes")
		}
	}

	return a.postProcess(ctx, tx, o, src)
}

// expand builds one persisted line per final line, plus one zero-priced child
// line per expanded package child. Child orderability is re-checked here and
// failure is fatal: a missing child would silently under-price the order.
func (a *Assembler) expand(ctx context.Context, o *Order, src *source.OrderSource, finals []*source.Line) ([]*OrderLine, error) {
	// Parent references resolve against the finals emitted so far, by the
	// originating line's identity rather than a not-yet-assigned row id.
	bySourceID := make(map[string]*OrderLine, len(finals))
	lines := make([]*OrderLine, 0, len(finals))
	ordering := 0

	emit := func(l *OrderLine) {
		l.ID = uuid.New().String()
		l.OrderID = o.ID
		l.Ordering = ordering
		ordering++
		lines = append(lines, l)
	}

	oracle := src.Env().Orderability

	for _, fl := range finals {
		pl := persistedFrom(fl)
		if fl.ParentID != "" {
			pp, ok := bySourceID[fl.ParentID]
			if !ok {
				return nil, &source.UnresolvedParentLineError{LineID: fl.ID, ParentID: fl.ParentID}
			}
			pl.ParentID = pp.ID
		}
		emit(pl)
		bySourceID[fl.ID] = pl

		if !fl.IsProductLine() || !fl.Product.IsPackageParent() {
			continue
		}
		if fl.Supplier == nil {
			return nil, &MissingSupplierError{LineID: fl.ID, ProductID: fl.Product.ID}
		}

		for childID, qty := range catalog.ExpandPackage(fl.Product, fl.Quantity) {
			child, err := a.resolver.Product(ctx, childID)
			if err != nil || child == nil {
				return nil, &ChildUnavailableError{
					ParentProductID: fl.Product.ID,
					ChildProductID:  childID,
					Quantity:        qty,
				}
			}
			customerID := ""
			if src.Customer != nil {
				customerID = src.Customer.ID
			}
			if oracle != nil && !oracle.IsOrderable(ctx, fl.ShopID, fl.Supplier.ID, customerID, child, qty) {
				return nil, &ChildUnavailableError{
					ParentProductID: fl.Product.ID,
					ChildProductID:  childID,
					Quantity:        qty,
				}
			}
			cl := &OrderLine{
				ParentID:            pl.ID,
				Type:                source.TypeProduct,
				ProductID:           child.ID,
				SupplierID:          fl.Supplier.ID,
				ShopID:              fl.ShopID,
				SKU:                 child.SKU,
				Text:                child.Name,
				Quantity:            qty,
				BaseUnitPrice:       decimal.Zero,
				DiscountAmount:      decimal.Zero,
				TaxClassID:          child.TaxClassID,
				RequireVerification: fl.RequireVerification,
				Provenance:          fl.Provenance,
			}
			emit(cl)
		}
	}

	return lines, nil
}

// persistedFrom maps a source line onto its persisted shape, keeping a
// backref for tax attachment.
func persistedFrom(l *source.Line) *OrderLine {
	pl := &OrderLine{
		Type:                l.Type,
		ShopID:              l.ShopID,
		SKU:                 l.SKU,
		Text:                l.Text,
		Quantity:            l.Quantity,
		BaseUnitPrice:       l.BaseUnitPrice.Value(),
		DiscountAmount:      l.DiscountAmount.Value(),
		TaxClassID:          l.TaxClassID,
		RequireVerification: l.RequireVerification,
		Provenance:          l.Provenance,
		Extra:               l.Extra,
		src:                 l,
	}
	if l.Product != nil {
		pl.ProductID = l.Product.ID
	}
	if l.Supplier != nil {
		pl.SupplierID = l.Supplier.ID
	}
	return pl
}

func (a *Assembler) postProcess(ctx context.Context, tx Tx, o *Order, src *source.OrderSource) error {
	o.RequireVerification = false
	for _, l := range o.Lines {
		if l.RequireVerification {
			o.RequireVerification = true
			break
		}
	}
	o.AllVerified = !o.RequireVerification

	if err := a.refreshTotals(ctx, o, src); err != nil {
		return err
	}

	if a.customers != nil && o.CustomerID != "" {
		if err := a.customers.ReconcileCustomer(ctx, o.CustomerID, o); err != nil {
			return errors.Wrap(err, "reconcile customer")
		}
	}

	for _, code := range src.Codes() {
		for _, m := range src.Env().Modifiers {
			if !m.CanUseCode(ctx, src, code) {
				continue
			}
			if err := m.UseCode(ctx, o.ID, code); err != nil {
				return errors.Wrapf(err, "record code usage %q", code)
			}
			break
		}
	}

	// Customer reconciliation can change addresses feeding shipping costs;
	// totals are refreshed once more before the final header write.
	if err := a.refreshTotals(ctx, o, src); err != nil {
		return err
	}
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return errors.Wrap(err, "update order header")
	}
	return nil
}

func (a *Assembler) refreshTotals(ctx context.Context, o *Order, src *source.OrderSource) error {
	taxful, err := src.TaxfulTotalPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "taxful total")
	}
	taxless, err := src.TaxlessTotalPrice(ctx)
	if err != nil {
		return errors.Wrap(err, "taxless total")
	}
	o.TaxfulTotal = taxful.Value()
	o.TaxlessTotal = taxless.Value()
	return nil
}

// reconcileDroppedStock restores stock for every product that was present in
// the old line set and is entirely absent from the new one.
func (a *Assembler) reconcileDroppedStock(ctx context.Context, o *Order, old []*OrderLine) error {
	if a.stock == nil {
		return nil
	}
	current := make(map[string]struct{}, len(o.Lines))
	for _, l := range o.Lines {
		if l.ProductID != "" {
			current[l.ProductID] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(old))
	for _, l := range old {
		if l.ProductID == "" {
			continue
		}
		if _, ok := current[l.ProductID]; ok {
			continue
		}
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		if err := a.stock.ReconcileStock(ctx, l.ShopID, l.ProductID); err != nil {
			return errors.Wrapf(err, "reconcile stock for product %s", l.ProductID)
		}
	}
	return nil
}

// newOrderHeader snapshots the mutable header fields of the source.
func newOrderHeader(src *source.OrderSource) *Order {
	o := &Order{
		Currency:         src.Currency,
		PricesIncludeTax: src.PricesIncludeTax,
		CreatorIP:        src.CreatorIP,
		BillingAddress:   src.BillingAddress,
		ShippingAddress:  src.ShippingAddress,
		ShippingMethodID: src.ShippingMethodID,
		PaymentMethodID:  src.PaymentMethodID,
		CustomerComment:  src.CustomerComment,
		Codes:            src.Codes(),
		PaymentData:      src.PaymentData,
		ShippingData:     src.ShippingData,
		ExtraData:        src.ExtraData,
	}
	if src.Shop != nil {
		o.ShopID = src.Shop.ID
	}
	if src.Customer != nil {
		o.CustomerID = src.Customer.ID
	}
	if src.Orderer != nil {
		o.OrdererID = src.Orderer.ID
	}
	if src.Creator != nil {
		o.CreatorID = src.Creator.ID
	}
	if src.ModifiedBy != nil {
		o.ModifiedByID = src.ModifiedBy.ID
	}
	return o
}
