// Package basket implements the persistence-backed order source used for
// customer carts: dirty tracking, storage round-tripping, and the split of
// lines into orderable and unorderable partitions based on current stock.
package basket

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/pricing"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

// Record is the storage form of a basket: header context plus one line
// record per stored line.
type Record struct {
	Codes            []string
	Lines            []source.Record
	CustomerID       string
	OrdererID        string
	ShippingMethodID string
	PaymentMethodID  string
	CustomerComment  string
	// BillingAddress and ShippingAddress hold owned address snapshots;
	// when SharedBillingAddressID / SharedShippingAddressID is set the
	// snapshot is absent and the address is a shared persisted entity.
	BillingAddress          *source.Address
	ShippingAddress         *source.Address
	SharedBillingAddressID  string
	SharedShippingAddressID string
	ShippingData            map[string]any
	PaymentData             map[string]any
	ExtraData               map[string]any
}

// CompatibilityError is returned by Store.Load when a stored basket cannot
// be interpreted by the current engine (schema version drift). The basket
// treats it as an empty basket rather than a failure.
type CompatibilityError struct {
	Key    string
	Reason string
}

func (e *CompatibilityError) Error() string {
	return errors.Errorf("basket %s is not compatible: %s", e.Key, e.Reason).Error()
}

// Store is the external persistence collaborator for baskets. Load returns
// nil for a basket that does not exist yet.
type Store interface {
	Load(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, rec *Record) error
	Delete(ctx context.Context, key string) error
	Finalize(ctx context.Context, key string) error
}

// Basket is an order source whose lines round-trip through a Store and are
// partitioned into orderable and unorderable sets. The processed line
// pipeline only ever sees the orderable partition.
type Basket struct {
	*source.OrderSource

	Key string

	store    Store
	resolver source.CatalogResolver

	dirty  bool
	loaded bool

	orderable   []*source.Line
	unorderable []*source.Line
	byID        map[string]*source.Line
}

// New creates a basket bound to a storage key. Nothing is loaded until the
// first accessor that needs the stored state.
func New(key string, shop *catalog.Shop, env source.Environment, store Store, resolver source.CatalogResolver) *Basket {
	if key == "" {
		key = uuid.New().String()
	}
	b := &Basket{
		OrderSource: source.New(shop, env),
		Key:         key,
		store:       store,
		resolver:    resolver,
		dirty:       true,
	}
	b.SetBaseLines(b.OrderableLines)
	return b
}

// Dirty reports whether the basket has unsaved changes.
func (b *Basket) Dirty() bool { return b.dirty }

// markChanged flags unsaved changes and drops every derived cache,
// including the order source's own.
func (b *Basket) markChanged() {
	b.dirty = true
	b.invalidatePartition()
	b.MarkDirty()
}

func (b *Basket) invalidatePartition() {
	b.orderable = nil
	b.unorderable = nil
	b.byID = nil
}

// Load reads the stored basket state, replacing the in-memory lines and
// context. A missing record leaves the basket empty; a CompatibilityError
// clears it (the stored shape is unusable, not fatal).
func (b *Basket) Load(ctx context.Context) error {
	rec, err := b.store.Load(ctx, b.Key)
	var compat *CompatibilityError
	if errors.As(err, &compat) {
		b.loaded = true
		b.dirty = true
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load basket")
	}
	b.loaded = true
	if rec == nil {
		return nil
	}

	for _, code := range rec.Codes {
		b.AddCode(code)
	}
	b.ShippingMethodID = rec.ShippingMethodID
	b.PaymentMethodID = rec.PaymentMethodID
	b.CustomerComment = rec.CustomerComment
	if rec.CustomerID != "" {
		b.Customer = &source.Contact{ID: rec.CustomerID}
	}
	if rec.OrdererID != "" {
		b.Orderer = &source.Contact{ID: rec.OrdererID}
	}
	// Exactly one representation is active per address slot: a shared
	// reference by id, or an owned snapshot.
	switch {
	case rec.SharedBillingAddressID != "":
		b.BillingAddress = &source.Address{ID: rec.SharedBillingAddressID}
	case rec.BillingAddress != nil:
		b.BillingAddress = rec.BillingAddress
	}
	switch {
	case rec.SharedShippingAddressID != "":
		b.ShippingAddress = &source.Address{ID: rec.SharedShippingAddressID}
	case rec.ShippingAddress != nil:
		b.ShippingAddress = rec.ShippingAddress
	}
	if rec.ShippingData != nil {
		b.ShippingData = rec.ShippingData
	}
	if rec.PaymentData != nil {
		b.PaymentData = rec.PaymentData
	}
	if rec.ExtraData != nil {
		b.ExtraData = rec.ExtraData
	}

	lines := make([]*source.Line, 0, len(rec.Lines))
	for _, lr := range rec.Lines {
		l, err := source.LineFromRecord(ctx, b.OrderSource, b.resolver, lr)
		if err != nil {
			return errors.Wrap(err, "restore basket line")
		}
		lines = append(lines, l)
	}
	b.ReplaceLines(lines)
	b.dirty = false
	b.invalidatePartition()
	return nil
}

func (b *Basket) ensureLoaded(ctx context.Context) error {
	if b.loaded {
		return nil
	}
	return b.Load(ctx)
}

// toRecord snapshots the basket state for storage.
func (b *Basket) toRecord() *Record {
	rec := &Record{
		Codes:            b.Codes(),
		ShippingMethodID: b.ShippingMethodID,
		PaymentMethodID:  b.PaymentMethodID,
		CustomerComment:  b.CustomerComment,
		ShippingData:     b.ShippingData,
		PaymentData:      b.PaymentData,
		ExtraData:        b.ExtraData,
	}
	if b.Customer != nil {
		rec.CustomerID = b.Customer.ID
	}
	if b.Orderer != nil {
		rec.OrdererID = b.Orderer.ID
	}
	if a := b.BillingAddress; a != nil {
		if a.ID != "" {
			rec.SharedBillingAddressID = a.ID
		} else {
			rec.BillingAddress = a
		}
	}
	if a := b.ShippingAddress; a != nil {
		if a.ID != "" {
			rec.SharedShippingAddressID = a.ID
		} else {
			rec.ShippingAddress = a
		}
	}
	for _, l := range b.RawLines() {
		rec.Lines = append(rec.Lines, l.ToRecord())
	}
	return rec
}

// Save persists the basket through the store and clears the dirty flag.
func (b *Basket) Save(ctx context.Context) error {
	if err := b.ensureLoaded(ctx); err != nil {
		return err
	}
	if err := b.store.Save(ctx, b.Key, b.toRecord()); err != nil {
		return errors.Wrap(err, "save basket")
	}
	b.dirty = false
	return nil
}

// Delete removes the stored basket and empties the in-memory state.
func (b *Basket) Delete(ctx context.Context) error {
	if err := b.store.Delete(ctx, b.Key); err != nil {
		return errors.Wrap(err, "delete basket")
	}
	b.ReplaceLines(nil)
	b.ClearCodes()
	b.markChanged()
	return nil
}

// Finalize marks the stored basket as converted into an order.
func (b *Basket) Finalize(ctx context.Context) error {
	if err := b.store.Finalize(ctx, b.Key); err != nil {
		return errors.Wrap(err, "finalize basket")
	}
	b.dirty = false
	return nil
}

// OrderableLines returns the lines that currently pass stock checks; it is
// what the order source pipeline treats as the basket's lines.
func (b *Basket) OrderableLines(ctx context.Context) []*source.Line {
	b.cacheLines(ctx)
	return b.orderable
}

// UnorderableLines returns the lines excluded from ordering by the current
// stock situation, for "removed due to stock" messaging.
func (b *Basket) UnorderableLines(ctx context.Context) []*source.Line {
	b.cacheLines(ctx)
	return b.unorderable
}

// LineByID returns a line of the underlying sequence by its id.
func (b *Basket) LineByID(ctx context.Context, id string) (*source.Line, bool) {
	b.cacheLines(ctx)
	l, ok := b.byID[id]
	return l, ok
}

// cacheLines partitions the raw lines. Quantities of the same product are
// summed across lines for a single stock check, so every line of an
// over-requested product is classified unorderable, not just the later
// ones. A package parent is orderable only if every expanded child is.
func (b *Basket) cacheLines(ctx context.Context) {
	if b.byID != nil {
		return
	}
	oracle := b.Env().Orderability
	customerID := ""
	if b.Customer != nil {
		customerID = b.Customer.ID
	}

	totals := map[string]decimal.Decimal{}
	for _, l := range b.RawLines() {
		if l.IsProductLine() {
			totals[l.Product.ID] = totals[l.Product.ID].Add(l.Quantity)
		}
	}

	verdicts := map[string]bool{}
	orderableProduct := func(l *source.Line) bool {
		pid := l.Product.ID
		if v, ok := verdicts[pid]; ok {
			return v
		}
		supplierID := ""
		if l.Supplier != nil {
			supplierID = l.Supplier.ID
		}
		qty := totals[pid]
		ok := oracle == nil || oracle.IsOrderable(ctx, l.ShopID, supplierID, customerID, l.Product, qty)
		if ok && l.Product.IsPackageParent() && oracle != nil {
			for childID, childQty := range catalog.ExpandPackage(l.Product, qty) {
				child, err := b.resolver.Product(ctx, childID)
				if err != nil || !oracle.IsOrderable(ctx, l.ShopID, supplierID, customerID, child, childQty) {
					ok = false
					break
				}
			}
		}
		verdicts[pid] = ok
		return ok
	}

	b.orderable = nil
	b.unorderable = nil
	b.byID = map[string]*source.Line{}
	for _, l := range b.RawLines() {
		b.byID[l.ID] = l
		if !l.IsProductLine() || orderableProduct(l) {
			b.orderable = append(b.orderable, l)
		} else {
			b.unorderable = append(b.unorderable, l)
		}
	}
}

// AddProductParams carries the input for AddProduct.
type AddProductParams struct {
	Supplier     *catalog.Supplier
	ShopID       string
	Product      *catalog.Product
	Quantity     decimal.Decimal
	UnitPrice    pricing.Amount
	ForceNewLine bool
	Extra        map[string]any
	ParentLine   *source.Line
}
