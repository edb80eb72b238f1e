package basket

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/source"
)

// ErrLineNotFound is returned by line mutations targeting an unknown line id.
var ErrLineNotFound = errors.New("basket line not found")

// AddProduct adds a product to the basket. Unless ForceNewLine is set or a
// parent line is given, it coalesces into an existing line for the same
// product, supplier, and shop whose payload matches every given Extra key,
// accumulating the quantity. Otherwise a new product line is appended.
func (b *Basket) AddProduct(ctx context.Context, params AddProductParams) (*source.Line, error) {
	if err := b.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if params.Product == nil {
		return nil, source.Issue{Code: source.CodeNoProduct, Message: "product is required"}
	}
	if !params.Quantity.IsPositive() {
		return nil, source.Issue{
			Code:      source.CodeInvalidQuantity,
			Message:   "quantity must be positive",
			ProductID: params.Product.ID,
		}
	}
	shopID := params.ShopID
	if shopID == "" {
		shopID = b.Shop.ID
	}

	if !params.ForceNewLine && params.ParentLine == nil {
		if existing := b.findMatchingLine(params, shopID); existing != nil {
			newQty := existing.Quantity.Add(params.Quantity)
			if err := existing.Update(map[string]any{"quantity": newQty}); err != nil {
				return nil, err
			}
			b.markChanged()
			return existing, nil
		}
	}

	spec := source.LineSpec{
		Type:          source.TypeProduct,
		Product:       params.Product,
		Supplier:      params.Supplier,
		ShopID:        shopID,
		Quantity:      params.Quantity,
		BaseUnitPrice: params.UnitPrice,
		Extra:         params.Extra,
	}
	if params.ParentLine != nil {
		spec.ParentID = params.ParentLine.ID
	}
	l, err := b.AddLine(spec)
	if err != nil {
		return nil, err
	}
	b.markChanged()
	return l, nil
}

// findMatchingLine returns the first product line matching the product,
// supplier, and shop whose Extra payload agrees with every key the params
// specify (a partial match: payload keys outside params.Extra are ignored).
func (b *Basket) findMatchingLine(params AddProductParams, shopID string) *source.Line {
	for _, l := range b.RawLines() {
		if !l.IsProductLine() || l.Product.ID != params.Product.ID || l.ShopID != shopID {
			continue
		}
		if (l.Supplier == nil) != (params.Supplier == nil) {
			continue
		}
		if l.Supplier != nil && l.Supplier.ID != params.Supplier.ID {
			continue
		}
		if !extraMatches(l.Extra, params.Extra) {
			continue
		}
		return l
	}
	return nil
}

func extraMatches(have, want map[string]any) bool {
	for k, v := range want {
		if !extraValueEqual(have[k], v) {
			return false
		}
	}
	return true
}

// extraValueEqual compares payload values, matching numbers by value: a
// payload stored with an int comes back from JSON as a decimal.
func extraValueEqual(a, b any) bool {
	da, aok := toDecimal(a)
	db, bok := toDecimal(b)
	if aok && bok {
		return da.Equal(db)
	}
	return a == b
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	}
	return decimal.Decimal{}, false
}

// UpdateLine applies field changes to a line by id, revalidating the line's
// invariants and invalidating the caches.
func (b *Basket) UpdateLine(ctx context.Context, lineID string, changes map[string]any) error {
	if err := b.ensureLoaded(ctx); err != nil {
		return err
	}
	l, ok := b.LineByID(ctx, lineID)
	if !ok {
		return errors.Wrapf(ErrLineNotFound, "line %s", lineID)
	}
	if err := l.Update(changes); err != nil {
		return err
	}
	b.markChanged()
	if l.Quantity.IsZero() {
		b.compact()
	}
	return nil
}

// DeleteLine logically deletes a line by setting its quantity to zero,
// cascades the zero quantity to every line whose parent it is, then compacts
// zero-quantity lines out of the backing sequence.
func (b *Basket) DeleteLine(ctx context.Context, lineID string) error {
	if err := b.ensureLoaded(ctx); err != nil {
		return err
	}
	l, ok := b.LineByID(ctx, lineID)
	if !ok {
		return errors.Wrapf(ErrLineNotFound, "line %s", lineID)
	}
	l.SetQuantity(decimal.Zero)
	for _, child := range b.RawLines() {
		if child.ParentID == lineID {
			child.SetQuantity(decimal.Zero)
		}
	}
	b.markChanged()
	b.compact()
	return nil
}

// compact purges zero-quantity lines from the backing sequence.
func (b *Basket) compact() {
	kept := make([]*source.Line, 0, len(b.RawLines()))
	for _, l := range b.RawLines() {
		if !l.Quantity.IsZero() {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(b.RawLines()) {
		return
	}
	b.ReplaceLines(kept)
	b.dirty = true
	b.invalidatePartition()
}
