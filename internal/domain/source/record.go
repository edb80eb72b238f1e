package source

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
)

// Record is the flat storage form of a Line: one key per fixed schema
// field, object references stored as their identifiers, amounts stored as
// bare decimal values (the currency/tax tags are reconstituted from the
// owning source on load), and Extra payload keys merged at the top level.
type Record = map[string]any

// Fixed schema record keys.
const (
	keyLineID              = "line_id"
	keyParentLineID        = "parent_line_id"
	keyType                = "type"
	keyProductID           = "product_id"
	keySupplierID          = "supplier_id"
	keyShopID              = "shop_id"
	keyQuantity            = "quantity"
	keyBaseUnitPrice       = "base_unit_price"
	keyDiscountAmount      = "discount_amount"
	keySKU                 = "sku"
	keyText                = "text"
	keyTaxClassID          = "tax_class_id"
	keyRequireVerification = "require_verification"
	keyProvenance          = "provenance"
	keyOnParentChange      = "on_parent_change"
)

// isSchemaKey reports whether key belongs to the fixed line schema (as
// opposed to the free-form payload).
func isSchemaKey(key string) bool {
	switch key {
	case keyLineID, keyParentLineID, keyType, keyProductID, keySupplierID,
		keyShopID, keyQuantity, keyBaseUnitPrice, keyDiscountAmount,
		keySKU, keyText, keyTaxClassID, keyRequireVerification,
		keyProvenance, keyOnParentChange:
		return true
	}
	return false
}

// CatalogResolver resolves stored product and supplier identifiers back to
// catalog entities when loading line records.
type CatalogResolver interface {
	Product(ctx context.Context, id string) (*catalog.Product, error)
	Supplier(ctx context.Context, id string) (*catalog.Supplier, error)
}

// ToRecord flattens the line into its storage record. Taxes are not part of
// the record: they are recalculated after load.
func (l *Line) ToRecord() Record {
	rec := Record{
		keyLineID:              l.ID,
		keyParentLineID:        l.ParentID,
		keyType:                string(l.Type),
		keyProductID:           "",
		keySupplierID:          "",
		keyShopID:              l.ShopID,
		keyQuantity:            l.Quantity,
		keyBaseUnitPrice:       l.BaseUnitPrice.Value(),
		keyDiscountAmount:      l.DiscountAmount.Value(),
		keySKU:                 l.SKU,
		keyText:                l.Text,
		keyTaxClassID:          l.TaxClassID,
		keyRequireVerification: l.RequireVerification,
		keyProvenance:          string(l.Provenance),
		keyOnParentChange:      string(l.OnParentChange),
	}
	if l.Product != nil {
		rec[keyProductID] = l.Product.ID
	}
	if l.Supplier != nil {
		rec[keySupplierID] = l.Supplier.ID
	}
	for k, v := range l.Extra {
		if !isSchemaKey(k) {
			rec[k] = v
		}
	}
	return rec
}

// LineFromRecord rebuilds a Line from its storage record. Object references
// are resolved through the catalog resolver and amount values re-tagged
// from the owning source's zero-price template, so that
// LineFromRecord(ToRecord(l)) is field-for-field equal to l.
func LineFromRecord(ctx context.Context, src *OrderSource, res CatalogResolver, rec Record) (*Line, error) {
	spec := LineSpec{
		ID:                  recString(rec, keyLineID),
		ParentID:            recString(rec, keyParentLineID),
		Type:                LineType(recString(rec, keyType)),
		ShopID:              recString(rec, keyShopID),
		SKU:                 recString(rec, keySKU),
		Text:                recString(rec, keyText),
		TaxClassID:          recString(rec, keyTaxClassID),
		RequireVerification: recBool(rec, keyRequireVerification),
		Provenance:          Provenance(recString(rec, keyProvenance)),
		OnParentChange:      OnParentChange(recString(rec, keyOnParentChange)),
	}

	if id := recString(rec, keyProductID); id != "" {
		p, err := res.Product(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve product %s", id)
		}
		spec.Product = p
	}
	if id := recString(rec, keySupplierID); id != "" {
		s, err := res.Supplier(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve supplier %s", id)
		}
		spec.Supplier = s
	}

	quantity, err := recDecimal(rec, keyQuantity)
	if err != nil {
		return nil, err
	}
	spec.Quantity = quantity

	base, err := recDecimal(rec, keyBaseUnitPrice)
	if err != nil {
		return nil, err
	}
	discount, err := recDecimal(rec, keyDiscountAmount)
	if err != nil {
		return nil, err
	}
	zero := src.ZeroPrice()
	spec.BaseUnitPrice = zero.WithValue(base)
	spec.DiscountAmount = zero.WithValue(discount)

	extra := map[string]any{}
	for k, v := range rec {
		if !isSchemaKey(k) {
			extra[k] = v
		}
	}
	spec.Extra = extra

	return NewLine(spec)
}

func recString(rec Record, key string) string {
	s, _ := rec[key].(string)
	return s
}

func recBool(rec Record, key string) bool {
	b, _ := rec[key].(bool)
	return b
}

func recDecimal(rec Record, key string) (decimal.Decimal, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return decimal.Zero, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "record field %s", key)
	}
	return d, nil
}
