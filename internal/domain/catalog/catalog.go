// Package catalog holds the static commerce entities the checkout engine
// prices against: shops, suppliers, products, and the package-product
// child map.
package catalog

import (
	"github.com/shopspring/decimal"
)

// Shop scopes a storefront: its currency and tax-inclusion mode determine
// the price tags of every amount computed for it.
type Shop struct {
	ID               string
	Name             string
	Currency         string
	PricesIncludeTax bool
	// MinimumOrderTotal is the smallest accepted order total in the shop
	// currency; zero disables the check.
	MinimumOrderTotal decimal.Decimal
}

// Supplier is the party that fulfils product lines.
type Supplier struct {
	ID   string
	Name string
}

// SalesUnit describes how a product's quantity is measured. Decimals is the
// number of fractional digits the unit allows; zero means integer-only
// quantities (pieces).
type SalesUnit struct {
	Symbol   string
	Decimals int32
}

// AllowFractions reports whether quantities in this unit may be fractional.
func (u SalesUnit) AllowFractions() bool { return u.Decimals > 0 }

// Product is a catalog item. A product with a non-empty Children map is a
// package parent: ordering one unit of it implicitly orders the mapped
// per-unit quantity of every child product at zero additional price.
type Product struct {
	ID         string
	SKU        string
	Name       string
	TaxClassID string
	Unit       SalesUnit
	// Children maps child product ID to the quantity included per one unit
	// of this product. Nil for plain products.
	Children map[string]decimal.Decimal
}

// IsPackageParent reports whether the product declares package children.
func (p *Product) IsPackageParent() bool { return len(p.Children) > 0 }
