package catalog

import (
	"github.com/shopspring/decimal"
)

// ExpandPackage maps a package parent's quantity into the quantities of its
// child products: each declared per-unit child quantity multiplied by
// parentQuantity. Only one level is expanded per call; callers chaining
// nested packages expand level by level. A plain product yields an empty map.
//
// The same expansion backs basket orderability checks, assembly child-line
// synthesis, and aggregate product counting, so all three stay consistent.
func ExpandPackage(parent *Product, parentQuantity decimal.Decimal) map[string]decimal.Decimal {
	if parent == nil || len(parent.Children) == 0 {
		return map[string]decimal.Decimal{}
	}
	out := make(map[string]decimal.Decimal, len(parent.Children))
	for childID, perUnit := range parent.Children {
		out[childID] = perUnit.Mul(parentQuantity)
	}
	return out
}
