package assembly

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MissingSupplierError reports a product line that reached assembly without a
// resolved supplier. This is an invariant violation, not a validation issue.
type MissingSupplierError struct {
	LineID    string
	ProductID string
}

func (e *MissingSupplierError) Error() string {
	return fmt.Sprintf("line %s (product %s) has no supplier", e.LineID, e.ProductID)
}

// ChildUnavailableError reports a package child that could not be resolved or
// is not orderable at the expanded quantity. Assembly fails rather than emit
// an under-priced order.
type ChildUnavailableError struct {
	ParentProductID string
	ChildProductID  string
	Quantity        decimal.Decimal
}

func (e *ChildUnavailableError) Error() string {
	return fmt.Sprintf("package %s: child product %s unavailable at quantity %s",
		e.ParentProductID, e.ChildProductID, e.Quantity)
}

// OrderNotFoundError reports an update against an order id with no persisted
// state.
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}
