package assembly

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/source"
)

// Order is the persisted form of an OrderSource: a header plus a flat set of
// persisted lines with stable ordering indices.
type Order struct {
	ID               string
	ShopID           string
	Currency         string
	PricesIncludeTax bool

	CustomerID   string
	OrdererID    string
	CreatorID    string
	ModifiedByID string
	CreatorIP    string
	CreatedAt    time.Time

	BillingAddress  *source.Address
	ShippingAddress *source.Address

	ShippingMethodID string
	PaymentMethodID  string
	CustomerComment  string

	// RequireVerification is set when any persisted line requires manual
	// review; AllVerified is its negation until an operator flips it.
	RequireVerification bool
	AllVerified         bool

	TaxfulTotal  decimal.Decimal
	TaxlessTotal decimal.Decimal

	Codes []string
	Lines []*OrderLine

	PaymentData  map[string]any
	ShippingData map[string]any
	ExtraData    map[string]any
}

// OrderLine is one persisted order line. Synthesized package-child lines have
// a nil originating source line and carry no taxes.
type OrderLine struct {
	ID       string
	OrderID  string
	ParentID string
	Ordering int

	Type       source.LineType
	ProductID  string
	SupplierID string
	ShopID     string
	SKU        string
	Text       string

	Quantity       decimal.Decimal
	BaseUnitPrice  decimal.Decimal
	DiscountAmount decimal.Decimal

	TaxClassID          string
	RequireVerification bool
	Provenance          source.Provenance
	Extra               map[string]any
	Taxes               []LineTax

	src *source.Line
}

// LineTax is one tax record attached to a persisted line.
type LineTax struct {
	TaxID     string
	Name      string
	Rate      decimal.Decimal
	BaseValue decimal.Decimal
	TaxValue  decimal.Decimal
}

// Tx is the set of persistence operations assembly performs inside a single
// transaction. Implementations map it onto one database transaction; none of
// the writes may become visible unless the whole assembly succeeds.
type Tx interface {
	LoadOrder(ctx context.Context, orderID string) (*Order, error)
	SaveOrder(ctx context.Context, o *Order) error
	UpdateOrder(ctx context.Context, o *Order) error
	SaveLines(ctx context.Context, lines []*OrderLine) error
	SaveLineTaxes(ctx context.Context, lineID string, taxes []LineTax) error
	// DeleteLines removes every line of the order, cascading through tax
	// records, and returns the removed lines for stock reconciliation.
	DeleteLines(ctx context.Context, orderID string) ([]*OrderLine, error)
}

// Repository opens the transaction boundary assembly runs in.
type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// StockReconciler restores availability bookkeeping for products dropped from
// an order during update.
type StockReconciler interface {
	ReconcileStock(ctx context.Context, shopID, productID string) error
}

// CustomerReconciler backfills the customer's stored profile from an order
// when the stored fields are unset.
type CustomerReconciler interface {
	ReconcileCustomer(ctx context.Context, customerID string, o *Order) error
}
