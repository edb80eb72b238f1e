package source

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
)

// MethodProvider generates the lines a shipping or payment method
// contributes to an order source and reports why the method may be
// unavailable for it.
type MethodProvider interface {
	Lines(ctx context.Context, src *OrderSource) ([]*Line, error)
	UnavailabilityReasons(ctx context.Context, src *OrderSource) []Issue
}

// Modifier is an order-source-modifier collaborator. It may contribute
// extra lines during final-line computation and owns promotional-code
// semantics: the first modifier that accepts a code records its usage.
type Modifier interface {
	// NewLines returns additional lines given the lines accumulated so far.
	// A modifier must not call back into src's final-line computation.
	NewLines(ctx context.Context, src *OrderSource, linesSoFar []*Line) ([]*Line, error)
	CanUseCode(ctx context.Context, src *OrderSource, code string) bool
	UseCode(ctx context.Context, orderID, code string) error
	ClearCodes(ctx context.Context, orderID string) error
}

// TaxCalculator annotates final lines with tax records. Implementations
// must be idempotent: calling AddTaxes twice on the same calculated state
// yields the same records.
type TaxCalculator interface {
	AddTaxes(ctx context.Context, src *OrderSource, lines []*Line) error
}

// Validator inspects an order source and yields zero or more validation
// issues. Validators collect; they never abort the source.
type Validator interface {
	ValidationErrors(ctx context.Context, src *OrderSource) []Issue
}

// OrderabilityOracle answers whether a (product, supplier, customer,
// quantity) combination is currently purchasable in a shop.
type OrderabilityOracle interface {
	IsOrderable(ctx context.Context, shopID, supplierID, customerID string, product *catalog.Product, quantity decimal.Decimal) bool
	OrderabilityErrors(ctx context.Context, shopID, supplierID, customerID string, product *catalog.Product, quantity decimal.Decimal) []Issue
}

// LineHook is the external post-compute hook invoked after all method and
// modifier lines have been collected; it returns extra lines to append.
type LineHook func(ctx context.Context, src *OrderSource, lines []*Line) ([]*Line, error)

// MethodRegistry resolves shipping and payment method providers by method
// identifier. It is built once at process start and injected into every
// order source (no per-call lookup by string in the engine itself).
type MethodRegistry struct {
	shipping map[string]MethodProvider
	payment  map[string]MethodProvider
}

// NewMethodRegistry returns an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		shipping: map[string]MethodProvider{},
		payment:  map[string]MethodProvider{},
	}
}

// RegisterShipping adds a shipping method provider under the given id.
func (r *MethodRegistry) RegisterShipping(id string, p MethodProvider) {
	r.shipping[id] = p
}

// RegisterPayment adds a payment method provider under the given id.
func (r *MethodRegistry) RegisterPayment(id string, p MethodProvider) {
	r.payment[id] = p
}

// Shipping resolves a shipping method provider.
func (r *MethodRegistry) Shipping(id string) (MethodProvider, bool) {
	p, ok := r.shipping[id]
	return p, ok
}

// Payment resolves a payment method provider.
func (r *MethodRegistry) Payment(id string) (MethodProvider, bool) {
	p, ok := r.payment[id]
	return p, ok
}

// Environment bundles the collaborators an order source computes against.
// All fields are optional; a zero Environment yields a source that only
// ever sees its author lines and never calculates taxes.
type Environment struct {
	Methods      *MethodRegistry
	Modifiers    []Modifier
	Validators   []Validator
	Taxes        TaxCalculator
	PostCompute  LineHook
	Orderability OrderabilityOracle
}
