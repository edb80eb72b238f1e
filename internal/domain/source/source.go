// Package source implements the mutable order-source aggregate: the ordered
// line model, cached final-line computation, deferred tax calculation, and
// the collaborator contracts (methods, modifiers, validators, taxes) that
// extend it. An order source is the in-memory preview of a future order;
// baskets and admin order drafts are both order sources.
package source

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/pricing"
)

// Address is a billing or shipping address. It is either a shared reference
// to a persisted address (ID set) or an owned transient snapshot.
type Address struct {
	ID         string
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Contact identifies a customer, orderer, or staff contact.
type Contact struct {
	ID        string
	Name      string
	Email     string
	IsCompany bool
}

// OrderSource is the aggregate that owns an ordered list of lines plus the
// shop/customer/address/method/code context around them. It exposes a
// cached, lazily computed final line list and a deferred tax-calculation
// step. It is owned by a single logical unit of work and is not safe for
// concurrent mutation.
type OrderSource struct {
	Shop             *catalog.Shop
	Currency         string
	PricesIncludeTax bool

	BillingAddress  *Address
	ShippingAddress *Address
	Customer        *Contact
	Orderer         *Contact
	Creator         *Contact
	ModifiedBy      *Contact

	ShippingMethodID string
	PaymentMethodID  string
	CustomerComment  string
	CreatorIP        string

	PaymentData  map[string]any
	ShippingData map[string]any
	ExtraData    map[string]any

	env           Environment
	autoCalcTaxes bool

	codes []string
	lines []*Line

	// baseLines yields the lines the processed pipeline starts from.
	// Basket overrides it with its orderable partition.
	baseLines func(ctx context.Context) []*Line

	finalLines      []*Line
	finalComputed   bool
	taxesCalculated bool
	computing       bool
}

// New creates an order source for the given shop, wired to the given
// collaborators. Currency and tax-inclusion mode are taken from the shop;
// automatic tax calculation is enabled by default.
func New(shop *catalog.Shop, env Environment) *OrderSource {
	s := &OrderSource{
		Shop:             shop,
		Currency:         shop.Currency,
		PricesIncludeTax: shop.PricesIncludeTax,
		PaymentData:      map[string]any{},
		ShippingData:     map[string]any{},
		ExtraData:        map[string]any{},
		env:              env,
		autoCalcTaxes:    true,
	}
	s.baseLines = func(context.Context) []*Line { return s.lines }
	return s
}

// Env returns the collaborator environment the source was built with.
func (s *OrderSource) Env() Environment { return s.env }

// SetAutoCalculateTaxes toggles automatic tax calculation. When disabled,
// accessors that need tax state fail with ErrTaxesNotCalculated instead of
// calculating implicitly.
func (s *OrderSource) SetAutoCalculateTaxes(enabled bool) {
	s.autoCalcTaxes = enabled
}

// SetBaseLines overrides the line set the final-line pipeline starts from.
// Used by Basket to substitute its orderable partition.
func (s *OrderSource) SetBaseLines(fn func(ctx context.Context) []*Line) {
	s.baseLines = fn
}

// priceTaxMode returns the tax mode of natively priced amounts.
func (s *OrderSource) priceTaxMode() pricing.TaxMode {
	if s.PricesIncludeTax {
		return pricing.Taxful
	}
	return pricing.Taxless
}

// ZeroPrice returns a zero amount in the source's currency and native tax
// mode. It is the template for re-tagging stored bare decimals.
func (s *OrderSource) ZeroPrice() pricing.Amount {
	return pricing.Zero(s.Currency, s.priceTaxMode())
}

// MarkDirty invalidates the final-line cache and the taxes-calculated flag.
// Every mutating operation, including ones added by specializations such as
// Basket, must route through it.
func (s *OrderSource) MarkDirty() {
	s.finalLines = nil
	s.finalComputed = false
	s.taxesCalculated = false
}

// AddLine constructs a line from the spec, appends it, and invalidates the
// caches. The line's shop defaults to the source's shop.
func (s *OrderSource) AddLine(spec LineSpec) (*Line, error) {
	if spec.ShopID == "" {
		spec.ShopID = s.Shop.ID
	}
	l, err := NewLine(spec)
	if err != nil {
		return nil, err
	}
	s.lines = append(s.lines, l)
	s.MarkDirty()
	return l, nil
}

// Lines returns the author-supplied lines the processed pipeline starts
// from. For a plain order source this is the raw line list; a basket
// substitutes its orderable partition.
func (s *OrderSource) Lines(ctx context.Context) []*Line {
	return s.baseLines(ctx)
}

// RawLines returns the unpartitioned underlying line sequence in insertion
// order.
func (s *OrderSource) RawLines() []*Line {
	return s.lines
}

// ReplaceLines swaps the underlying line sequence, invalidating the caches.
// Used by compaction to purge zero-quantity lines.
func (s *OrderSource) ReplaceLines(lines []*Line) {
	s.lines = lines
	s.MarkDirty()
}

// ParentLine resolves a line's parent reference against the lines appearing
// before it in the raw sequence. A dangling reference is a fatal
// inconsistency, not a silent nil.
func (s *OrderSource) ParentLine(child *Line) (*Line, error) {
	if child.ParentID == "" {
		return nil, nil
	}
	for _, l := range s.lines {
		if l == child {
			break
		}
		if l.ID == child.ParentID {
			return l, nil
		}
	}
	return nil, &UnresolvedParentLineError{LineID: child.ID, ParentID: child.ParentID}
}

// Codes returns the promotional codes in insertion order.
func (s *OrderSource) Codes() []string {
	return slices.Clone(s.codes)
}

// AddCode adds a promotional code, keeping the set free of case-insensitive
// duplicates. It reports whether the state changed and invalidates the
// caches when it did.
func (s *OrderSource) AddCode(code string) bool {
	if s.hasCode(code) {
		return false
	}
	s.codes = append(s.codes, code)
	s.MarkDirty()
	return true
}

// RemoveCode removes a promotional code (case-insensitive) and reports
// whether the state changed.
func (s *OrderSource) RemoveCode(code string) bool {
	for i, c := range s.codes {
		if strings.EqualFold(c, code) {
			s.codes = append(s.codes[:i], s.codes[i+1:]...)
			s.MarkDirty()
			return true
		}
	}
	return false
}

// ClearCodes removes every promotional code and reports whether the state
// changed.
func (s *OrderSource) ClearCodes() bool {
	if len(s.codes) == 0 {
		return false
	}
	s.codes = nil
	s.MarkDirty()
	return true
}

func (s *OrderSource) hasCode(code string) bool {
	for _, c := range s.codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// FinalLines returns the processed line list: author lines, then lines
// generated by the configured shipping and payment methods, then lines
// contributed by each registered modifier in registration order, then lines
// from the post-compute hook. The result is computed at most once per cache
// generation.
//
// The computation is non-reentrant: a nested invocation on the same
// instance panics with ReentrantComputationError, because it means a
// collaborator tried to recompute the very lines it is being asked to
// extend.
//
// With withTaxes set, taxes are calculated before returning (subject to the
// auto-calculation setting).
func (s *OrderSource) FinalLines(ctx context.Context, withTaxes bool) ([]*Line, error) {
	if !s.finalComputed {
		lines, err := s.computeProcessedLines(ctx)
		if err != nil {
			return nil, err
		}
		s.finalLines = lines
		s.finalComputed = true
	}
	if withTaxes && !s.taxesCalculated {
		if err := s.CalculateTaxesOrFail(ctx); err != nil {
			return nil, err
		}
	}
	return s.finalLines, nil
}

func (s *OrderSource) computeProcessedLines(ctx context.Context) ([]*Line, error) {
	if s.computing {
		panic(ReentrantComputationError{})
	}
	s.computing = true
	defer func() { s.computing = false }()

	lines := slices.Clone(s.Lines(ctx))

	if s.ShippingMethodID != "" && s.env.Methods != nil {
		if p, ok := s.env.Methods.Shipping(s.ShippingMethodID); ok {
			generated, err := p.Lines(ctx, s)
			if err != nil {
				return nil, errors.Wrap(err, "shipping method lines")
			}
			lines = append(lines, generated...)
		}
	}
	if s.PaymentMethodID != "" && s.env.Methods != nil {
		if p, ok := s.env.Methods.Payment(s.PaymentMethodID); ok {
			generated, err := p.Lines(ctx, s)
			if err != nil {
				return nil, errors.Wrap(err, "payment method lines")
			}
			lines = append(lines, generated...)
		}
	}

	for _, m := range s.env.Modifiers {
		contributed, err := m.NewLines(ctx, s, lines)
		if err != nil {
			return nil, errors.Wrap(err, "modifier lines")
		}
		lines = append(lines, contributed...)
	}

	if s.env.PostCompute != nil {
		extra, err := s.env.PostCompute(ctx, s, lines)
		if err != nil {
			return nil, errors.Wrap(err, "post-compute lines")
		}
		lines = append(lines, extra...)
	}

	return lines, nil
}

// CalculateTaxes delegates to the tax calculator to annotate every final
// line with its tax records, unless taxes are already calculated and force
// is unset. The second call on unchanged state is a no-op and does not
// reach the calculator.
func (s *OrderSource) CalculateTaxes(ctx context.Context, force bool) error {
	if s.taxesCalculated && !force {
		return nil
	}
	lines, err := s.FinalLines(ctx, false)
	if err != nil {
		return err
	}
	if s.env.Taxes != nil {
		if err := s.env.Taxes.AddTaxes(ctx, s, lines); err != nil {
			return errors.Wrap(err, "calculate taxes")
		}
	}
	s.taxesCalculated = true
	return nil
}

// CalculateTaxesOrFail calculates taxes when automatic calculation is
// enabled; otherwise it fails with ErrTaxesNotCalculated so that dependent
// accessors fail loudly rather than produce a figure under an unintended
// tax state.
func (s *OrderSource) CalculateTaxesOrFail(ctx context.Context) error {
	if s.taxesCalculated {
		return nil
	}
	if !s.autoCalcTaxes {
		return ErrTaxesNotCalculated
	}
	return s.CalculateTaxes(ctx, false)
}

// TaxesCalculated reports whether tax records on the final lines are
// current.
func (s *OrderSource) TaxesCalculated() bool { return s.taxesCalculated }

// ValidationErrors collects the issues from every registered validator. It
// never aborts; escalation is the caller's decision.
func (s *OrderSource) ValidationErrors(ctx context.Context) []Issue {
	var issues []Issue
	for _, v := range s.env.Validators {
		issues = append(issues, v.ValidationErrors(ctx, s)...)
	}
	return issues
}

// VerifyOrderability fails with the first validation issue, if any.
func (s *OrderSource) VerifyOrderability(ctx context.Context) error {
	for _, issue := range s.ValidationErrors(ctx) {
		return issue
	}
	return nil
}

// ProductQuantities aggregates the total ordered quantity per product
// across the given lines, counting package children via package expansion.
func ProductQuantities(lines []*Line) map[string]decimal.Decimal {
	quantities := map[string]decimal.Decimal{}
	for _, l := range lines {
		if !l.IsProductLine() {
			continue
		}
		quantities[l.Product.ID] = quantities[l.Product.ID].Add(l.Quantity)
		for childID, qty := range catalog.ExpandPackage(l.Product, l.Quantity) {
			quantities[childID] = quantities[childID].Add(qty)
		}
	}
	return quantities
}
