package source

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
)

// MinimumTotalValidator yields OrderTotalTooLow when the source's taxful
// total is below the shop's configured minimum order total.
type MinimumTotalValidator struct{}

var _ Validator = MinimumTotalValidator{}

// ValidationErrors implements Validator.
func (MinimumTotalValidator) ValidationErrors(ctx context.Context, s *OrderSource) []Issue {
	minimum := s.Shop.MinimumOrderTotal
	if !minimum.IsPositive() {
		return nil
	}
	total, err := s.TaxfulTotalPrice(ctx)
	if errors.Is(err, ErrTaxesNotCalculated) {
		// Taxes are deliberately unknown; compare against the native total.
		total, err = s.TotalPrice(ctx)
	}
	if err != nil {
		return []Issue{NewIssue(CodeOrderTotalTooLow, "could not compute order total: %v", err)}
	}
	if total.Value().LessThan(minimum) {
		return []Issue{NewIssue(CodeOrderTotalTooLow,
			"order total %s %s is below the minimum of %s %s",
			total.Value(), s.Currency, minimum, s.Currency)}
	}
	return nil
}

// MethodAvailabilityValidator yields NoCommonShipping/NoCommonPayment when
// a selected method is unknown to the registry or reports itself
// unavailable for the source.
type MethodAvailabilityValidator struct{}

var _ Validator = MethodAvailabilityValidator{}

// ValidationErrors implements Validator.
func (MethodAvailabilityValidator) ValidationErrors(ctx context.Context, s *OrderSource) []Issue {
	registry := s.Env().Methods
	var issues []Issue

	if s.ShippingMethodID != "" {
		if registry == nil {
			issues = append(issues, NewIssue(CodeNoCommonShipping,
				"shipping method %s is not available", s.ShippingMethodID))
		} else if p, ok := registry.Shipping(s.ShippingMethodID); !ok {
			issues = append(issues, NewIssue(CodeNoCommonShipping,
				"shipping method %s is not available", s.ShippingMethodID))
		} else {
			issues = append(issues, p.UnavailabilityReasons(ctx, s)...)
		}
	}
	if s.PaymentMethodID != "" {
		if registry == nil {
			issues = append(issues, NewIssue(CodeNoCommonPayment,
				"payment method %s is not available", s.PaymentMethodID))
		} else if p, ok := registry.Payment(s.PaymentMethodID); !ok {
			issues = append(issues, NewIssue(CodeNoCommonPayment,
				"payment method %s is not available", s.PaymentMethodID))
		} else {
			issues = append(issues, p.UnavailabilityReasons(ctx, s)...)
		}
	}
	return issues
}

// SupplierOrderabilityValidator asks the orderability oracle about every
// product line at the summed per-product quantity, including package
// children at their expanded quantities.
type SupplierOrderabilityValidator struct {
	Resolver CatalogResolver
}

var _ Validator = SupplierOrderabilityValidator{}

// ValidationErrors implements Validator.
func (v SupplierOrderabilityValidator) ValidationErrors(ctx context.Context, s *OrderSource) []Issue {
	oracle := s.Env().Orderability
	if oracle == nil {
		return nil
	}
	customerID := ""
	if s.Customer != nil {
		customerID = s.Customer.ID
	}

	var issues []Issue
	// Summed quantity per product: the same product on several lines gets
	// a single stock check at the combined quantity.
	counts := map[string]decimal.Decimal{}
	for _, l := range s.Lines(ctx) {
		if !l.IsProductLine() {
			continue
		}
		counts[l.Product.ID] = counts[l.Product.ID].Add(l.Quantity)
	}
	seen := map[string]bool{}
	for _, l := range s.Lines(ctx) {
		if !l.IsProductLine() || seen[l.Product.ID] {
			continue
		}
		seen[l.Product.ID] = true
		supplierID := ""
		if l.Supplier != nil {
			supplierID = l.Supplier.ID
		}
		total := counts[l.Product.ID]
		issues = append(issues,
			oracle.OrderabilityErrors(ctx, l.ShopID, supplierID, customerID, l.Product, total)...)

		// Package children are checked at their expanded quantities.
		for childID, childQty := range catalog.ExpandPackage(l.Product, total) {
			child, err := v.Resolver.Product(ctx, childID)
			if err != nil {
				issues = append(issues, Issue{
					Code:      CodeNoProduct,
					Message:   "package child product could not be resolved",
					ProductID: childID,
				})
				continue
			}
			issues = append(issues,
				oracle.OrderabilityErrors(ctx, l.ShopID, supplierID, customerID, child, childQty)...)
		}
	}
	return issues
}
