package source

import (
	"context"

	"github.com/xenking/checkout-engine/internal/domain/pricing"
)

// moneyPlaces is the number of decimal places a line-level money figure is
// rounded to before summation. Totals are sums of per-line rounded values,
// not a single end-rounded grand total: this is what makes a persisted
// order's stored total match the sum of its stored line totals exactly.
// Two logically equal totals computed over different line groupings may
// therefore differ by one minimum unit; that is inherent to the policy.
const moneyPlaces = 2

// TotalPrice returns the sum of all final line totals in the source's
// native tax mode.
func (s *OrderSource) TotalPrice(ctx context.Context) (pricing.Amount, error) {
	return s.totalIn(ctx, s.priceTaxMode(), false)
}

// TaxfulTotalPrice returns the tax-inclusive total of all final lines.
// When prices are natively taxless this needs calculated taxes.
func (s *OrderSource) TaxfulTotalPrice(ctx context.Context) (pricing.Amount, error) {
	return s.totalIn(ctx, pricing.Taxful, false)
}

// TaxlessTotalPrice returns the tax-exclusive total of all final lines.
// When prices are natively taxful this needs calculated taxes.
func (s *OrderSource) TaxlessTotalPrice(ctx context.Context) (pricing.Amount, error) {
	return s.totalIn(ctx, pricing.Taxless, false)
}

// TotalPriceOfProducts is TotalPrice restricted to product lines.
func (s *OrderSource) TotalPriceOfProducts(ctx context.Context) (pricing.Amount, error) {
	return s.totalIn(ctx, s.priceTaxMode(), true)
}

// TaxfulTotalPriceOfProducts is TaxfulTotalPrice restricted to product lines.
func (s *OrderSource) TaxfulTotalPriceOfProducts(ctx context.Context) (pricing.Amount, error) {
	return s.totalIn(ctx, pricing.Taxful, true)
}

// TaxlessTotalPriceOfProducts is TaxlessTotalPrice restricted to product lines.
func (s *OrderSource) TaxlessTotalPriceOfProducts(ctx context.Context) (pricing.Amount, error) {
	return s.totalIn(ctx, pricing.Taxless, true)
}

// totalIn sums the final lines in the requested tax mode, seeded from a
// zero amount with the matching tag. Requesting the mode the source's
// prices are not natively in requires calculated taxes and fails with
// ErrTaxesNotCalculated when they are unavailable.
func (s *OrderSource) totalIn(ctx context.Context, mode pricing.TaxMode, productsOnly bool) (pricing.Amount, error) {
	lines, err := s.FinalLines(ctx, false)
	if err != nil {
		return pricing.Amount{}, err
	}
	if mode != s.priceTaxMode() {
		if err := s.CalculateTaxesOrFail(ctx); err != nil {
			return pricing.Amount{}, err
		}
	}

	sum := pricing.Zero(s.Currency, mode)
	for _, l := range lines {
		if productsOnly && !l.IsProductLine() {
			continue
		}
		lineTotal := s.lineTotalIn(l, mode).Quantize(moneyPlaces)
		sum, err = sum.Add(lineTotal)
		if err != nil {
			return pricing.Amount{}, err
		}
	}
	return sum, nil
}

// lineTotalIn converts a line's total into the requested tax mode using the
// line's attached tax records. Callers guarantee taxes are calculated when
// a conversion is actually needed.
func (s *OrderSource) lineTotalIn(l *Line, mode pricing.TaxMode) pricing.Amount {
	total := l.Total()
	if total.TaxMode() == mode {
		return total
	}
	taxSum := l.TaxSum()
	switch mode {
	case pricing.Taxful:
		return pricing.New(total.Value().Add(taxSum), total.Currency(), pricing.Taxful)
	case pricing.Taxless:
		return pricing.New(total.Value().Sub(taxSum), total.Currency(), pricing.Taxless)
	default:
		return total.WithTaxMode(mode)
	}
}
