// Package tax provides the default tax calculator: per-shop rates looked up
// by tax class and attached to final lines as tax records.
package tax

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/source"
)

// Rate is one tax rate applicable to a tax class, expressed as a fraction
// (0.24 for 24%).
type Rate struct {
	ID         string
	Name       string
	TaxClassID string
	Rate       decimal.Decimal
}

// RateSource resolves the rates applicable to a tax class in a shop.
type RateSource interface {
	RatesForClass(ctx context.Context, shopID, taxClassID string) ([]Rate, error)
}

var _ source.TaxCalculator = (*Calculator)(nil)

// Calculator attaches tax records to product and method lines. It is
// idempotent: each run replaces the line's records wholesale.
type Calculator struct {
	rates RateSource
}

// NewCalculator creates a calculator over the given rate source.
func NewCalculator(rates RateSource) *Calculator {
	return &Calculator{rates: rates}
}

// AddTaxes implements source.TaxCalculator. For tax-inclusive prices the tax
// is extracted out of the line total; for tax-exclusive prices it is added on
// top. With multiple rates on one class, each record gets its proportional
// share of the combined tax.
func (c *Calculator) AddTaxes(ctx context.Context, src *source.OrderSource, lines []*source.Line) error {
	shopID := ""
	if src.Shop != nil {
		shopID = src.Shop.ID
	}

	for _, l := range lines {
		l.Taxes = nil
		if l.TaxClassID == "" {
			continue
		}

		rates, err := c.rates.RatesForClass(ctx, shopID, l.TaxClassID)
		if err != nil {
			return errors.Wrapf(err, "rates for class %q", l.TaxClassID)
		}
		if len(rates) == 0 {
			continue
		}

		total := l.Total().Value()

		combined := decimal.Zero
		for _, r := range rates {
			combined = combined.Add(r.Rate)
		}

		var taxTotal decimal.Decimal
		if src.PricesIncludeTax {
			taxTotal = total.Mul(combined).Div(combined.Add(decimal.NewFromInt(1)))
		} else {
			taxTotal = total.Mul(combined)
		}
		taxTotal = taxTotal.Round(2)

		var base decimal.Decimal
		if src.PricesIncludeTax {
			base = total.Sub(taxTotal)
		} else {
			base = total
		}

		records := make([]source.TaxRecord, 0, len(rates))
		allocated := decimal.Zero
		for i, r := range rates {
			var share decimal.Decimal
			if i == len(rates)-1 {
				// The last record absorbs the rounding remainder so that the
				// shares sum exactly to the extracted tax.
				share = taxTotal.Sub(allocated)
			} else {
				share = taxTotal.Mul(r.Rate).Div(combined).Round(2)
				allocated = allocated.Add(share)
			}
			records = append(records, source.TaxRecord{
				TaxID:     r.ID,
				Name:      r.Name,
				Rate:      r.Rate,
				BaseValue: base,
				TaxValue:  share,
			})
		}
		l.Taxes = records
	}
	return nil
}

// StaticRates is a RateSource backed by an in-memory table, keyed by tax
// class. Useful for tests and single-jurisdiction deployments.
type StaticRates map[string][]Rate

var _ RateSource = StaticRates{}

// RatesForClass implements RateSource.
func (s StaticRates) RatesForClass(_ context.Context, _ string, taxClassID string) ([]Rate, error) {
	return s[taxClassID], nil
}
