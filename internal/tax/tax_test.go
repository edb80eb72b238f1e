package tax

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-engine/internal/domain/catalog"
	"github.com/xenking/checkout-engine/internal/domain/pricing"
	"github.com/xenking/checkout-engine/internal/domain/source"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newSource(pricesIncludeTax bool) *source.OrderSource {
	return source.New(&catalog.Shop{
		ID:               "shop1",
		Currency:         "EUR",
		PricesIncludeTax: pricesIncludeTax,
	}, source.Environment{})
}

func productLine(t *testing.T, src *source.OrderSource, price string, qty int64, taxClass string) *source.Line {
	t.Helper()
	mode := pricing.Taxless
	if src.PricesIncludeTax {
		mode = pricing.Taxful
	}
	l, err := source.NewLine(source.LineSpec{
		Type: source.TypeProduct,
		Product: &catalog.Product{
			ID:         "p1",
			SKU:        "SKU-1",
			Name:       "Product",
			TaxClassID: taxClass,
			Unit:       catalog.SalesUnit{Symbol: "pcs"},
		},
		Supplier:      &catalog.Supplier{ID: "sup1"},
		ShopID:        "shop1",
		Quantity:      decimal.NewFromInt(qty),
		BaseUnitPrice: pricing.New(d(price), "EUR", mode),
	})
	require.NoError(t, err)
	return l
}

func TestAddTaxes_TaxInclusive(t *testing.T) {
	src := newSource(true)
	l := productLine(t, src, "12.50", 2, "standard")
	calc := NewCalculator(StaticRates{
		"standard": {{ID: "vat24", Name: "VAT 24%", Rate: d("0.24")}},
	})

	require.NoError(t, calc.AddTaxes(context.Background(), src, []*source.Line{l}))

	require.Len(t, l.Taxes, 1)
	rec := l.Taxes[0]
	// 25.00 inclusive at 24%: tax = 25 * 0.24/1.24 = 4.84.
	assert.True(t, d("4.84").Equal(rec.TaxValue), "got %s", rec.TaxValue)
	assert.True(t, d("20.16").Equal(rec.BaseValue), "got %s", rec.BaseValue)
}

func TestAddTaxes_TaxExclusive(t *testing.T) {
	src := newSource(false)
	l := productLine(t, src, "10.00", 1, "standard")
	calc := NewCalculator(StaticRates{
		"standard": {{ID: "vat24", Name: "VAT 24%", Rate: d("0.24")}},
	})

	require.NoError(t, calc.AddTaxes(context.Background(), src, []*source.Line{l}))

	require.Len(t, l.Taxes, 1)
	assert.True(t, d("2.40").Equal(l.Taxes[0].TaxValue))
	assert.True(t, d("10.00").Equal(l.Taxes[0].BaseValue))
}

func TestAddTaxes_MultipleRatesSumExactly(t *testing.T) {
	src := newSource(false)
	l := productLine(t, src, "10.00", 1, "split")
	calc := NewCalculator(StaticRates{
		"split": {
			{ID: "state", Name: "State", Rate: d("0.07")},
			{ID: "city", Name: "City", Rate: d("0.018")},
		},
	})

	require.NoError(t, calc.AddTaxes(context.Background(), src, []*source.Line{l}))

	require.Len(t, l.Taxes, 2)
	sum := decimal.Zero
	for _, rec := range l.Taxes {
		sum = sum.Add(rec.TaxValue)
	}
	// 10.00 * 0.088 = 0.88, split without a rounding leak.
	assert.True(t, d("0.88").Equal(sum), "got %s", sum)
}

func TestAddTaxes_Idempotent(t *testing.T) {
	src := newSource(true)
	l := productLine(t, src, "10.00", 1, "standard")
	calc := NewCalculator(StaticRates{
		"standard": {{ID: "vat24", Name: "VAT 24%", Rate: d("0.24")}},
	})

	require.NoError(t, calc.AddTaxes(context.Background(), src, []*source.Line{l}))
	first := l.Taxes
	require.NoError(t, calc.AddTaxes(context.Background(), src, []*source.Line{l}))

	require.Len(t, l.Taxes, 1)
	assert.True(t, first[0].TaxValue.Equal(l.Taxes[0].TaxValue))
}

func TestAddTaxes_NoClassNoRates(t *testing.T) {
	src := newSource(true)
	shipping, err := source.NewLine(source.LineSpec{
		Type:          source.TypeShipping,
		Quantity:      decimal.NewFromInt(1),
		BaseUnitPrice: pricing.New(d("5.00"), "EUR", pricing.Taxful),
		Text:          "Standard shipping",
	})
	require.NoError(t, err)
	unknown := productLine(t, src, "10.00", 1, "exotic")
	calc := NewCalculator(StaticRates{})

	require.NoError(t, calc.AddTaxes(context.Background(), src, []*source.Line{shipping, unknown}))
	assert.Empty(t, shipping.Taxes)
	assert.Empty(t, unknown.Taxes)
}
