package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/source"
)

// FlatRateMethod is a shipping or payment method provider that contributes
// a single fixed-fee line. A shipping fee can be waived once the product
// subtotal reaches FreeAbove (zero means never).
type FlatRateMethod struct {
	Type       source.LineType
	Text       string
	Price      decimal.Decimal
	TaxClassID string
	FreeAbove  decimal.Decimal
}

var _ source.MethodProvider = (*FlatRateMethod)(nil)

// Lines returns the method's fee line priced in the source's currency.
func (m *FlatRateMethod) Lines(ctx context.Context, src *source.OrderSource) ([]*source.Line, error) {
	price := m.Price
	if m.FreeAbove.IsPositive() && m.subtotal(ctx, src).GreaterThanOrEqual(m.FreeAbove) {
		price = decimal.Zero
	}

	line, err := source.NewLine(source.LineSpec{
		Type:          m.Type,
		ShopID:        src.Shop.ID,
		Quantity:      decimal.NewFromInt(1),
		BaseUnitPrice: src.ZeroPrice().WithValue(price),
		Text:          m.Text,
		TaxClassID:    m.TaxClassID,
		Provenance:    source.ProvenanceSeller,
	})
	if err != nil {
		return nil, err
	}
	return []*source.Line{line}, nil
}

// UnavailabilityReasons reports none: a flat-rate method is always available.
func (m *FlatRateMethod) UnavailabilityReasons(ctx context.Context, src *source.OrderSource) []source.Issue {
	return nil
}

func (m *FlatRateMethod) subtotal(ctx context.Context, src *source.OrderSource) decimal.Decimal {
	total := decimal.Zero
	for _, l := range src.Lines(ctx) {
		if l.Type == source.TypeProduct {
			total = total.Add(l.Total().Value())
		}
	}
	return total
}
