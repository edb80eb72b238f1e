package promo

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/source"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount a campaign grants over the given product
// lines. It returns ErrInvalidCode when the total item count does not satisfy
// the campaign's minimum.
func Apply(c *Campaign, lines []*source.Line) (decimal.Decimal, error) {
	products := productLines(lines)
	if c.MinItems > 0 && totalQuantity(products) < int64(c.MinItems) {
		return decimal.Zero, ErrInvalidCode
	}

	subtotal := calcSubtotal(products)

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
	case DiscountFixed:
		amount = decimal.Min(c.Value, subtotal)
	case DiscountFreeLowest:
		amount = lowestUnitPrice(products)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	amount = floorAtZero(amount).Round(2)
	if c.MaxDiscount.IsPositive() && amount.GreaterThan(c.MaxDiscount) {
		amount = c.MaxDiscount
	}
	return amount, nil
}

func productLines(lines []*source.Line) []*source.Line {
	out := lines[:0:0]
	for _, l := range lines {
		if l.IsProductLine() {
			out = append(out, l)
		}
	}
	return out
}

// calcSubtotal returns the sum of discounted line totals.
func calcSubtotal(lines []*source.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Total().Value())
	}
	return sum
}

func totalQuantity(lines []*source.Line) int64 {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Quantity)
	}
	return total.IntPart()
}

// lowestUnitPrice returns the lowest discounted unit price among the lines,
// or zero when there are none.
func lowestUnitPrice(lines []*source.Line) decimal.Decimal {
	if len(lines) == 0 {
		return decimal.Zero
	}
	lowest := lines[0].DiscountedUnitPrice().Value()
	for _, l := range lines[1:] {
		if p := l.DiscountedUnitPrice().Value(); p.LessThan(lowest) {
			lowest = p
		}
	}
	return lowest
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
