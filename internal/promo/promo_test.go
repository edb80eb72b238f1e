package promo

import (
	"context"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
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

func productLine(t *testing.T, id, price string, qty int64) *source.Line {
	t.Helper()
	l, err := source.NewLine(source.LineSpec{
		Type: source.TypeProduct,
		Product: &catalog.Product{
			ID:         id,
			SKU:        "SKU-" + id,
			Name:       "Product " + id,
			TaxClassID: "standard",
			Unit:       catalog.SalesUnit{Symbol: "pcs"},
		},
		Supplier:      &catalog.Supplier{ID: "sup1"},
		ShopID:        "shop1",
		Quantity:      decimal.NewFromInt(qty),
		BaseUnitPrice: pricing.New(d(price), "EUR", pricing.Taxful),
	})
	require.NoError(t, err)
	return l
}

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		campaign *Campaign
		lines    func(t *testing.T) []*source.Line
		want     decimal.Decimal
		wantErr  error
	}{
		{
			name:     "percentage 18% off 100 subtotal",
			campaign: &Campaign{Code: "PCT18", DiscountType: DiscountPercentage, Value: d("18")},
			lines: func(t *testing.T) []*source.Line {
				return []*source.Line{productLine(t, "p1", "50", 2)}
			},
			want: d("18"),
		},
		{
			name:     "percentage 100% off equals subtotal",
			campaign: &Campaign{Code: "FREE", DiscountType: DiscountPercentage, Value: d("100")},
			lines: func(t *testing.T) []*source.Line {
				return []*source.Line{productLine(t, "p1", "25", 4)}
			},
			want: d("100"),
		},
		{
			name:     "fixed capped at subtotal",
			campaign: &Campaign{Code: "BIG", DiscountType: DiscountFixed, Value: d("200")},
			lines: func(t *testing.T) []*source.Line {
				return []*source.Line{productLine(t, "p1", "50", 2)}
			},
			want: d("100"),
		},
		{
			name:     "free lowest picks the cheapest unit",
			campaign: &Campaign{Code: "LOW", DiscountType: DiscountFreeLowest},
			lines: func(t *testing.T) []*source.Line {
				return []*source.Line{
					productLine(t, "p1", "30", 1),
					productLine(t, "p2", "12.50", 2),
				}
			},
			want: d("12.50"),
		},
		{
			name:     "min items not met",
			campaign: &Campaign{Code: "BULK", DiscountType: DiscountPercentage, Value: d("10"), MinItems: 3},
			lines: func(t *testing.T) []*source.Line {
				return []*source.Line{productLine(t, "p1", "10", 2)}
			},
			wantErr: ErrInvalidCode,
		},
		{
			name:     "max discount caps the amount",
			campaign: &Campaign{Code: "CAP", DiscountType: DiscountPercentage, Value: d("50"), MaxDiscount: d("20")},
			lines: func(t *testing.T) []*source.Line {
				return []*source.Line{productLine(t, "p1", "100", 1)}
			},
			want: d("20"),
		},
		{
			name:     "non-product lines are ignored",
			campaign: &Campaign{Code: "PCT10", DiscountType: DiscountPercentage, Value: d("10")},
			lines: func(t *testing.T) []*source.Line {
				shipping, err := source.NewLine(source.LineSpec{
					Type:          source.TypeShipping,
					Quantity:      decimal.NewFromInt(1),
					BaseUnitPrice: pricing.New(d("5"), "EUR", pricing.Taxful),
					Text:          "Standard shipping",
				})
				require.NoError(t, err)
				return []*source.Line{productLine(t, "p1", "100", 1), shipping}
			},
			want: d("10"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.campaign, tt.lines(t))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

// --- Modifier ---

type memoryRepo struct {
	campaigns map[string]*Campaign
	usages    map[string][]string
	cleared   []string
}

func newMemoryRepo(campaigns ...*Campaign) *memoryRepo {
	r := &memoryRepo{campaigns: map[string]*Campaign{}, usages: map[string][]string{}}
	for _, c := range campaigns {
		r.campaigns[c.Code] = c
	}
	return r
}

func (r *memoryRepo) FindByCode(_ context.Context, code string) (*Campaign, error) {
	if c, ok := r.campaigns[code]; ok {
		return c, nil
	}
	return nil, ErrInvalidCode
}

func (r *memoryRepo) RecordUsage(_ context.Context, orderID, code string) error {
	r.usages[orderID] = append(r.usages[orderID], code)
	return nil
}

func (r *memoryRepo) ClearUsage(_ context.Context, orderID string) error {
	r.cleared = append(r.cleared, orderID)
	delete(r.usages, orderID)
	return nil
}

func testSource() *source.OrderSource {
	return source.New(&catalog.Shop{ID: "shop1", Currency: "EUR", PricesIncludeTax: true}, source.Environment{})
}

func TestModifier_NewLines(t *testing.T) {
	repo := newMemoryRepo(&Campaign{
		Code:         "SAVE10",
		DiscountType: DiscountPercentage,
		Value:        d("10"),
		Description:  "10% off",
	})
	m := NewModifier(repo)

	src := testSource()
	src.AddCode("SAVE10")
	src.AddCode("UNKNOWN")
	linesSoFar := []*source.Line{productLine(t, "p1", "50", 2)}

	lines, err := m.NewLines(context.Background(), src, linesSoFar)
	require.NoError(t, err)

	require.Len(t, lines, 1)
	l := lines[0]
	assert.Equal(t, source.TypeDiscount, l.Type)
	assert.Equal(t, source.ProvenanceDiscountModule, l.Provenance)
	assert.Equal(t, "10% off", l.Text)
	assert.True(t, d("-10").Equal(l.BaseUnitPrice.Value()))
	assert.Equal(t, pricing.Taxful, l.BaseUnitPrice.TaxMode())
	assert.Equal(t, "SAVE10", l.Extra["promo_code"])
}

func TestModifier_ExpiredCampaignContributesNothing(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemoryRepo(&Campaign{
		Code:         "OLD",
		DiscountType: DiscountPercentage,
		Value:        d("10"),
		ValidUntil:   &past,
	})
	m := NewModifier(repo)
	src := testSource()
	src.AddCode("OLD")

	lines, err := m.NewLines(context.Background(), src, []*source.Line{productLine(t, "p1", "50", 1)})
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.False(t, m.CanUseCode(context.Background(), src, "OLD"))
}

func TestModifier_UsageLimit(t *testing.T) {
	repo := newMemoryRepo(&Campaign{
		Code:         "ONCE",
		DiscountType: DiscountFixed,
		Value:        d("5"),
		MaxUses:      1,
		Uses:         1,
	})
	m := NewModifier(repo)
	src := testSource()

	assert.False(t, m.CanUseCode(context.Background(), src, "ONCE"))
}

func TestModifier_Prefilter(t *testing.T) {
	repo := newMemoryRepo(&Campaign{
		Code:         "SAVE10",
		DiscountType: DiscountPercentage,
		Value:        d("10"),
	})
	filter := bloom.NewWithEstimates(1000, 0.001)
	filter.AddString("SAVE10")
	m := NewModifier(repo).WithPrefilter(filter)
	src := testSource()

	assert.True(t, m.CanUseCode(context.Background(), src, "SAVE10"))
	// A code the filter never saw is rejected without a repository lookup.
	assert.False(t, m.CanUseCode(context.Background(), src, "NOPE1234"))
}

func TestModifier_UsageBookkeeping(t *testing.T) {
	repo := newMemoryRepo(&Campaign{Code: "SAVE10", DiscountType: DiscountPercentage, Value: d("10")})
	m := NewModifier(repo)

	require.NoError(t, m.UseCode(context.Background(), "order1", "SAVE10"))
	assert.Equal(t, []string{"SAVE10"}, repo.usages["order1"])

	require.NoError(t, m.ClearCodes(context.Background(), "order1"))
	assert.Empty(t, repo.usages["order1"])
	assert.Equal(t, []string{"order1"}, repo.cleared)
}
