package promo

import (
	"context"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/domain/source"
)

var _ source.Modifier = (*Modifier)(nil)

// Modifier contributes one discount line per accepted promotional code and
// records code usage against assembled orders. An optional bloom filter
// rejects unknown codes without a repository round trip.
type Modifier struct {
	repo   Repository
	filter *bloom.BloomFilter
	now    func() time.Time
}

// NewModifier creates a promo modifier over the given campaign repository.
func NewModifier(repo Repository) *Modifier {
	return &Modifier{repo: repo, now: time.Now}
}

// WithPrefilter installs a bloom filter of known codes. Codes the filter
// rejects are definitively unknown; hits still go through the repository.
func (m *Modifier) WithPrefilter(filter *bloom.BloomFilter) *Modifier {
	m.filter = filter
	return m
}

// lookup resolves a code to an eligible campaign, checking the validity
// window and usage limit.
func (m *Modifier) lookup(ctx context.Context, code string) (*Campaign, error) {
	if m.filter != nil && !m.filter.TestString(code) {
		return nil, ErrInvalidCode
	}
	c, err := m.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return nil, ErrInvalidCode
		}
		return nil, errors.Wrap(err, "lookup campaign")
	}

	now := m.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCodeExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCodeExpired
	}
	if c.MaxUses > 0 && c.Uses >= c.MaxUses {
		return nil, ErrCodeUsageLimitReached
	}
	return c, nil
}

// NewLines implements source.Modifier. Codes that do not resolve to an
// eligible campaign contribute nothing; they are not an error here since the
// code set is user input.
func (m *Modifier) NewLines(ctx context.Context, src *source.OrderSource, linesSoFar []*source.Line) ([]*source.Line, error) {
	var out []*source.Line
	for _, code := range src.Codes() {
		c, err := m.lookup(ctx, code)
		if err != nil {
			if errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrCodeExpired) || errors.Is(err, ErrCodeUsageLimitReached) {
				continue
			}
			return nil, err
		}

		amount, err := Apply(c, linesSoFar)
		if err != nil {
			if errors.Is(err, ErrInvalidCode) {
				continue
			}
			return nil, errors.Wrapf(err, "apply campaign %q", c.Code)
		}
		if amount.IsZero() {
			continue
		}

		l, err := source.NewLine(source.LineSpec{
			Type:          source.TypeDiscount,
			Quantity:      decimal.NewFromInt(1),
			BaseUnitPrice: src.ZeroPrice().WithValue(amount.Neg()),
			Text:          c.Description,
			Provenance:    source.ProvenanceDiscountModule,
			Extra:         map[string]any{"promo_code": c.Code},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "build discount line for %q", c.Code)
		}
		out = append(out, l)
	}
	return out, nil
}

// CanUseCode implements source.Modifier.
func (m *Modifier) CanUseCode(ctx context.Context, _ *source.OrderSource, code string) bool {
	_, err := m.lookup(ctx, code)
	return err == nil
}

// UseCode implements source.Modifier.
func (m *Modifier) UseCode(ctx context.Context, orderID, code string) error {
	if err := m.repo.RecordUsage(ctx, orderID, code); err != nil {
		return errors.Wrapf(err, "record usage of %q", code)
	}
	return nil
}

// ClearCodes implements source.Modifier.
func (m *Modifier) ClearCodes(ctx context.Context, orderID string) error {
	if err := m.repo.ClearUsage(ctx, orderID); err != nil {
		return errors.Wrap(err, "clear code usage")
	}
	return nil
}
