package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-engine/internal/promo"
)

const (
	getCampaignByCodeSQL = `SELECT code, discount_type, value, min_items, description,
		valid_from, valid_until, max_uses, uses, max_discount
		FROM campaigns WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	recordCampaignUsageSQL = `WITH usage AS (
		INSERT INTO campaign_usages (order_id, code) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
		RETURNING code
	)
	UPDATE campaigns SET uses = uses + 1 WHERE code IN (SELECT code FROM usage)`

	clearCampaignUsageSQL = `WITH removed AS (
		DELETE FROM campaign_usages WHERE order_id = $1
		RETURNING code
	)
	UPDATE campaigns SET uses = GREATEST(uses - 1, 0)
		WHERE code IN (SELECT code FROM removed)`
)

var _ promo.Repository = (*CampaignRepository)(nil)

// CampaignRepository implements promo.Repository backed by PostgreSQL.
type CampaignRepository struct {
	pool *pgxpool.Pool
}

// NewCampaignRepository returns a CampaignRepository that uses the given pool.
func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

// FindByCode looks up an active campaign by its code (case-insensitive).
// Returns promo.ErrInvalidCode when no matching active campaign exists.
func (r *CampaignRepository) FindByCode(ctx context.Context, code string) (*promo.Campaign, error) {
	rows, err := r.pool.Query(ctx, getCampaignByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding campaign by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCampaign)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding campaign by code %q: %w", code, err)
	}
	return &c, nil
}

// RecordUsage attaches a usage row for the order and bumps the campaign's
// usage counter. Recording the same order/code pair twice is a no-op.
func (r *CampaignRepository) RecordUsage(ctx context.Context, orderID, code string) error {
	if _, err := r.pool.Exec(ctx, recordCampaignUsageSQL, orderID, code); err != nil {
		return fmt.Errorf("recording usage of %q for order %q: %w", code, orderID, err)
	}
	return nil
}

// ClearUsage drops every usage row of the order and decrements the affected
// campaigns' usage counters.
func (r *CampaignRepository) ClearUsage(ctx context.Context, orderID string) error {
	if _, err := r.pool.Exec(ctx, clearCampaignUsageSQL, orderID); err != nil {
		return fmt.Errorf("clearing usage for order %q: %w", orderID, err)
	}
	return nil
}

func scanCampaign(row pgx.CollectableRow) (promo.Campaign, error) {
	var (
		c            promo.Campaign
		discountType string
		value        decimal.Decimal
		minItems     int32
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
		maxDiscount  decimal.Decimal
	)
	err := row.Scan(
		&c.Code, &discountType, &value, &minItems, &c.Description,
		&validFrom, &validUntil, &maxUses, &uses, &maxDiscount,
	)
	c.DiscountType = promo.DiscountType(discountType)
	c.Value = value
	c.MinItems = int(minItems)
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	c.MaxUses = int(maxUses)
	c.Uses = int(uses)
	c.MaxDiscount = maxDiscount
	return c, err
}
