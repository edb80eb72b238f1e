package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-engine/internal/tax"
)

const getRatesForClassSQL = `SELECT id, name, tax_class_id, rate
	FROM tax_rates WHERE shop_id = $1 AND tax_class_id = $2 ORDER BY id`

var _ tax.RateSource = (*TaxRateRepository)(nil)

// TaxRateRepository implements tax.RateSource backed by PostgreSQL.
type TaxRateRepository struct {
	pool *pgxpool.Pool
}

// NewTaxRateRepository returns a TaxRateRepository that uses the given pool.
func NewTaxRateRepository(pool *pgxpool.Pool) *TaxRateRepository {
	return &TaxRateRepository{pool: pool}
}

// RatesForClass returns the rates of a tax class in a shop, ordered by id.
func (r *TaxRateRepository) RatesForClass(ctx context.Context, shopID, taxClassID string) ([]tax.Rate, error) {
	rows, err := r.pool.Query(ctx, getRatesForClassSQL, shopID, taxClassID)
	if err != nil {
		return nil, fmt.Errorf("getting rates for class %q: %w", taxClassID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (tax.Rate, error) {
		var rate tax.Rate
		err := row.Scan(&rate.ID, &rate.Name, &rate.TaxClassID, &rate.Rate)
		return rate, err
	})
}
