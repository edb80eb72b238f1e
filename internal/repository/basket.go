package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-engine/internal/domain/basket"
)

// basketSchemaVersion is bumped whenever the stored record shape changes in
// a way old engines cannot read. Rows with another version load as a
// CompatibilityError and the basket starts empty.
const basketSchemaVersion = 1

const (
	loadBasketSQL = `SELECT version, data FROM stored_baskets
		WHERE key = $1 AND finalized = FALSE`

	saveBasketSQL = `INSERT INTO stored_baskets (key, version, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET version = $2, data = $3, finalized = FALSE, updated_at = now()`

	deleteBasketSQL = `DELETE FROM stored_baskets WHERE key = $1`

	finalizeBasketSQL = `UPDATE stored_baskets SET finalized = TRUE, updated_at = now() WHERE key = $1`
)

var _ basket.Store = (*BasketStore)(nil)

// BasketStore implements basket.Store on a JSONB column.
type BasketStore struct {
	pool *pgxpool.Pool
}

// NewBasketStore returns a BasketStore that uses the given pool.
func NewBasketStore(pool *pgxpool.Pool) *BasketStore {
	return &BasketStore{pool: pool}
}

// Load reads the stored basket record. A missing or finalized row yields
// nil; a schema version mismatch yields a CompatibilityError.
func (s *BasketStore) Load(ctx context.Context, key string) (*basket.Record, error) {
	var (
		version int
		data    []byte
	)
	err := s.pool.QueryRow(ctx, loadBasketSQL, key).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading basket %q: %w", key, err)
	}
	if version != basketSchemaVersion {
		return nil, &basket.CompatibilityError{
			Key:    key,
			Reason: fmt.Sprintf("stored schema version %d, engine version %d", version, basketSchemaVersion),
		}
	}

	rec, err := decodeBasketRecord(data)
	if err != nil {
		return nil, &basket.CompatibilityError{Key: key, Reason: err.Error()}
	}
	return rec, nil
}

// Save upserts the basket record.
func (s *BasketStore) Save(ctx context.Context, key string, rec *basket.Record) error {
	if _, err := s.pool.Exec(ctx, saveBasketSQL, key, basketSchemaVersion, encodeBasketRecord(rec)); err != nil {
		return fmt.Errorf("saving basket %q: %w", key, err)
	}
	return nil
}

// Delete removes the stored basket.
func (s *BasketStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteBasketSQL, key); err != nil {
		return fmt.Errorf("deleting basket %q: %w", key, err)
	}
	return nil
}

// Finalize marks the basket as converted into an order; it no longer loads.
func (s *BasketStore) Finalize(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, finalizeBasketSQL, key); err != nil {
		return fmt.Errorf("finalizing basket %q: %w", key, err)
	}
	return nil
}
