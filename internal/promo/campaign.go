// Package promo implements promotional-code campaigns as an order-source
// modifier: accepted codes contribute discount lines during final-line
// computation, and usage is recorded against the assembled order.
package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported campaign discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the product subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the cost of the cheapest product unit.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrInvalidCode is returned when a code is not found or the order does
	// not satisfy the campaign's minimum item requirement.
	ErrInvalidCode = errors.New("invalid promotional code")
	// ErrCodeExpired is returned when a campaign is outside its valid time window.
	ErrCodeExpired = errors.New("promotional code expired")
	// ErrCodeUsageLimitReached is returned when a campaign has exhausted its allowed uses.
	ErrCodeUsageLimitReached = errors.New("promotional code usage limit reached")
)

// Campaign defines a promotional code's discount behaviour and eligibility
// constraints.
type Campaign struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	MaxDiscount  decimal.Decimal
}

// Repository provides lookup of campaigns and bookkeeping of per-order code
// usage.
type Repository interface {
	// FindByCode returns the campaign for the code, or ErrInvalidCode.
	FindByCode(ctx context.Context, code string) (*Campaign, error)
	// RecordUsage attaches a usage record for the code to the order.
	RecordUsage(ctx context.Context, orderID, code string) error
	// ClearUsage removes every usage record attached to the order.
	ClearUsage(ctx context.Context, orderID string) error
}
