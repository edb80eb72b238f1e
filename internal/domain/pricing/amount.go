// Package pricing provides the unit-safe money type used across the
// checkout engine.
//
// An Amount is a decimal value tagged with a currency code and a tax mode.
// Arithmetic between two Amounts is only defined when both tags match;
// anything else fails with a UnitMismatchError. This turns the classic
// commerce bug — adding a tax-inclusive price to a tax-exclusive one, or
// mixing currencies — into an immediate, typed failure instead of a silently
// wrong number.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TaxMode describes whether an Amount's value includes tax.
type TaxMode int8

const (
	// TaxUnspecified marks an Amount that carries no tax information.
	TaxUnspecified TaxMode = iota
	// Taxful marks an Amount whose value includes tax.
	Taxful
	// Taxless marks an Amount whose value excludes tax.
	Taxless
)

// String returns a short human-readable name for the tax mode.
func (m TaxMode) String() string {
	switch m {
	case Taxful:
		return "taxful"
	case Taxless:
		return "taxless"
	default:
		return "unspecified"
	}
}

// UnitMismatchError is returned when two Amounts with different currency or
// tax-mode tags are combined. It identifies both operands.
type UnitMismatchError struct {
	Op    string
	Left  Amount
	Right Amount
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("pricing: %s of mismatched amounts %s and %s",
		e.Op, e.Left, e.Right)
}

// Amount is an immutable decimal value tagged with a currency and a tax mode.
// The zero value is a zero amount with no currency and TaxUnspecified; prefer
// Zero or New to build tagged values.
type Amount struct {
	value    decimal.Decimal
	currency string
	taxMode  TaxMode
}

// New builds an Amount from a decimal value, currency code, and tax mode.
func New(value decimal.Decimal, currency string, mode TaxMode) Amount {
	return Amount{value: value, currency: currency, taxMode: mode}
}

// Zero returns a zero Amount carrying the given currency and tax mode.
// It is the template from which a shop's untagged stored values are
// reconstituted.
func Zero(currency string, mode TaxMode) Amount {
	return Amount{currency: currency, taxMode: mode}
}

// Value returns the bare decimal value without its tags.
func (a Amount) Value() decimal.Decimal { return a.value }

// Currency returns the currency code tag.
func (a Amount) Currency() string { return a.currency }

// TaxMode returns the tax mode tag.
func (a Amount) TaxMode() TaxMode { return a.taxMode }

// String renders the amount with both tags, e.g. "12.50 EUR (taxful)".
func (a Amount) String() string {
	return fmt.Sprintf("%s %s (%s)", a.value, a.currency, a.taxMode)
}

// sameUnit reports whether both tags match.
func (a Amount) sameUnit(b Amount) bool {
	return a.currency == b.currency && a.taxMode == b.taxMode
}

// Add returns a + b. Both operands must carry identical tags.
func (a Amount) Add(b Amount) (Amount, error) {
	if !a.sameUnit(b) {
		return Amount{}, &UnitMismatchError{Op: "add", Left: a, Right: b}
	}
	return Amount{value: a.value.Add(b.value), currency: a.currency, taxMode: a.taxMode}, nil
}

// Sub returns a - b. Both operands must carry identical tags.
func (a Amount) Sub(b Amount) (Amount, error) {
	if !a.sameUnit(b) {
		return Amount{}, &UnitMismatchError{Op: "subtract", Left: a, Right: b}
	}
	return Amount{value: a.value.Sub(b.value), currency: a.currency, taxMode: a.taxMode}, nil
}

// Cmp compares a against b (-1, 0, +1). Both operands must carry identical
// tags.
func (a Amount) Cmp(b Amount) (int, error) {
	if !a.sameUnit(b) {
		return 0, &UnitMismatchError{Op: "compare", Left: a, Right: b}
	}
	return a.value.Cmp(b.value), nil
}

// Equal reports whether a and b have the same value and identical tags.
// Unlike Cmp it never fails: mismatched tags are simply not equal.
func (a Amount) Equal(b Amount) bool {
	return a.sameUnit(b) && a.value.Equal(b.value)
}

// Mul scales the amount by a plain decimal factor, preserving the tags.
// There is deliberately no Amount×Amount multiplication: the result would
// have no meaningful unit.
func (a Amount) Mul(factor decimal.Decimal) Amount {
	return Amount{value: a.value.Mul(factor), currency: a.currency, taxMode: a.taxMode}
}

// Div divides the amount by a plain decimal divisor, preserving the tags.
func (a Amount) Div(divisor decimal.Decimal) Amount {
	return Amount{value: a.value.Div(divisor), currency: a.currency, taxMode: a.taxMode}
}

// Ratio divides a by b and returns the plain, unitless quotient. Both
// operands must carry identical tags.
func (a Amount) Ratio(b Amount) (decimal.Decimal, error) {
	if !a.sameUnit(b) {
		return decimal.Decimal{}, &UnitMismatchError{Op: "divide", Left: a, Right: b}
	}
	return a.value.Div(b.value), nil
}

// Neg returns the negated amount with the same tags.
func (a Amount) Neg() Amount {
	return Amount{value: a.value.Neg(), currency: a.currency, taxMode: a.taxMode}
}

// Abs returns the absolute amount with the same tags.
func (a Amount) Abs() Amount {
	return Amount{value: a.value.Abs(), currency: a.currency, taxMode: a.taxMode}
}

// Quantize rounds the amount to the given number of decimal places,
// preserving the tags.
func (a Amount) Quantize(places int32) Amount {
	return Amount{value: a.value.Round(places), currency: a.currency, taxMode: a.taxMode}
}

// IsZero reports whether the value is exactly zero.
func (a Amount) IsZero() bool { return a.value.IsZero() }

// IsNegative reports whether the value is below zero.
func (a Amount) IsNegative() bool { return a.value.IsNegative() }

// WithValue returns a new Amount carrying the receiver's tags and the given
// value. Used to re-tag bare decimals loaded from storage.
func (a Amount) WithValue(value decimal.Decimal) Amount {
	return Amount{value: value, currency: a.currency, taxMode: a.taxMode}
}

// WithTaxMode returns a new Amount with the same value and currency but the
// given tax mode. Callers use it when converting between taxful and taxless
// figures after applying the relevant tax arithmetic themselves.
func (a Amount) WithTaxMode(mode TaxMode) Amount {
	return Amount{value: a.value, currency: a.currency, taxMode: mode}
}
