package source

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrTaxesNotCalculated is returned by total-price accessors and
// CalculateTaxesOrFail when a figure depending on tax state is requested
// before taxes have been calculated and automatic calculation is disabled.
// Failing loudly here is the point: the alternative is returning a number
// computed under an unintended tax state.
var ErrTaxesNotCalculated = errors.New("taxes not calculated")

// ReentrantComputationError is the panic value raised when final-line
// computation on an OrderSource re-enters itself: a collaborator asked the
// same source to recompute the lines it is currently being asked to extend.
// This is a programming-contract violation, never a retryable condition.
type ReentrantComputationError struct{}

func (ReentrantComputationError) Error() string {
	return "reentrant final-line computation on the same order source"
}

// UnresolvedParentLineError is returned when a line's parent reference does
// not resolve to a line appearing earlier in the source. It indicates the
// source was assembled inconsistently and is always fatal.
type UnresolvedParentLineError struct {
	LineID   string
	ParentID string
}

func (e *UnresolvedParentLineError) Error() string {
	return fmt.Sprintf("line %s references unresolved parent line %s", e.LineID, e.ParentID)
}

// TaxClassConflictError is returned when a line explicitly sets a tax class
// that disagrees with the tax class of its product.
type TaxClassConflictError struct {
	ProductID       string
	ProductTaxClass string
	LineTaxClass    string
}

func (e *TaxClassConflictError) Error() string {
	return fmt.Sprintf("line tax class %q conflicts with tax class %q of product %s",
		e.LineTaxClass, e.ProductTaxClass, e.ProductID)
}

// UnknownRecordFieldError is returned by Line.Update for values that cannot
// be coerced into the fixed schema field they target.
type UnknownRecordFieldError struct {
	Field string
	Value any
}

func (e *UnknownRecordFieldError) Error() string {
	return fmt.Sprintf("cannot assign %v (%T) to line field %q", e.Value, e.Value, e.Field)
}
