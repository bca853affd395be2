// Package segments compiles segment filters into SQL predicates and reconciles persisted membership
package segments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/company-segments/models"
)

var (
	ErrInvalidFilter            = models.ErrInvalidFilter
	ErrCircularReference        = errors.New("circular segment reference")
	ErrDependentSegmentNotFound = errors.New("dependent segment not found")
	ErrUnsupportedOperator      = errors.New("unsupported filter operator")
)

// InvalidFilterError reports a malformed filter node
type InvalidFilterError = models.InvalidFilterError

// CircularReferenceError reports a segment that references itself through Path
type CircularReferenceError struct {
	SegmentID uint
	Path      []uint
}

func (e *CircularReferenceError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, id := range e.Path {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return fmt.Sprintf("circular reference on segment %d: %s", e.SegmentID, strings.Join(parts, " -> "))
}

func (e *CircularReferenceError) Is(target error) bool {
	return target == ErrCircularReference
}

// DependentSegmentNotFoundError reports a referenced segment that does not exist
type DependentSegmentNotFoundError struct {
	SegmentID    uint
	ReferencedBy uint
}

func (e *DependentSegmentNotFoundError) Error() string {
	if e.ReferencedBy == 0 {
		return fmt.Sprintf("segment %d not found", e.SegmentID)
	}
	return fmt.Sprintf("segment %d referenced by segment %d not found", e.SegmentID, e.ReferencedBy)
}

func (e *DependentSegmentNotFoundError) Is(target error) bool {
	return target == ErrDependentSegmentNotFound
}

// UnsupportedOperatorError reports a field type and operator pair without a translator
type UnsupportedOperatorError struct {
	SegmentID uint
	Field     string
	FieldType models.FieldType
	Operator  models.FilterOperator
	Err       error
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("segment %d: operator %s is not supported for %s field %q", e.SegmentID, e.Operator, e.FieldType, e.Field)
}

func (e *UnsupportedOperatorError) Is(target error) bool {
	return target == ErrUnsupportedOperator
}

func (e *UnsupportedOperatorError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an engine error for reporting and metrics
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircularReference):
		return "circular_reference"
	case errors.Is(err, ErrDependentSegmentNotFound):
		return "dependent_not_found"
	case errors.Is(err, ErrUnsupportedOperator):
		return "unsupported_operator"
	case errors.Is(err, ErrInvalidFilter):
		return "invalid_filter"
	default:
		return "store"
	}
}
