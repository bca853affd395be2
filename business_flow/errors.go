// Package businessflow contains the use cases of the segment engine: rebuilds, manual membership and exports
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Option errors
	ErrInvalidBatchSize  = errors.New("batch size must be a positive integer")
	ErrInvalidMaxItems   = errors.New("max items must be a positive integer")
	ErrInvalidSegmentID  = errors.New("segment id must be a positive integer")
	ErrInvalidExcludeID  = errors.New("excluded segment ids must be positive integers")
	ErrInvalidCompanyIDs = errors.New("company ids must be positive integers")
	ErrInvalidAlias      = errors.New("segment alias is invalid")
	ErrNothingToUpdate   = errors.New("at least one company id must be provided")

	// Segment errors
	ErrSegmentNotFound    = errors.New("segment not found")
	ErrSegmentLocked      = errors.New("segment is being rebuilt by another run")
	ErrSegmentUnpublished = errors.New("segment is not published")
	ErrSegmentReferenced  = errors.New("segment is referenced by other segments")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsSegmentNotFound(err error) bool {
	return errors.Is(err, ErrSegmentNotFound)
}

func IsSegmentLocked(err error) bool {
	return errors.Is(err, ErrSegmentLocked)
}

func IsSegmentReferenced(err error) bool {
	return errors.Is(err, ErrSegmentReferenced)
}

// IsValidationError reports whether err was raised while checking options, before any work
func IsValidationError(err error) bool {
	var be *BusinessError
	return errors.As(err, &be) && be.Code == "VALIDATION_ERROR"
}
