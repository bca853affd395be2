package models

import "time"

// DefaultBatchSize is the rebuild page size when none is configured
const DefaultBatchSize = 300

// BatchLimiter bounds one rebuild pass. It is built per invocation and never persisted.
// A nil MaxItems means the pass is unbounded.
type BatchLimiter struct {
	BatchSize int
	MaxItems  *int
	MinID     *int64
	MaxID     *int64
	AsOf      *time.Time
}

// Bounded reports whether the pass is capped by MaxItems
func (l BatchLimiter) Bounded() bool {
	return l.MaxItems != nil
}

// After returns a copy whose id window starts right after id
func (l BatchLimiter) After(id int64) BatchLimiter {
	next := id + 1
	l.MinID = &next
	return l
}

// PageSize returns the next page size given how many items were already processed
func (l BatchLimiter) PageSize(processed int) int {
	size := l.BatchSize
	if l.MaxItems != nil {
		left := *l.MaxItems - processed
		if left < size {
			size = left
		}
	}
	if size < 0 {
		return 0
	}
	return size
}
