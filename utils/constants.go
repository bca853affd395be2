package utils

import (
	"time"
)

// Rebuild constants
const (
	// DefaultRebuildBatchSize is the number of companies fetched and written per batch
	DefaultRebuildBatchSize = 300

	// DefaultExportPageSize is the number of members read per export page
	DefaultExportPageSize = 1000

	// DefaultLockTTL bounds how long a crashed rebuild can hold a segment lock
	DefaultLockTTL = 30 * time.Minute
)
