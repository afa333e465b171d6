// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms.
	BucketStart10ms = 0.01
	// BucketStart64B is the starting bucket for message size histograms.
	BucketStart64B = 64.0
	// BucketStart100B is the starting bucket for response size histograms (100B to ~100MB).
	BucketStart100B = 100.0

	BucketFactor2  = 2
	BucketFactor10 = 10

	BucketCount6  = 6
	BucketCount10 = 10
	BucketCount12 = 12
	BucketCount15 = 15
)

// ShutdownTimeout bounds the graceful shutdown of the metrics listener.
const ShutdownTimeout = 5 * time.Second
