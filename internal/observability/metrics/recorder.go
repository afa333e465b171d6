package metrics

import "time"

// Recorder is the minimal surface components use to report generic operations.
type Recorder interface {
	// RecordOperation records an operation outcome and how long it took.
	RecordOperation(operation, status string, d time.Duration)
}

// statusOf maps an error to a status label value.
func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
