package metrics

import "time"

// CaptureMetrics provides observability for capture store operations.
// Pass nil to disable collection.
type CaptureMetrics interface {
	// ObserveOperation records a store call with its duration and outcome.
	//
	// Parameters:
	//   - store: backend type ("memory", "fs", "badger", "s3")
	//   - operation: "put", "get", "list" or "delete"
	//   - err: error returned by the backend, nil on success
	ObserveOperation(store string, operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by a put or get.
	RecordBytes(store string, operation string, bytes int64)
}
