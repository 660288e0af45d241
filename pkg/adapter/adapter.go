// Package adapter holds the TCP server plumbing shared by protocol
// adapters. The DICOM acceptor in pkg/adapter/dicom builds on it.
package adapter

import (
	"context"
)

// Adapter is a protocol server run by "dicomul start".
//
// Serve blocks until ctx is cancelled or Stop is called, then stops
// accepting, waits for live associations up to the shutdown timeout and
// returns. A Serve that returns before cancellation is treated as fatal.
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error

	// Protocol names the adapter in logs and metrics.
	Protocol() string

	Port() int
}
