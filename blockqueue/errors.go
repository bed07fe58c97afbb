package blockqueue

import "errors"

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("block queue is closed")

	// ErrInitFailed wraps the load error delivered to callers that were
	// gated on readiness when opening the backing store failed.
	ErrInitFailed = errors.New("block queue initialization failed")
)
