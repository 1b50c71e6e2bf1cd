package consumer

import "errors"

var (
	// ErrMissingChannel rejects a worker bound to no channel.
	ErrMissingChannel = errors.New("worker channel required")

	// ErrInvalidBatchSize rejects non-positive batch sizes.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrInvalidInterval rejects non-positive flush intervals.
	ErrInvalidInterval = errors.New("flush interval must be positive")
)
