package capture

import "errors"

var (
	// ErrDrainTimeout indicates the relay did not observe end-of-stream
	// within the drain grace period. Output captured so far is partial
	// and must not be reported as a complete capture.
	ErrDrainTimeout = errors.New("capture: drain timeout")

	// ErrSinkWrite indicates the durable sink could not be written.
	ErrSinkWrite = errors.New("capture: sink write failure")

	// ErrSinkNotFinalized is returned when reading a sink that has not
	// been finalized yet.
	ErrSinkNotFinalized = errors.New("capture: sink not finalized")

	// ErrSinkFinalized is returned on writes after finalization.
	ErrSinkFinalized = errors.New("capture: sink already finalized")
)
