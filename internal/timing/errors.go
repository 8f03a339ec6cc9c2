package timing

import "errors"

var (
	// ErrInvalidRate is returned when starting with a non-positive rate.
	ErrInvalidRate = errors.New("trigger rate must be > 0")

	// ErrRunning is returned when changing configuration while running.
	ErrRunning = errors.New("not allowed while running")

	// ErrMismatchedInputs is returned when input pins and names differ
	// in length or no inputs are configured.
	ErrMismatchedInputs = errors.New("input pins and names must be non-empty and the same length")
)
