package reports

import "errors"

var (
	// ErrNotFound is returned when no report has the requested id.
	ErrNotFound = errors.New("report not found")

	ErrInvalidID     = errors.New("invalid report id")
	ErrInvalidStatus = errors.New("invalid status (allowed: Correct, Incorrect)")

	// ErrInvalidResult marks an inference payload with an empty diagnosis or
	// a confidence outside [0,1].
	ErrInvalidResult = errors.New("invalid analysis result")
)
