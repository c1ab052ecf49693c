package models

import "errors"

// Error taxonomy shared by the pipeline stages. Callers match with errors.Is.
var (
	// ErrInvalidInput marks a malformed or incomplete sample, rejected before any write.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreUnavailable marks a persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAnalysisUnavailable marks an estimator run that produced no analysis.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	// ErrDeliveryFailed marks a single recipient delivery failure.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrNotApplicable marks an operation that does not apply to the given event.
	ErrNotApplicable = errors.New("not applicable")
)
