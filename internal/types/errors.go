package types

import "errors"

// Error classes shared across the investigation pipeline.
var (
	// ErrDataUnavailable means a metric snapshot could not be obtained.
	ErrDataUnavailable = errors.New("metric data unavailable")
	// ErrReasoningFailure covers reasoning service errors, timeouts and unusable output.
	ErrReasoningFailure = errors.New("reasoning service failure")
	// ErrBudgetExceeded means the reasoning cost budget has been consumed.
	ErrBudgetExceeded = errors.New("cost budget exceeded")
	// ErrSafetyViolation means the safety monitor judged the target unsafe.
	ErrSafetyViolation = errors.New("safety violation")
)
