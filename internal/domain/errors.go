package domain

import "errors"

// Sentinel errors shared by every pipeline stage. Stages wrap them with context via
// fmt.Errorf("...: %w", err); callers match with errors.Is.
var (
	// ErrInvalidConfiguration is returned for unsupported method names or option combinations.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDimensionMismatch is returned when returns, weights, names or partitions disagree in size.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrDegenerateInput is returned when the input cannot support the requested statistic,
	// e.g. fewer than two observations or an effective sample size below one.
	ErrDegenerateInput = errors.New("degenerate input")
)
