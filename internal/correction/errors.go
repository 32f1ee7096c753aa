package correction

import "errors"

// Configuration errors. These are never retryable.
var (
	ErrInvalidExtrapolation = errors.New("invalid extrapolation method")
	ErrMissingFillValue     = errors.New("const extrapolation requires a fill value")
	ErrInvalidEmptyMonths   = errors.New("invalid empty months policy")
	ErrInvalidThreshold     = errors.New("outlier threshold must be positive")
)

// Data errors.
var (
	ErrEmptySample      = errors.New("flow sample has no values")
	ErrLengthMismatch   = errors.New("sequences differ in length")
	ErrEmptyScalarCurve = errors.New("scalar curve has no finite values")
	ErrTooFewTrusted    = errors.New("fewer than two values inside the trusted range")
)
