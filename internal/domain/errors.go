package domain

import "errors"

var (
	// ErrInvalidInput reports a malformed or non-monotonic week table, or an
	// invalid run parameter.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAggregation reports a backend failure during compositing or zonal
	// reduction that survived all retries.
	ErrAggregation = errors.New("aggregation failed")

	// ErrShapeMismatch reports a result set that does not fill the expected
	// windows x statistics x sub-variables grid exactly once.
	ErrShapeMismatch = errors.New("result shape mismatch")

	// ErrPermanent marks a backend error that retrying cannot fix.
	ErrPermanent = errors.New("permanent backend error")
)
