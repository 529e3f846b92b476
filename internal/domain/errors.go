package domain

import (
	"errors"
	"fmt"
)

// Recoverable per-instance failures. They are counted and degrade the
// affected fields to missing values, but never drop a row.
var (
	// ErrTopology reports a failed intersection between an AR footprint and
	// a continent (self-intersection, numerical degeneracy).
	ErrTopology = errors.New("topology error")

	// ErrNoData reports that clipping the intensity grid to a non-empty land
	// geometry produced no valid cells.
	ErrNoData = errors.New("no data in bounds")

	// ErrGeodesy reports a degenerate sub-geometry whose geodesic area
	// cannot be computed. It contributes zero area.
	ErrGeodesy = errors.New("geodesy error")
)

// ErrUpstreamContract marks input that violates the upstream collaborators'
// contract. It is fatal for the processing scope.
var ErrUpstreamContract = errors.New("upstream contract violation")

// ErrTimestampNotFound is returned when the grid source has no field for an
// AR timestamp.
var ErrTimestampNotFound = fmt.Errorf("%w: timestamp not found in grid source", ErrUpstreamContract)
