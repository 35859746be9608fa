// Package errdefs holds the sentinel errors shared across the pipeline.
// Callers classify failures with errors.Is; context is layered on with eris.
package errdefs

import "github.com/rotisserie/eris"

var (
	// ErrMissingSourceFile marks an input extract that does not exist.
	// Fatal for the billing extract; reference extracts degrade instead.
	ErrMissingSourceFile = eris.New("source file missing")

	// ErrReferenceLoad marks a failed affiliation or directory load. The
	// query may proceed with attribution disabled or metadata unknown.
	ErrReferenceLoad = eris.New("reference data load failed")
)
