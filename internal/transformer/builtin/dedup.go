// Package builtin contains the reusable cleaning steps used by the water
// quality transform: exact-row de-duplication, column-name normalization,
// uniform null-filling, and the categorical-to-ordinal derivations.
package builtin

import "waterq/internal/frame"

// Dedup removes exact-duplicate rows, keeping the first occurrence.
//
// It must run before any derived column is added, so that duplicates are
// judged on the source fields alone. Running it twice is a no-op.
type Dedup struct {
	// Removed receives the number of dropped rows when non-nil.
	Removed *int
}

func (d Dedup) Apply(t *frame.Table) error {
	n := t.Dedupe()
	if d.Removed != nil {
		*d.Removed = n
	}
	return nil
}
