// Package transformer defines the cleaning pipeline applied to a raw table:
// an ordered chain of steps, each mutating the table in place. Steps are
// small and composable; the transform stage assembles the chain it needs.
package transformer

import "waterq/internal/frame"

// Step is a single in-place table transformation.
type Step interface {
	Apply(t *frame.Table) error
}

// Chain is an ordered list of steps. Apply runs them in order and stops at
// the first error.
type Chain []Step

func (c Chain) Apply(t *frame.Table) error {
	for _, s := range c {
		if err := s.Apply(t); err != nil {
			return err
		}
	}
	return nil
}
