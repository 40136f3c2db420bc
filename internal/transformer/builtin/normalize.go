package builtin

import (
	"strings"

	"waterq/internal/frame"
)

// NormalizeHeaders rewrites every column name to its canonical form: trimmed,
// internal spaces replaced with underscores, lowercased. All later steps look
// columns up by these canonical names, so this must run before any of them.
type NormalizeHeaders struct{}

func (NormalizeHeaders) Apply(t *frame.Table) error {
	for i, c := range t.Columns {
		t.Columns[i] = NormalizeName(c)
	}
	return nil
}

// NormalizeName canonicalizes a single column name.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ToLower(s)
}

// FillMissing replaces every missing cell (nil or empty string) with a fixed
// replacement value, across all columns uniformly.
//
// The upstream data fills with the literal "0" even in categorical columns;
// a zero there matches no category and so still yields a missing ordinal in
// the mapping steps. Preserved as-is for output parity.
type FillMissing struct {
	// With is the replacement value. Empty means "0".
	With string
}

func (f FillMissing) Apply(t *frame.Table) error {
	with := f.With
	if with == "" {
		with = "0"
	}
	for _, row := range t.Rows {
		for i, v := range row {
			switch c := v.(type) {
			case nil:
				row[i] = with
			case string:
				if c == "" {
					row[i] = with
				}
			}
		}
	}
	return nil
}
