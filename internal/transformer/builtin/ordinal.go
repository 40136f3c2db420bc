package builtin

import (
	"math"
	"strings"

	"waterq/internal/frame"
)

// OrdinalMap derives a numeric column from a categorical one through a fixed
// value mapping. When the source column is absent the step is a no-op; when
// a cell's value has no mapping the derived cell is left missing rather than
// failing, which keeps the pipeline running on slightly dirty data.
type OrdinalMap struct {
	Source  string
	Target  string
	Mapping map[string]float64
}

func (m OrdinalMap) Apply(t *frame.Table) error {
	idx, ok := t.ColumnIndex(m.Source)
	if !ok {
		return nil
	}
	values := make([]any, t.NumRows())
	for r, row := range t.Rows {
		if s, ok := row[idx].(string); ok {
			if code, ok := m.Mapping[s]; ok {
				values[r] = code
			}
		}
	}
	return t.AddColumn(m.Target, values)
}

// GeneralIndex derives a row-wise mean over every column whose name starts
// with Prefix, rounded to two decimal places. Rows with no contributing
// values get a missing cell; when no prefixed column exists at all, the
// target column is not created.
type GeneralIndex struct {
	Prefix string
	Target string
}

func (g GeneralIndex) Apply(t *frame.Table) error {
	var idxs []int
	for i, c := range t.Columns {
		if c != g.Target && strings.HasPrefix(c, g.Prefix) {
			idxs = append(idxs, i)
		}
	}
	if len(idxs) == 0 {
		return nil
	}
	values := make([]any, t.NumRows())
	for r, row := range t.Rows {
		sum, n := 0.0, 0
		for _, i := range idxs {
			if v, ok := row[i].(float64); ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			values[r] = round2(sum / float64(n))
		}
	}
	return t.AddColumn(g.Target, values)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
