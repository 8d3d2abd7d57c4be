package quilt

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"quiltmaker/internal/view"
)

var ErrGrid = errors.New("columns and rows must be positive")

// Layout is the grid of tile paths for one quilt, filled row-major:
// row 0 left to right, then row 1, and so on. It is never mutated after Plan.
type Layout struct {
	index   int
	columns int
	rows    int
	cells   []string
}

func (l Layout) Index() int   { return l.index }
func (l Layout) Columns() int { return l.columns }
func (l Layout) Rows() int    { return l.rows }

// Cell returns the path placed at (row, col).
func (l Layout) Cell(row, col int) string { return l.cells[row*l.columns+col] }

// Paths returns the cells in row-major order.
func (l Layout) Paths() []string { return append([]string(nil), l.cells...) }

// Plan is the outcome of grouping a folder listing into quilts.
type Plan struct {
	Layouts []Layout
	// Invalid holds names without the view marker; they are never placed.
	Invalid []string
	// Unused holds the trailing files that do not fill a whole quilt.
	Unused []string
}

// NewPlan sorts paths by file name, drops names without the view marker and
// groups the rest into floor(n / (columns*rows)) layouts.
func NewPlan(paths []string, columns, rows int) (Plan, error) {
	if columns <= 0 || rows <= 0 {
		return Plan{}, fmt.Errorf("%w: %dx%d", ErrGrid, columns, rows)
	}
	sorted := append([]string(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	plan := Plan{Invalid: make([]string, 0), Unused: make([]string, 0)}
	matched := make([]string, 0, len(sorted))
	for _, p := range sorted {
		if !view.HasMarker(filepath.Base(p)) {
			plan.Invalid = append(plan.Invalid, p)
			continue
		}
		matched = append(matched, p)
	}

	size := columns * rows
	count := len(matched) / size
	plan.Layouts = make([]Layout, 0, count)
	for q := 0; q < count; q++ {
		cells := make([]string, size)
		copy(cells, matched[q*size:(q+1)*size])
		plan.Layouts = append(plan.Layouts, Layout{index: q, columns: columns, rows: rows, cells: cells})
	}
	plan.Unused = append(plan.Unused, matched[count*size:]...)
	return plan, nil
}
