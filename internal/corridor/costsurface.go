// Package corridor builds resistance surfaces over the study-area grid and
// routes least-cost paths between hubs.
package corridor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"corridor-mapper/internal/grid"
)

// ErrUnreachableHub reports a hub pair with no connecting route through the
// finite cells of the cost surface.
var ErrUnreachableHub = errors.New("unreachable hub")

// ErrBadCost reports a resistance function producing NaN or negative edge
// weights; rejected when the surface is built, never deferred to search time.
var ErrBadCost = errors.New("invalid cost surface")

// ResistanceFunc maps the raster values of two adjacent cells to the cost of
// moving from the first to the second. Directional: f(a,b) need not equal
// f(b,a).
type ResistanceFunc func(from, to float64) float64

// DefaultResistance is the directional penalty used for corridor routing:
// max of the two cell values, minus the origin value, plus the destination
// value. The arithmetic is the contract; callers relying on a different
// ecological interpretation should pass their own function.
func DefaultResistance(from, to float64) float64 {
	return math.Max(from, to) - from + to
}

// 8-connected neighbor offsets with their geometric correction. Diagonal
// edges are scaled by √2 relative to cardinal edges; no other scaling is
// applied.
var (
	neighborDX    = [8]int{-1, 0, 1, -1, 1, -1, 0, 1}
	neighborDY    = [8]int{-1, -1, -1, 0, 0, 1, 1, 1}
	neighborScale = [8]float64{math.Sqrt2, 1, math.Sqrt2, 1, 1, math.Sqrt2, 1, math.Sqrt2}
)

// CostSurface is a directed weighted graph over the raster's cells with
// 8-connectivity on the underlying lattice. NaN-valued cells are excluded
// from the node set. Construction validates every edge weight.
type CostSurface struct {
	raster *grid.Raster
	fn     ResistanceFunc

	cols, rows int
	lattice    []int // (row,col) → raster cell index, -1 where absent
	colOf      []int // raster cell → lattice column
	rowOf      []int // raster cell → lattice row
}

// BuildCostSurface arranges the raster's cells on their coordinate lattice
// and validates the resistance function over every adjacent finite pair.
// NaN cells are dropped from the graph; NaN or negative edge weights between
// finite cells fail with ErrBadCost.
func BuildCostSurface(r *grid.Raster, fn ResistanceFunc) (*CostSurface, error) {
	if fn == nil {
		fn = DefaultResistance
	}

	cs := &CostSurface{raster: r, fn: fn}
	if err := cs.buildLattice(); err != nil {
		return nil, err
	}

	// Validate both directions of every edge up front so search never sees
	// a bad weight.
	for cell := range r.Values {
		if !cs.included(cell) {
			continue
		}
		for d := 0; d < 8; d++ {
			to, ok := cs.neighbor(cell, d)
			if !ok {
				continue
			}
			w := fn(r.Values[cell], r.Values[to])
			if math.IsNaN(w) {
				return nil, fmt.Errorf("%w: NaN weight between cells %d and %d", ErrBadCost, cell, to)
			}
			if w < 0 {
				return nil, fmt.Errorf("%w: negative weight %g between cells %d and %d", ErrBadCost, w, cell, to)
			}
		}
	}
	return cs, nil
}

// buildLattice derives the regular row/column structure from distinct cell
// coordinates.
func (cs *CostSurface) buildLattice() error {
	cells := cs.raster.Grid.Cells

	xs := distinctCoords(cells, func(c *grid.Cell) float64 { return c.Loc.X })
	ys := distinctCoords(cells, func(c *grid.Cell) float64 { return c.Loc.Y })
	cs.cols, cs.rows = len(xs), len(ys)

	xIdx := make(map[float64]int, len(xs))
	for i, v := range xs {
		xIdx[v] = i
	}
	yIdx := make(map[float64]int, len(ys))
	for i, v := range ys {
		yIdx[v] = i
	}

	cs.lattice = make([]int, cs.cols*cs.rows)
	for i := range cs.lattice {
		cs.lattice[i] = -1
	}
	cs.colOf = make([]int, len(cells))
	cs.rowOf = make([]int, len(cells))

	for i := range cells {
		col, row := xIdx[cells[i].Loc.X], yIdx[cells[i].Loc.Y]
		cs.colOf[i], cs.rowOf[i] = col, row
		slot := row*cs.cols + col
		if prev := cs.lattice[slot]; prev >= 0 {
			return fmt.Errorf("%w: cells %d and %d share location (%g, %g)",
				ErrBadCost, prev, i, cells[i].Loc.X, cells[i].Loc.Y)
		}
		cs.lattice[slot] = i
	}
	return nil
}

// included reports whether the cell participates in the graph.
func (cs *CostSurface) included(cell int) bool {
	return !math.IsNaN(cs.raster.Values[cell])
}

// neighbor resolves direction d from a cell, skipping lattice gaps and
// excluded cells.
func (cs *CostSurface) neighbor(cell, d int) (int, bool) {
	col := cs.colOf[cell] + neighborDX[d]
	row := cs.rowOf[cell] + neighborDY[d]
	if col < 0 || col >= cs.cols || row < 0 || row >= cs.rows {
		return 0, false
	}
	to := cs.lattice[row*cs.cols+col]
	if to < 0 || !cs.included(to) {
		return 0, false
	}
	return to, true
}

// EdgeWeight returns the directed, geometry-corrected cost of moving from
// cell to its neighbor in direction d.
func (cs *CostSurface) edgeWeight(cell, to, d int) float64 {
	return cs.fn(cs.raster.Values[cell], cs.raster.Values[to]) * neighborScale[d]
}

// NodeCount is the number of finite cells in the graph.
func (cs *CostSurface) NodeCount() int {
	n := 0
	for cell := range cs.raster.Values {
		if cs.included(cell) {
			n++
		}
	}
	return n
}

func distinctCoords(cells []grid.Cell, get func(*grid.Cell) float64) []float64 {
	seen := make(map[float64]bool, len(cells))
	var vals []float64
	for i := range cells {
		v := get(&cells[i])
		if !seen[v] {
			seen[v] = true
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}
