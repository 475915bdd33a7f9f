// Package grid provides the prediction-domain grid and abundance rasters.
package grid

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"corridor-mapper/internal/survey"
	"corridor-mapper/pkg/geometry"
)

// ErrSchemaMismatch reports a grid whose covariate schema does not match the
// survey data a model was fitted to.
var ErrSchemaMismatch = errors.New("grid covariate schema mismatch")

// Cell is one prediction-grid location with the survey covariate schema.
type Cell struct {
	Loc       geometry.Point2D `json:"loc"`
	Forest    float64          `json:"forest"`
	Elevation float64          `json:"elevation"`
}

// StudyAreaGrid is an ordered sequence of cells covering the prediction
// domain. Cells are stored row-major when the grid is regular; irregular
// cell sets are supported, only NearestCell then scans linearly.
type StudyAreaGrid struct {
	Cells []Cell

	standardized bool
	scaling      survey.Scaling
}

// NewStudyAreaGrid validates the cells and wraps them in a grid.
func NewStudyAreaGrid(cells []Cell) (*StudyAreaGrid, error) {
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: no cells", ErrSchemaMismatch)
	}
	for i, c := range cells {
		if !finite(c.Forest) || !finite(c.Elevation) {
			return nil, fmt.Errorf("%w: cell %d: non-finite covariate", ErrSchemaMismatch, i)
		}
	}
	return &StudyAreaGrid{Cells: cells}, nil
}

// Standardize applies the survey covariate scaling to every cell, so that
// grid covariates live on the scale the model coefficients were fitted on.
// It fails if called twice with different scalings.
func (g *StudyAreaGrid) Standardize(sc survey.Scaling) error {
	if g.standardized {
		if sc != g.scaling {
			return fmt.Errorf("%w: grid already standardized with a different scaling", ErrSchemaMismatch)
		}
		return nil
	}
	for i := range g.Cells {
		g.Cells[i].Forest, g.Cells[i].Elevation = sc.Apply(g.Cells[i].Forest, g.Cells[i].Elevation)
	}
	g.standardized = true
	g.scaling = sc
	return nil
}

// Standardized reports whether survey scaling has been applied.
func (g *StudyAreaGrid) Standardized() bool {
	return g.standardized
}

// NearestCell returns the index of the cell whose location is closest to p.
func (g *StudyAreaGrid) NearestCell(p geometry.Point2D) int {
	return geometry.NearestIndex(p, g.Locations())
}

// Locations returns the cell locations in grid order.
func (g *StudyAreaGrid) Locations() []geometry.Point2D {
	locs := make([]geometry.Point2D, len(g.Cells))
	for i := range g.Cells {
		locs[i] = g.Cells[i].Loc
	}
	return locs
}

// LoadGridCSV reads a prediction grid from a CSV file with header
// x,y,forest,elevation. Covariates are left raw; apply the survey scaling
// with Standardize before prediction.
func LoadGridCSV(path string) (*StudyAreaGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read grid csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s: need a header row and at least one cell", ErrSchemaMismatch, path)
	}
	if len(records[0]) < 4 {
		return nil, fmt.Errorf("%w: %s: expected x,y,forest,elevation columns", ErrSchemaMismatch, path)
	}

	cells := make([]Cell, 0, len(records)-1)
	for rowIdx, rec := range records[1:] {
		vals := make([]float64, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d col %d: %v", ErrSchemaMismatch, path, rowIdx+2, i+1, err)
			}
			vals[i] = v
		}
		cells = append(cells, Cell{
			Loc:       geometry.Point2D{X: vals[0], Y: vals[1]},
			Forest:    vals[2],
			Elevation: vals[3],
		})
	}
	return NewStudyAreaGrid(cells)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
