package grid

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// Raster maps each grid cell to a scalar value (predicted abundance,
// elevation, corridor frequency). Values are indexed in grid order.
type Raster struct {
	Grid   *StudyAreaGrid
	Values []float64
}

// NewRaster allocates a zero raster over the grid.
func NewRaster(g *StudyAreaGrid) *Raster {
	return &Raster{Grid: g, Values: make([]float64, len(g.Cells))}
}

// ElevationRaster builds a raster of the grid's elevation covariate, used for
// the elevation-only corridor baseline.
func ElevationRaster(g *StudyAreaGrid) *Raster {
	r := NewRaster(g)
	for i := range g.Cells {
		r.Values[i] = g.Cells[i].Elevation
	}
	return r
}

// Mean returns the mean cell value.
func (r *Raster) Mean() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	return floats.Sum(r.Values) / float64(len(r.Values))
}

// Max returns the maximum cell value.
func (r *Raster) Max() float64 {
	return floats.Max(r.Values)
}

// AddScaled accumulates other into r cell-wise, scaled by w. Used for
// streaming ensemble means without retaining the ensemble.
func (r *Raster) AddScaled(w float64, other *Raster) error {
	if len(other.Values) != len(r.Values) {
		return fmt.Errorf("raster size mismatch: %d vs %d", len(other.Values), len(r.Values))
	}
	floats.AddScaled(r.Values, w, other.Values)
	return nil
}

// WriteCSV writes the raster as x,y,value rows with a header, the generic
// tabular form downstream renderers consume.
func (r *Raster) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"x", "y", "value"}); err != nil {
		return fmt.Errorf("write raster header: %w", err)
	}
	for i, v := range r.Values {
		loc := r.Grid.Cells[i].Loc
		rec := []string{
			strconv.FormatFloat(loc.X, 'g', -1, 64),
			strconv.FormatFloat(loc.Y, 'g', -1, 64),
			strconv.FormatFloat(v, 'g', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write raster row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}
