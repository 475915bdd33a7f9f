package survey

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"corridor-mapper/pkg/geometry"
)

// LoadDatasetCSV reads survey data from a CSV file.
//
// Expected header: site,x,y,forest,elevation,count1,...,countJ. Empty count
// cells mark missing occasions. The dataset is validated before returning;
// covariates are left on their raw scale (call Standardize before fitting).
func LoadDatasetCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read survey csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%w: %s: need a header row and at least one site", ErrValidation, path)
	}

	header := records[0]
	if len(header) < 6 {
		return nil, fmt.Errorf("%w: %s: expected site,x,y,forest,elevation,count... columns", ErrValidation, path)
	}

	sites := make([]Site, 0, len(records)-1)
	for rowIdx, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: %s row %d: %d columns, header has %d",
				ErrValidation, path, rowIdx+2, len(rec), len(header))
		}

		x, err := parseFloat(rec[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: x: %v", ErrValidation, path, rowIdx+2, err)
		}
		y, err := parseFloat(rec[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: y: %v", ErrValidation, path, rowIdx+2, err)
		}
		forest, err := parseFloat(rec[3])
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: forest: %v", ErrValidation, path, rowIdx+2, err)
		}
		elev, err := parseFloat(rec[4])
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: elevation: %v", ErrValidation, path, rowIdx+2, err)
		}

		counts := make([]int, 0, len(rec)-5)
		for col, cell := range rec[5:] {
			cell = strings.TrimSpace(cell)
			if cell == "" || strings.EqualFold(cell, "na") {
				counts = append(counts, MissingCount)
				continue
			}
			c, err := strconv.Atoi(cell)
			if err != nil {
				return nil, fmt.Errorf("%w: %s row %d: count %d: non-numeric %q",
					ErrValidation, path, rowIdx+2, col+1, cell)
			}
			counts = append(counts, c)
		}

		sites = append(sites, Site{
			ID:        strings.TrimSpace(rec[0]),
			Loc:       geometry.Point2D{X: x, Y: y},
			Forest:    forest,
			Elevation: elev,
			Counts:    counts,
		})
	}

	return NewDataset(sites)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
