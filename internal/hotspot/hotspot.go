// Package hotspot turns a mean abundance surface into a small set of discrete
// hub locations to connect with corridors.
//
// Cells above an abundance cutoff are grouped by complete-linkage
// agglomerative clustering on their planar coordinates; each cluster's
// centroid becomes a hub. A gap-statistic search reports a suggested cluster
// count as a diagnostic, but the cut is always taken at the caller's linkage
// distance.
package hotspot

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"

	"corridor-mapper/internal/grid"
	"corridor-mapper/pkg/geometry"
)

// ErrEmptyHotspotSet reports an abundance threshold that selected no cells.
var ErrEmptyHotspotSet = errors.New("empty hotspot set")

// Hub is a cluster centroid, labeled ordinally in cluster order.
type Hub struct {
	Label string           `json:"label"`
	Loc   geometry.Point2D `json:"loc"`

	// Members are the grid cell indices belonging to the cluster.
	Members []int `json:"members"`

	// Footprint is the convex hull of the member cell locations, with its
	// enclosed area; a rough rendering of the hotspot's spatial extent.
	Footprint     []geometry.Point2D `json:"footprint,omitempty"`
	FootprintArea float64            `json:"footprint_area"`
}

// ClusterConfig controls hotspot selection and clustering.
type ClusterConfig struct {
	// Threshold selects cells whose mean abundance exceeds it. This is a
	// user-supplied spatial filter, not a statistical test.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// LinkageDistance is the complete-linkage cut height: merging stops once
	// the closest cluster pair is farther apart than this.
	LinkageDistance float64 `yaml:"linkage_distance" json:"linkage_distance"`

	// KMax bounds the gap-statistic search over candidate cluster counts.
	KMax int `yaml:"k_max" json:"k_max"`

	// Bootstrap is the number of gap-statistic reference replications.
	Bootstrap int `yaml:"bootstrap" json:"bootstrap"`

	// Seed feeds the gap-statistic reference sampler.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultClusterConfig returns the standard clustering settings.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Threshold:       2.0,
		LinkageDistance: 10.0,
		KMax:            8,
		Bootstrap:       20,
		Seed:            1,
	}
}

// Result holds the hubs plus the gap-statistic diagnostic.
type Result struct {
	Hubs []Hub `json:"hubs"`

	// SelectedCells are the grid indices that passed the threshold.
	SelectedCells []int `json:"selected_cells"`

	// SuggestedK is the gap-statistic cluster count, reported as a
	// diagnostic to help tune LinkageDistance.
	SuggestedK int `json:"suggested_k"`
}

// ClusterHotspots selects and clusters high-abundance cells of the mean
// raster. Fails with ErrEmptyHotspotSet when the threshold selects nothing;
// the error names the threshold to aid tuning.
func ClusterHotspots(mean *grid.Raster, cfg ClusterConfig) (*Result, error) {
	var selected []int
	for i, v := range mean.Values {
		if v > cfg.Threshold {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: abundance threshold %g exceeds surface maximum %g",
			ErrEmptyHotspotSet, cfg.Threshold, mean.Max())
	}

	points := make([]geometry.Point2D, len(selected))
	for i, cell := range selected {
		points[i] = mean.Grid.Cells[cell].Loc
	}

	suggested := 1
	if cfg.KMax > 1 && len(points) > 1 {
		rng := rand.New(rand.NewSource(cfg.Seed))
		suggested = GapStatistic(points, cfg.KMax, cfg.Bootstrap, rng)
	}

	clusters := completeLinkage(points, cfg.LinkageDistance)

	hubs := make([]Hub, len(clusters))
	for ci, members := range clusters {
		memberPts := make([]geometry.Point2D, len(members))
		memberCells := make([]int, len(members))
		for mi, pi := range members {
			memberPts[mi] = points[pi]
			memberCells[mi] = selected[pi]
		}
		hull := geometry.ConvexHull(memberPts)
		hubs[ci] = Hub{
			Label:         hubLabel(ci),
			Loc:           geometry.Centroid(memberPts),
			Members:       memberCells,
			Footprint:     hull,
			FootprintArea: geometry.PolygonArea(hull),
		}
	}

	return &Result{Hubs: hubs, SelectedCells: selected, SuggestedK: suggested}, nil
}

// completeLinkage performs agglomerative clustering with complete linkage on
// planar Euclidean distance, cutting when the minimum inter-cluster linkage
// exceeds cut. Returns clusters as point-index sets ordered by their smallest
// member index, which makes labeling deterministic.
func completeLinkage(points []geometry.Point2D, cut float64) [][]int {
	clusters := make([][]int, len(points))
	for i := range points {
		clusters[i] = []int{i}
	}

	// Complete linkage: inter-cluster distance is the farthest member pair.
	linkage := func(a, b []int) float64 {
		var worst float64
		for _, i := range a {
			for _, j := range b {
				if d := points[i].Distance(points[j]); d > worst {
					worst = d
				}
			}
		}
		return worst
	}

	for len(clusters) > 1 {
		bestA, bestB := -1, -1
		bestD := math.Inf(1)
		for a := 0; a < len(clusters); a++ {
			for b := a + 1; b < len(clusters); b++ {
				// Strict < keeps the first-seen pair on ties.
				if d := linkage(clusters[a], clusters[b]); d < bestD {
					bestD = d
					bestA, bestB = a, b
				}
			}
		}
		if bestD > cut {
			break
		}
		merged := append(append([]int{}, clusters[bestA]...), clusters[bestB]...)
		sort.Ints(merged)
		clusters = append(clusters[:bestB], clusters[bestB+1:]...)
		clusters[bestA] = merged
	}

	sort.Slice(clusters, func(a, b int) bool {
		return clusters[a][0] < clusters[b][0]
	})
	return clusters
}

// hubLabel returns ordinal labels A, B, ..., Z, AA, AB, ... like spreadsheet
// columns.
func hubLabel(i int) string {
	label := ""
	for {
		label = string(rune('A'+i%26)) + label
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	return label
}
