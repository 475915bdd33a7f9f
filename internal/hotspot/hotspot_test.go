package hotspot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"corridor-mapper/internal/grid"
	"corridor-mapper/pkg/geometry"
)

// lineGrid builds a 1×n grid along the x axis with the given cell values.
func lineGrid(t *testing.T, values []float64) *grid.Raster {
	t.Helper()
	cells := make([]grid.Cell, len(values))
	for i := range cells {
		cells[i] = grid.Cell{Loc: geometry.Point2D{X: float64(i)}, Forest: 0.5, Elevation: 100}
	}
	g, err := grid.NewStudyAreaGrid(cells)
	require.NoError(t, err)
	return &grid.Raster{Grid: g, Values: values}
}

func TestClusterHotspotsEmptySelection(t *testing.T) {
	r := lineGrid(t, []float64{1, 2, 3})
	cfg := DefaultClusterConfig()
	cfg.Threshold = 10 // above the surface maximum

	_, err := ClusterHotspots(r, cfg)
	require.ErrorIs(t, err, ErrEmptyHotspotSet)
	assert.Contains(t, err.Error(), "10")
}

func TestClusterHotspotsTwoGroups(t *testing.T) {
	// Hot cells at x∈{0,1} and x∈{20,21}; the rest cold.
	values := make([]float64, 22)
	values[0], values[1] = 5, 6
	values[20], values[21] = 7, 8
	r := lineGrid(t, values)

	cfg := DefaultClusterConfig()
	cfg.Threshold = 4
	cfg.LinkageDistance = 5

	res, err := ClusterHotspots(r, cfg)
	require.NoError(t, err)
	require.Len(t, res.Hubs, 2)

	assert.Equal(t, "A", res.Hubs[0].Label)
	assert.Equal(t, "B", res.Hubs[1].Label)
	assert.InDelta(t, 0.5, res.Hubs[0].Loc.X, 1e-12)
	assert.InDelta(t, 20.5, res.Hubs[1].Loc.X, 1e-12)
	assert.Equal(t, []int{0, 1}, res.Hubs[0].Members)
	assert.Equal(t, []int{20, 21}, res.Hubs[1].Members)
	assert.Equal(t, []int{0, 1, 20, 21}, res.SelectedCells)
}

func TestClusterHotspotsIdenticalCellsCollapse(t *testing.T) {
	// All selected cells at the same location collapse to one cluster.
	cells := []grid.Cell{
		{Loc: geometry.Point2D{X: 3, Y: 3}, Forest: 0.5, Elevation: 100},
		{Loc: geometry.Point2D{X: 3, Y: 3}, Forest: 0.5, Elevation: 100},
		{Loc: geometry.Point2D{X: 3, Y: 3}, Forest: 0.5, Elevation: 100},
	}
	g, err := grid.NewStudyAreaGrid(cells)
	require.NoError(t, err)
	r := &grid.Raster{Grid: g, Values: []float64{5, 5, 5}}

	cfg := DefaultClusterConfig()
	cfg.Threshold = 1
	cfg.LinkageDistance = 0.5

	res, err := ClusterHotspots(r, cfg)
	require.NoError(t, err)
	require.Len(t, res.Hubs, 1)
	assert.Equal(t, geometry.Point2D{X: 3, Y: 3}, res.Hubs[0].Loc)
	assert.Len(t, res.Hubs[0].Members, 3)
}

func TestCompleteLinkageCutRespected(t *testing.T) {
	// Chain 0-1-2 with unit spacing: single linkage would merge everything,
	// complete linkage at cut=1.5 keeps {0,1} and {2} apart because the
	// merged cluster's span to 2 is 2 > 1.5.
	points := []geometry.Point2D{{X: 0}, {X: 1}, {X: 2}}
	clusters := completeLinkage(points, 1.5)
	require.Len(t, clusters, 2)
	assert.Equal(t, []int{0, 1}, clusters[0])
	assert.Equal(t, []int{2}, clusters[1])
}

func TestHubLabel(t *testing.T) {
	assert.Equal(t, "A", hubLabel(0))
	assert.Equal(t, "C", hubLabel(2))
	assert.Equal(t, "Z", hubLabel(25))
	assert.Equal(t, "AA", hubLabel(26))
	assert.Equal(t, "AB", hubLabel(27))
}

func TestGapStatisticTwoTightGroups(t *testing.T) {
	// Two tight, well-separated blobs: the gap criterion should not suggest
	// treating them as one.
	var points []geometry.Point2D
	for i := 0; i < 10; i++ {
		points = append(points,
			geometry.Point2D{X: float64(i % 3), Y: float64(i % 2)},
			geometry.Point2D{X: 100 + float64(i%3), Y: 100 + float64(i%2)},
		)
	}
	k := GapStatistic(points, 6, 10, rand.New(rand.NewSource(5)))
	assert.GreaterOrEqual(t, k, 2)
}

func TestGapStatisticDegenerate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, 1, GapStatistic(nil, 5, 10, rng))
	assert.Equal(t, 1, GapStatistic([]geometry.Point2D{{X: 1}}, 5, 10, rng))
}

func TestGapStatisticReproducible(t *testing.T) {
	points := []geometry.Point2D{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1},
		{X: 50, Y: 50}, {X: 51, Y: 50}, {X: 50, Y: 51},
	}
	a := GapStatistic(points, 4, 15, rand.New(rand.NewSource(9)))
	b := GapStatistic(points, 4, 15, rand.New(rand.NewSource(9)))
	assert.Equal(t, a, b)
}
