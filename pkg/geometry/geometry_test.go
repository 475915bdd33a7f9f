package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	a := NewPoint2D(0, 0)
	b := NewPoint2D(3, 4)
	assert.InDelta(t, 5.0, a.Distance(b), 1e-12)
	assert.InDelta(t, 5.0, b.Distance(a), 1e-12)
	assert.Zero(t, a.Distance(a))
}

func TestCentroid(t *testing.T) {
	pts := []Point2D{{0, 0}, {2, 0}, {2, 2}, {0, 2}}
	c := Centroid(pts)
	assert.Equal(t, Point2D{X: 1, Y: 1}, c)

	assert.Equal(t, Point2D{}, Centroid(nil))
}

func TestBoundingBox(t *testing.T) {
	pts := []Point2D{{1, 5}, {-2, 3}, {4, -1}}
	r := BoundingBox(pts)
	assert.Equal(t, Rect{X: -2, Y: -1, Width: 6, Height: 6}, r)
}

func TestPathLength(t *testing.T) {
	tests := []struct {
		name   string
		points []Point2D
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []Point2D{{1, 1}}, 0},
		{"straight", []Point2D{{0, 0}, {0, 3}, {0, 5}}, 5},
		{"diagonal", []Point2D{{0, 0}, {1, 1}}, math.Sqrt2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PathLength(tt.points), 1e-12)
		})
	}
}

func TestNearestIndex(t *testing.T) {
	cands := []Point2D{{0, 0}, {5, 0}, {5, 5}}
	assert.Equal(t, 1, NearestIndex(Point2D{X: 4, Y: 1}, cands))
	assert.Equal(t, -1, NearestIndex(Point2D{}, nil))

	// Equidistant candidates keep the earlier index.
	assert.Equal(t, 0, NearestIndex(Point2D{X: 2.5, Y: 0}, cands[:2]))
}

func TestConvexHull(t *testing.T) {
	// Square plus an interior point: the interior point must not survive.
	pts := []Point2D{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {2, 2}}
	hull := ConvexHull(pts)
	require.Len(t, hull, 4)
	for _, h := range hull {
		assert.NotEqual(t, Point2D{X: 2, Y: 2}, h)
	}
}

func TestPolygonArea(t *testing.T) {
	square := []Point2D{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	assert.InDelta(t, 16.0, PolygonArea(square), 1e-12)
	assert.Zero(t, PolygonArea(square[:2]))
}
