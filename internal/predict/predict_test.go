package predict

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"corridor-mapper/internal/grid"
	"corridor-mapper/internal/nmix"
	"corridor-mapper/internal/survey"
	"corridor-mapper/pkg/geometry"
)

func testGrid(t *testing.T) *grid.StudyAreaGrid {
	t.Helper()
	cells := make([]grid.Cell, 0, 9)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			cells = append(cells, grid.Cell{
				Loc:       geometry.Point2D{X: float64(x), Y: float64(y)},
				Forest:    float64(x) / 3,
				Elevation: 100 + 50*float64(y),
			})
		}
	}
	g, err := grid.NewStudyAreaGrid(cells)
	require.NoError(t, err)
	require.NoError(t, g.Standardize(survey.Scaling{ForestStd: 1, ElevStd: 100}))
	return g
}

func testPosterior(n int) *nmix.Posterior {
	samples := make([]nmix.Sample, n)
	for i := range samples {
		samples[i] = nmix.Sample{
			B0:      0.5 + 0.01*float64(i),
			BForest: 0.8,
			BElev:   -0.2,
			DetectP: 0.5,
		}
	}
	return &nmix.Posterior{Samples: samples, Chains: 2, KeptPerChain: n / 2}
}

func TestNewRequiresStandardizedGrid(t *testing.T) {
	cells := []grid.Cell{{Loc: geometry.Point2D{}, Forest: 0.5, Elevation: 100}}
	g, err := grid.NewStudyAreaGrid(cells)
	require.NoError(t, err)

	_, err = New(testPosterior(4), g)
	assert.ErrorIs(t, err, grid.ErrSchemaMismatch)

	_, err = New(&nmix.Posterior{}, testGrid(t))
	assert.Error(t, err)
}

func TestDrawWithoutReplacement(t *testing.T) {
	p, err := New(testPosterior(100), testGrid(t))
	require.NoError(t, err)

	idx, err := p.Draw(rand.New(rand.NewSource(11)), 40)
	require.NoError(t, err)
	require.Len(t, idx, 40)

	seen := make(map[int]bool)
	for _, i := range idx {
		assert.False(t, seen[i], "index %d drawn twice", i)
		seen[i] = true
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 100)
	}
}

func TestDrawReproducible(t *testing.T) {
	p, err := New(testPosterior(50), testGrid(t))
	require.NoError(t, err)

	a, err := p.Draw(rand.New(rand.NewSource(99)), 20)
	require.NoError(t, err)
	b, err := p.Draw(rand.New(rand.NewSource(99)), 20)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Identical seeds must also give identical rasters.
	ra, err := p.SurfaceAt(a[0])
	require.NoError(t, err)
	rb, err := p.SurfaceAt(b[0])
	require.NoError(t, err)
	assert.Equal(t, ra.Values, rb.Values)
}

func TestDrawBounds(t *testing.T) {
	p, err := New(testPosterior(10), testGrid(t))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	_, err = p.Draw(rng, 0)
	assert.Error(t, err)
	_, err = p.Draw(rng, 11)
	assert.Error(t, err)
}

func TestSurfaceFiniteNonNegative(t *testing.T) {
	p, err := New(testPosterior(5), testGrid(t))
	require.NoError(t, err)

	r, err := p.SurfaceAt(0)
	require.NoError(t, err)
	require.Len(t, r.Values, 9)
	for i, v := range r.Values {
		assert.Falsef(t, math.IsNaN(v), "cell %d", i)
		assert.Falsef(t, math.IsInf(v, 0), "cell %d", i)
		assert.GreaterOrEqual(t, v, 0.0)
	}

	// Identical sample on identical cell yields identical lambda.
	again, err := p.SurfaceAt(0)
	require.NoError(t, err)
	assert.Equal(t, r.Values, again.Values)
}

func TestMeanSurface(t *testing.T) {
	p, err := New(testPosterior(4), testGrid(t))
	require.NoError(t, err)

	mean, err := p.MeanSurface([]int{0, 1, 2, 3})
	require.NoError(t, err)

	// The streamed mean matches a direct average of the surfaces.
	for i := range mean.Values {
		var want float64
		for idx := 0; idx < 4; idx++ {
			surf, err := p.SurfaceAt(idx)
			require.NoError(t, err)
			want += surf.Values[i]
		}
		want /= 4
		assert.InDelta(t, want, mean.Values[i], 1e-10)
	}

	_, err = p.MeanSurface(nil)
	assert.Error(t, err)
}
