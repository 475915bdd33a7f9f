package corridor

import (
	"sort"

	"corridor-mapper/internal/grid"
)

// Aggregator accumulates per-sample paths into a pixel-level visitation
// frequency surface and per-hub-pair path rankings.
//
// Aggregator is not safe for concurrent use: it is designed as the single
// merge point of a worker fan-in, with one goroutine owning all Accumulate
// and NoteSkip calls.
type Aggregator struct {
	g       *grid.StudyAreaGrid
	visits  []float64
	byPair  map[string][]RankedPath
	pairIDs []string
	skipped int
}

// RankedPath is a path with its precomputed geometric length, tagged with the
// order it arrived in so rankings can stay stable across ties.
type RankedPath struct {
	Path    Path    `json:"path"`
	Length  float64 `json:"length"`
	Arrival int     `json:"arrival"`
}

// NewAggregator creates an aggregator over the study grid.
func NewAggregator(g *grid.StudyAreaGrid) *Aggregator {
	return &Aggregator{
		g:      g,
		visits: make([]float64, len(g.Cells)),
		byPair: make(map[string][]RankedPath),
	}
}

// Accumulate records one sample's path for a hub pair: every visited cell's
// frequency count is bumped and the path is stored for ranking.
func (a *Aggregator) Accumulate(pair string, p Path) {
	for _, cell := range p.Cells {
		if cell >= 0 && cell < len(a.visits) {
			a.visits[cell]++
		}
	}
	if _, ok := a.byPair[pair]; !ok {
		a.pairIDs = append(a.pairIDs, pair)
	}
	a.byPair[pair] = append(a.byPair[pair], RankedPath{
		Path:    p,
		Length:  p.Length(),
		Arrival: len(a.byPair[pair]),
	})
}

// NoteSkip records an unreachable hub-pair sample. Skips reduce the ensemble
// but never fail it; the final summary reports the count.
func (a *Aggregator) NoteSkip(pair string) {
	a.skipped++
}

// Skipped returns how many pair-samples were dropped as unreachable.
func (a *Aggregator) Skipped() int {
	return a.skipped
}

// Frequency returns the per-cell visitation counts as a raster: the number of
// accumulated paths passing through each cell, usable directly as a rendering
// weight.
func (a *Aggregator) Frequency() *grid.Raster {
	r := grid.NewRaster(a.g)
	copy(r.Values, a.visits)
	return r
}

// Pairs lists the hub pairs seen, in first-accumulation order.
func (a *Aggregator) Pairs() []string {
	return append([]string(nil), a.pairIDs...)
}

// Rank returns the pair's accumulated paths ordered by ascending geometric
// length. Ties keep first-accumulation order, so the ranking is
// deterministic; the first entry is the best alignment, the rest are the
// ordered alternatives.
func (a *Aggregator) Rank(pair string) []RankedPath {
	paths := append([]RankedPath(nil), a.byPair[pair]...)
	sort.SliceStable(paths, func(i, j int) bool {
		return paths[i].Length < paths[j].Length
	})
	return paths
}
