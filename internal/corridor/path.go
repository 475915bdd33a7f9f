package corridor

import (
	"container/heap"
	"fmt"

	"corridor-mapper/pkg/geometry"
)

// Path is an ordered cell route between two hubs with its accumulated
// traversal cost. Points are the visited cell centers in travel order.
type Path struct {
	Points []geometry.Point2D `json:"points"`
	Cells  []int              `json:"cells"`
	Cost   float64            `json:"cost"`
}

// Length is the geometric polyline length of the path, distinct from its
// resistance cost.
func (p Path) Length() float64 {
	return geometry.PathLength(p.Points)
}

// ShortestPath routes the least-cost path between two hub locations over the
// cost surface using Dijkstra's algorithm. Each endpoint is snapped to its
// nearest finite cell first. Identical endpoint cells yield a single-point,
// zero-cost path; a missing route fails with ErrUnreachableHub.
//
// The search is a pure function of the surface and the endpoints, so
// concurrent calls on the same surface are safe.
func ShortestPath(cs *CostSurface, hubA, hubB geometry.Point2D) (Path, error) {
	start, ok := cs.nearestIncludedCell(hubA)
	if !ok {
		return Path{}, fmt.Errorf("%w: no finite cell near (%g, %g)", ErrUnreachableHub, hubA.X, hubA.Y)
	}
	end, ok := cs.nearestIncludedCell(hubB)
	if !ok {
		return Path{}, fmt.Errorf("%w: no finite cell near (%g, %g)", ErrUnreachableHub, hubB.X, hubB.Y)
	}

	if start == end {
		return Path{
			Points: []geometry.Point2D{cs.raster.Grid.Cells[start].Loc},
			Cells:  []int{start},
		}, nil
	}

	dist := make(map[int]float64, cs.NodeCount())
	prev := make(map[int]int)
	visited := make(map[int]bool)
	dist[start] = 0

	pq := &costQueue{}
	heap.Init(pq)
	heap.Push(pq, &costItem{cell: start, cost: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*costItem)
		cur := item.cell

		// Lazy decrease-key: stale queue entries are skipped.
		if visited[cur] {
			continue
		}
		visited[cur] = true

		if cur == end {
			return reconstruct(cs, prev, start, end, item.cost), nil
		}

		for d := 0; d < 8; d++ {
			next, ok := cs.neighbor(cur, d)
			if !ok || visited[next] {
				continue
			}
			tentative := item.cost + cs.edgeWeight(cur, next, d)
			known, seen := dist[next]
			// Strict improvement only: the first-discovered predecessor
			// wins ties, keeping routes deterministic.
			if !seen || tentative < known {
				dist[next] = tentative
				prev[next] = cur
				heap.Push(pq, &costItem{cell: next, cost: tentative})
			}
		}
	}

	return Path{}, fmt.Errorf("%w: no route between cells %d and %d", ErrUnreachableHub, start, end)
}

// nearestIncludedCell snaps a point to the closest graph cell. Excluded cells
// are filtered out first so the nearest-point scan only sees routable nodes.
func (cs *CostSurface) nearestIncludedCell(p geometry.Point2D) (int, bool) {
	cells := make([]int, 0, cs.NodeCount())
	locs := make([]geometry.Point2D, 0, cs.NodeCount())
	for cell := range cs.raster.Values {
		if cs.included(cell) {
			cells = append(cells, cell)
			locs = append(locs, cs.raster.Grid.Cells[cell].Loc)
		}
	}
	i := geometry.NearestIndex(p, locs)
	if i < 0 {
		return 0, false
	}
	return cells[i], true
}

// reconstruct walks predecessor pointers from end back to start and reverses.
func reconstruct(cs *CostSurface, prev map[int]int, start, end int, cost float64) Path {
	var cells []int
	for cur := end; ; {
		cells = append(cells, cur)
		if cur == start {
			break
		}
		cur = prev[cur]
	}
	for i, j := 0, len(cells)-1; i < j; i, j = i+1, j-1 {
		cells[i], cells[j] = cells[j], cells[i]
	}

	points := make([]geometry.Point2D, len(cells))
	for i, c := range cells {
		points[i] = cs.raster.Grid.Cells[c].Loc
	}
	return Path{Points: points, Cells: cells, Cost: cost}
}

// costItem is a node in the Dijkstra priority queue.
type costItem struct {
	cell  int
	cost  float64
	index int
}

// costQueue implements heap.Interface ordered by accumulated cost.
type costQueue []*costItem

func (pq costQueue) Len() int           { return len(pq) }
func (pq costQueue) Less(i, j int) bool { return pq[i].cost < pq[j].cost }
func (pq costQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *costQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*costItem)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *costQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
