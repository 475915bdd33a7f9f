package hotspot

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"corridor-mapper/pkg/geometry"
)

// GapStatistic searches candidate cluster counts 1..kMax and returns the
// count suggested by the gap criterion: the smallest k whose gap value is
// within one reference standard error of the next k's gap.
//
// For each k the within-cluster dispersion of a k-means partition is compared
// against the expected dispersion of boot uniform reference sets drawn over
// the points' bounding box with the injected random source.
func GapStatistic(points []geometry.Point2D, kMax, boot int, rng *rand.Rand) int {
	if len(points) < 2 || kMax < 2 {
		return 1
	}
	if kMax > len(points) {
		kMax = len(points)
	}
	if boot < 1 {
		boot = 1
	}

	gaps := make([]float64, kMax+1)
	errs := make([]float64, kMax+1)
	box := geometry.BoundingBox(points)

	for k := 1; k <= kMax; k++ {
		obs := math.Log(kmeansDispersion(points, k, rng))

		refLogs := make([]float64, boot)
		for b := 0; b < boot; b++ {
			ref := make([]geometry.Point2D, len(points))
			for i := range ref {
				ref[i] = geometry.Point2D{
					X: box.X + rng.Float64()*box.Width,
					Y: box.Y + rng.Float64()*box.Height,
				}
			}
			refLogs[b] = math.Log(kmeansDispersion(ref, k, rng))
		}

		mean, sd := stat.MeanStdDev(refLogs, nil)
		if boot == 1 {
			sd = 0
		}
		gaps[k] = mean - obs
		errs[k] = sd * math.Sqrt(1+1/float64(boot))
	}

	for k := 1; k < kMax; k++ {
		if gaps[k] >= gaps[k+1]-errs[k+1] {
			return k
		}
	}
	return kMax
}

// kmeansDispersion runs Lloyd's algorithm and returns the summed
// within-cluster squared distance. A tiny floor keeps the log defined for
// degenerate partitions.
func kmeansDispersion(points []geometry.Point2D, k int, rng *rand.Rand) float64 {
	if k >= len(points) {
		return 1e-12
	}

	// k-means++ style seeding: first center uniform, then proportional to
	// squared distance from the nearest chosen center.
	centers := make([]geometry.Point2D, 0, k)
	centers = append(centers, points[rng.Intn(len(points))])
	for len(centers) < k {
		weights := make([]float64, len(points))
		var total float64
		for i, p := range points {
			d := nearestSq(p, centers)
			weights[i] = d
			total += d
		}
		if total == 0 {
			// All points coincide with a center; any choice is equivalent.
			centers = append(centers, points[rng.Intn(len(points))])
			continue
		}
		target := rng.Float64() * total
		for i, w := range weights {
			target -= w
			if target <= 0 {
				centers = append(centers, points[i])
				break
			}
		}
	}

	assign := make([]int, len(points))
	for iter := 0; iter < 100; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c, ctr := range centers {
				if d := distSq(p, ctr); d < bestD {
					bestD = d
					best = c
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([]geometry.Point2D, k)
		counts := make([]int, k)
		for i, p := range points {
			sums[assign[i]] = sums[assign[i]].Add(p)
			counts[assign[i]]++
		}
		for c := range centers {
			if counts[c] > 0 {
				centers[c] = sums[c].Scale(1 / float64(counts[c]))
			}
		}
	}

	var disp float64
	for i, p := range points {
		disp += distSq(p, centers[assign[i]])
	}
	if disp < 1e-12 {
		disp = 1e-12
	}
	return disp
}

func nearestSq(p geometry.Point2D, centers []geometry.Point2D) float64 {
	best := math.Inf(1)
	for _, c := range centers {
		if d := distSq(p, c); d < best {
			best = d
		}
	}
	return best
}

func distSq(a, b geometry.Point2D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}
