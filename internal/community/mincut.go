package community

import (
	"math"
	"slices"
)

// minCut returns the global minimum cut of an undirected weighted graph
// given as a symmetric matrix, using Stoer-Wagner. side marks the vertices
// on one side of the cut.
func minCut(w [][]float64) (float64, []bool) {
	n := len(w)
	if n < 2 {
		return 0, nil
	}
	g := make([][]float64, n)
	for i := range w {
		g[i] = slices.Clone(w[i])
	}
	merged := make([][]int, n)
	for i := range merged {
		merged[i] = []int{i}
	}
	active := make([]int, n)
	for i := range active {
		active[i] = i
	}

	best := math.Inf(1)
	var bestSet []int
	for len(active) > 1 {
		weights := make([]float64, n)
		added := make([]bool, n)
		prev := -1
		for step := 0; step < len(active); step++ {
			sel := -1
			for _, v := range active {
				if !added[v] && (sel < 0 || weights[v] > weights[sel]) {
					sel = v
				}
			}
			if step < len(active)-1 {
				added[sel] = true
				for _, v := range active {
					weights[v] += g[sel][v]
				}
				prev = sel
				continue
			}
			if weights[sel] < best {
				best = weights[sel]
				bestSet = slices.Clone(merged[sel])
			}
			merged[prev] = append(merged[prev], merged[sel]...)
			for _, v := range active {
				g[prev][v] += g[sel][v]
				g[v][prev] = g[prev][v]
			}
			active = slices.DeleteFunc(active, func(v int) bool { return v == sel })
		}
	}

	side := make([]bool, n)
	for _, v := range bestSet {
		side[v] = true
	}
	return best, side
}
