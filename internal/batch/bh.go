package batch

import (
	"math"
	"sort"
)

// AdjustBH returns Benjamini-Hochberg adjusted p-values in input order.
// Each adjusted value is min over ranks k >= rank(i) of p(k)*n/k, capped
// at 1, so it is never below the raw value.
func AdjustBH(p []float64) []float64 {
	n := len(p)
	if n == 0 {
		return nil
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	adj := make([]float64, n)
	running := 1.0
	for rank := n; rank >= 1; rank-- {
		i := order[rank-1]
		running = math.Min(running, p[i]*(float64(n)/float64(rank)))
		// p*n/n can round below p.
		adj[i] = math.Max(running, p[i])
	}
	return adj
}
