package engine

import "math"

// CostFn returns the cost of treating data[start:end) as one segment.
type CostFn func(start, end int) float64

// SquaredErrorCost builds the default segment cost: within-segment sum of
// squared deviations from the segment mean, O(1) per query via prefix sums.
// Suited to detecting shifts in the mean of a piecewise-constant signal.
func SquaredErrorCost(data []float64) CostFn {
	n := len(data)
	sum := make([]float64, n+1)
	sumSq := make([]float64, n+1)
	for i, v := range data {
		sum[i+1] = sum[i] + v
		sumSq[i+1] = sumSq[i] + v*v
	}
	return func(start, end int) float64 {
		length := end - start
		if length <= 0 {
			return 0
		}
		segSum := sum[end] - sum[start]
		segSumSq := sumSq[end] - sumSq[start]
		return segSumSq - segSum*segSum/float64(length)
	}
}

// Pelt segments data into statistically distinct regimes using the exact
// PELT dynamic program with pruning. It returns change-point indices in
// ascending order; each index marks the start of a new segment. The series
// start is never reported, nor is len(data).
//
// A nil cost falls back to SquaredErrorCost(data). Higher penalties never
// increase the number of detected change points.
func Pelt(data []float64, cost CostFn, penalty float64) []int {
	n := len(data)
	if n == 0 {
		return []int{}
	}
	if cost == nil {
		cost = SquaredErrorCost(data)
	}
	if penalty < 0 {
		penalty = 0
	}

	// F[t] is the optimal cost of data[0:t) with a per-segment penalty;
	// seeding F[0] with -penalty cancels the first segment's charge.
	F := make([]float64, n+1)
	F[0] = -penalty
	prev := make([]int, n+1)
	candidates := []int{0}

	for t := 1; t <= n; t++ {
		bestCost := math.Inf(1)
		bestTau := 0
		for _, tau := range candidates {
			c := F[tau] + cost(tau, t) + penalty
			if c < bestCost {
				bestCost = c
				bestTau = tau
			}
		}
		F[t] = bestCost
		prev[t] = bestTau

		// Standard PELT pruning: a candidate that cannot beat F[t] even
		// without its penalty can never be optimal for any later t.
		pruned := candidates[:0]
		for _, tau := range candidates {
			if F[tau]+cost(tau, t) <= F[t] {
				pruned = append(pruned, tau)
			}
		}
		candidates = append(pruned, t)
	}

	points := []int{}
	for tau := prev[n]; tau > 0; tau = prev[tau] {
		points = append(points, tau)
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points
}
