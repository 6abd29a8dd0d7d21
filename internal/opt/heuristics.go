package opt

// twoOptIterations bounds the improvement passes per route.
const twoOptIterations = 50

func improveIndices(m *Matrix, order []int) []int {
	return ImproveOrder2Opt(m, order, twoOptIterations)
}

// ImproveOrder2Opt applies 2-opt to a route of stop indices that starts and
// ends at the depot. A swap is kept only when it shortens the route by more
// than a metre.
func ImproveOrder2Opt(m *Matrix, order []int, iterations int) []int {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	bestDist := m.pathKm(best)
	n := len(best)
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := twoOptSwap(best, i, k)
				if d := m.pathKm(cand); d+1e-3 < bestDist {
					best, bestDist = cand, d
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}
