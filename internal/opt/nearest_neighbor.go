package opt

// NearestNeighbor builds one route per vehicle, in fleet order, by repeatedly
// driving to the closest unvisited stop that still fits the remaining
// capacity. Ties go to the stop listed first in the input. Stops left over
// once every vehicle is full are dropped, they are never reassigned.
type NearestNeighbor struct {
	Options Options
}

func (nn NearestNeighbor) Solve(depot Depot, stops []Stop, vehicles []Vehicle) Result {
	m := NewMatrix(depot, stops)
	visited := make([]bool, len(stops))
	routes := make([]Route, 0, len(vehicles))
	for _, v := range vehicles {
		order := nn.walk(m, stops, visited, v.Capacity)
		routes = append(routes, buildRoute(m, stops, v.ID, order, nn.Options))
	}
	return newResult(AlgoNearestNeighbor, routes)
}

// walk marks the stops it takes as visited and returns them in visit order.
func (nn NearestNeighbor) walk(m *Matrix, stops []Stop, visited []bool, capacity float64) []int {
	var order []int
	load := 0.0
	cur := -1 // depot
	for {
		best := -1
		bestDist := 0.0
		for i, s := range stops {
			if visited[i] || !fits(load+s.Demand, capacity) {
				continue
			}
			d := m.FromDepot(i)
			if cur >= 0 {
				d = m.Between(cur, i)
			}
			if best < 0 || d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			return order
		}
		visited[best] = true
		load += stops[best].Demand
		order = append(order, best)
		cur = best
	}
}
