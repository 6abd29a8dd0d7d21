package opt

import (
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// ClarkeWright merges singleton routes in order of decreasing savings.
//
// A merge appends the whole group of j after the whole group of i and is
// refused when both stops already share a group or when the merged demand
// would exceed the largest vehicle capacity. Groups are then handed to
// vehicles in fleet order, each to the first unused vehicle that can carry
// it. Groups left without a vehicle are dropped.
type ClarkeWright struct {
	Options Options
}

type saving struct {
	i, j  int
	value float64
}

func (cw ClarkeWright) Solve(depot Depot, stops []Stop, vehicles []Vehicle) Result {
	m := NewMatrix(depot, stops)
	maxCap := 0.0
	for _, v := range vehicles {
		maxCap = max(maxCap, v.Capacity)
	}

	groups := newGroups(stops)
	for _, s := range cw.savings(m, len(stops)) {
		groups.merge(s.i, s.j, maxCap)
	}

	used := make([]bool, len(vehicles))
	var routes []Route
	for _, g := range groups.collect() {
		load := groups.load[groups.find(g[0])]
		for vi, v := range vehicles {
			if used[vi] || !fits(load, v.Capacity) {
				continue
			}
			used[vi] = true
			routes = append(routes, buildRoute(m, stops, v.ID, g, cw.Options))
			break
		}
	}
	return newResult(AlgoClarkeWright, routes)
}

// savings returns every pair i<j sorted by decreasing saving. Equal savings
// keep generation order.
func (cw ClarkeWright) savings(m *Matrix, n int) []saving {
	if n < 2 {
		return nil
	}
	out := make([]saving, n*(n-1)/2)
	// offset of the first pair for row i
	offset := func(i int) int { return i*n - i*(i+1)/2 }
	fill := func(from, to int) {
		for i := from; i < to; i++ {
			k := offset(i)
			for j := i + 1; j < n; j++ {
				out[k] = saving{i: i, j: j, value: m.FromDepot(i) + m.FromDepot(j) - m.Between(i, j)}
				k++
			}
		}
	}
	if pm := cw.Options.parallelMin(); pm > 0 && n >= pm {
		var g errgroup.Group
		workers := runtime.GOMAXPROCS(0)
		chunk := (n + workers - 1) / workers
		for from := 0; from < n; from += chunk {
			from, to := from, min(from+chunk, n)
			g.Go(func() error { fill(from, to); return nil })
		}
		_ = g.Wait()
	} else {
		fill(0, n)
	}
	slices.SortStableFunc(out, func(a, b saving) int {
		switch {
		case a.value > b.value:
			return -1
		case a.value < b.value:
			return 1
		}
		return 0
	})
	return out
}

// groups is a union-find over stop indices. Each root owns the ordered
// member list and the total demand of its group.
type groups struct {
	parent  []int
	members [][]int
	load    []float64
}

func newGroups(stops []Stop) *groups {
	g := &groups{parent: make([]int, len(stops)), members: make([][]int, len(stops)), load: make([]float64, len(stops))}
	for i, s := range stops {
		g.parent[i] = i
		g.members[i] = []int{i}
		g.load[i] = s.Demand
	}
	return g
}

func (g *groups) find(i int) int {
	for g.parent[i] != i {
		g.parent[i] = g.parent[g.parent[i]]
		i = g.parent[i]
	}
	return i
}

// merge joins the groups of i and j (i's route first) and reports whether
// it did.
func (g *groups) merge(i, j int, capacity float64) bool {
	ri, rj := g.find(i), g.find(j)
	if ri == rj || !fits(g.load[ri]+g.load[rj], capacity) {
		return false
	}
	g.parent[rj] = ri
	g.members[ri] = append(g.members[ri], g.members[rj]...)
	g.load[ri] += g.load[rj]
	g.members[rj] = nil
	return true
}

// collect returns the member lists of all groups ordered by the smallest
// input index they contain.
func (g *groups) collect() [][]int {
	var out [][]int
	seen := make([]bool, len(g.parent))
	for i := range g.parent {
		r := g.find(i)
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, g.members[r])
	}
	return out
}
