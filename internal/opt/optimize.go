// Package opt implements capacity-constrained delivery route construction
// over great-circle distances.
package opt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedAlgorithm is returned for algorithm names other than
	// NearestNeighbor and ClarkeWright.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	// ErrEmptyResult is returned when no route can be produced because the
	// fleet is empty.
	ErrEmptyResult = errors.New("optimization produced no routes")
)

// Stop is a point to visit with the load it consumes.
type Stop struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Demand float64 `json:"demand"`
}

// Depot is the start and end of every route.
type Depot struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Vehicle struct {
	ID       string  `json:"id"`
	Capacity float64 `json:"capacity"`
}

// Route is the ordered itinerary of one vehicle.
type Route struct {
	VehicleID  string  `json:"vehicleId"`
	Stops      []Stop  `json:"stops"`
	DistanceKm float64 `json:"distanceKm"`
	TimeHours  float64 `json:"timeHours"`
	Load       float64 `json:"load"`
}

type Result struct {
	Algorithm       AlgorithmKind `json:"algorithm"`
	Routes          []Route       `json:"routes"`
	TotalDistanceKm float64       `json:"totalDistanceKm"`
	TotalTimeHours  float64       `json:"totalTimeHours"`
}

// Dropped lists the IDs of stops that appear in no route, in input order.
func (r Result) Dropped(stops []Stop) []string {
	seen := make(map[string]struct{}, len(stops))
	for _, rt := range r.Routes {
		for _, s := range rt.Stops {
			seen[s.ID] = struct{}{}
		}
	}
	var out []string
	for _, s := range stops {
		if _, ok := seen[s.ID]; !ok {
			out = append(out, s.ID)
		}
	}
	return out
}

// AlgorithmKind names a construction heuristic.
type AlgorithmKind string

const (
	AlgoNearestNeighbor AlgorithmKind = "NearestNeighbor"
	AlgoClarkeWright    AlgorithmKind = "ClarkeWright"
)

func (k AlgorithmKind) String() string { return string(k) }

// ParseAlgorithm matches name case-insensitively against the supported kinds.
func ParseAlgorithm(name string) (AlgorithmKind, error) {
	n := strings.TrimSpace(name)
	for _, k := range []AlgorithmKind{AlgoNearestNeighbor, AlgoClarkeWright} {
		if strings.EqualFold(n, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// RouteSolver builds routes for a fleet from a shared pool of stops.
type RouteSolver interface {
	Solve(depot Depot, stops []Stop, vehicles []Vehicle) Result
}

// capacityEpsilon absorbs float rounding when summing demands, so that
// 0.1+0.2 fits a capacity of 0.3.
const capacityEpsilon = 1e-9

func fits(load, capacity float64) bool { return load <= capacity+capacityEpsilon }

// DefaultAverageSpeedKmh converts route distance to travel time.
const DefaultAverageSpeedKmh = 40.0

// Options tunes a solver. The zero value is usable.
type Options struct {
	AverageSpeedKmh float64 `json:"averageSpeedKmh,omitempty" yaml:"averageSpeedKmh"`
	// TwoOpt reorders each finished route with 2-opt. Loads are unchanged.
	TwoOpt bool `json:"twoOpt,omitempty" yaml:"twoOpt"`
	// ParallelSavingsMin is the stop count from which Clarke-Wright computes
	// savings concurrently. 0 means 100, negative disables.
	ParallelSavingsMin int `json:"parallelSavingsMin,omitempty" yaml:"parallelSavingsMin"`
}

func (o Options) speed() float64 {
	if o.AverageSpeedKmh <= 0 {
		return DefaultAverageSpeedKmh
	}
	return o.AverageSpeedKmh
}

func (o Options) parallelMin() int {
	if o.ParallelSavingsMin == 0 {
		return 100
	}
	return o.ParallelSavingsMin
}

// SolverFor returns the solver implementing kind.
func SolverFor(kind AlgorithmKind, o Options) (RouteSolver, error) {
	switch kind {
	case AlgoNearestNeighbor:
		return NearestNeighbor{Options: o}, nil
	case AlgoClarkeWright:
		return ClarkeWright{Options: o}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(kind))
}

// Optimize selects the solver named by algorithm and runs it. It has no side
// effects and is safe for concurrent use.
func Optimize(depot Depot, stops []Stop, vehicles []Vehicle, algorithm string, o Options) (Result, error) {
	kind, err := ParseAlgorithm(algorithm)
	if err != nil {
		return Result{}, err
	}
	if len(vehicles) == 0 {
		return Result{}, ErrEmptyResult
	}
	solver, err := SolverFor(kind, o)
	if err != nil {
		return Result{}, err
	}
	return solver.Solve(depot, stops, vehicles), nil
}

// buildRoute computes the metrics of a route visiting idx in order and,
// when enabled, improves the order first.
func buildRoute(m *Matrix, stops []Stop, vehicleID string, idx []int, o Options) Route {
	if o.TwoOpt && len(idx) > 2 {
		idx = improveIndices(m, idx)
	}
	rt := Route{VehicleID: vehicleID, Stops: make([]Stop, 0, len(idx))}
	for _, i := range idx {
		rt.Stops = append(rt.Stops, stops[i])
		rt.Load += stops[i].Demand
	}
	rt.DistanceKm = m.pathKm(idx)
	rt.TimeHours = rt.DistanceKm / o.speed()
	return rt
}

func newResult(kind AlgorithmKind, routes []Route) Result {
	res := Result{Algorithm: kind, Routes: routes}
	if res.Routes == nil {
		res.Routes = []Route{}
	}
	for _, r := range res.Routes {
		res.TotalDistanceKm += r.DistanceKm
		res.TotalTimeHours += r.TimeHours
	}
	return res
}
