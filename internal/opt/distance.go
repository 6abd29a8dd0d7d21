package opt

import "math"

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometres between two
// WGS84 points. Out-of-range coordinates are not validated.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a just past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Matrix holds pairwise distances between the depot (index 0) and the
// stops (index i+1 for stops[i]).
type Matrix struct {
	n int
	d []float64
}

// NewMatrix builds the symmetric distance matrix for one optimization call.
func NewMatrix(depot Depot, stops []Stop) *Matrix {
	n := len(stops) + 1
	m := &Matrix{n: n, d: make([]float64, n*n)}
	lat := func(i int) float64 {
		if i == 0 {
			return depot.Lat
		}
		return stops[i-1].Lat
	}
	lng := func(i int) float64 {
		if i == 0 {
			return depot.Lng
		}
		return stops[i-1].Lng
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := Haversine(lat(i), lng(i), lat(j), lng(j))
			m.d[i*n+j] = v
			m.d[j*n+i] = v
		}
	}
	return m
}

// Size is the number of points, depot included.
func (m *Matrix) Size() int { return m.n }

// Between returns the distance between two stops by stop index.
func (m *Matrix) Between(i, j int) float64 { return m.d[(i+1)*m.n+(j+1)] }

// FromDepot returns the depot-to-stop distance by stop index.
func (m *Matrix) FromDepot(i int) float64 { return m.d[i+1] }

// pathKm is the length of depot -> order... -> depot.
func (m *Matrix) pathKm(order []int) float64 {
	if len(order) == 0 {
		return 0
	}
	total := m.FromDepot(order[0])
	for k := 1; k < len(order); k++ {
		total += m.Between(order[k-1], order[k])
	}
	return total + m.FromDepot(order[len(order)-1])
}
