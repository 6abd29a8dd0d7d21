package opt

import "time"

// RunStats summarises one optimization run for reporting.
type RunStats struct {
	Algorithm  string  `json:"algo"`
	Routes     int     `json:"routes"`
	Stops      int     `json:"stops"`
	Dropped    int     `json:"dropped"`
	DistanceKm float64 `json:"distanceKm"`
	TimeHours  float64 `json:"timeHours"`
	ElapsedMs  int64   `json:"elapsedMs"`
}

// Summarize reports res against the number of stops that were submitted.
// Empty routes are not counted.
func Summarize(res Result, submitted int, elapsed time.Duration) RunStats {
	st := RunStats{
		Algorithm:  res.Algorithm.String(),
		DistanceKm: res.TotalDistanceKm,
		TimeHours:  res.TotalTimeHours,
		ElapsedMs:  elapsed.Milliseconds(),
	}
	for _, r := range res.Routes {
		if len(r.Stops) == 0 {
			continue
		}
		st.Routes++
		st.Stops += len(r.Stops)
	}
	st.Dropped = submitted - st.Stops
	return st
}

// Map returns the stats as a generic document for storage.
func (s RunStats) Map() map[string]any {
	return map[string]any{
		"algo":       s.Algorithm,
		"routes":     s.Routes,
		"stops":      s.Stops,
		"dropped":    s.Dropped,
		"distanceKm": s.DistanceKm,
		"timeHours":  s.TimeHours,
		"elapsedMs":  s.ElapsedMs,
	}
}
