package opt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	res, err := Optimize(origin, []Stop{stopA, stopB}, []Vehicle{{ID: "v1", Capacity: 15}, {ID: "v2", Capacity: 5}}, "NearestNeighbor", Options{})
	assert.NoError(t, err)

	st := Summarize(res, 2, 1500*time.Microsecond)
	assert.Equal(t, "NearestNeighbor", st.Algorithm)
	assert.Equal(t, 1, st.Routes)
	assert.Equal(t, 1, st.Stops)
	assert.Equal(t, 1, st.Dropped)
	assert.Equal(t, int64(1), st.ElapsedMs)
	assert.InDelta(t, res.TotalDistanceKm, st.DistanceKm, 1e-9)
	assert.Equal(t, "NearestNeighbor", st.Map()["algo"])
}
