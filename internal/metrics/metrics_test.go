package metrics

import (
    "errors"
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    dto "github.com/prometheus/client_model/go"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func value(t *testing.T, c prometheus.Counter) float64 {
    t.Helper()
    var m dto.Metric
    require.NoError(t, c.Write(&m))
    return m.GetCounter().GetValue()
}

func TestObserveOptimization(t *testing.T) {
    RegisterDefault()
    RegisterDefault() // idempotent

    before := value(t, Optimizations.WithLabelValues("ClarkeWright", "ok"))
    droppedBefore := value(t, DroppedStops.WithLabelValues("ClarkeWright"))
    ObserveOptimization("ClarkeWright", 20*time.Millisecond, 3, nil)
    assert.Equal(t, before+1, value(t, Optimizations.WithLabelValues("ClarkeWright", "ok")))
    assert.Equal(t, droppedBefore+3, value(t, DroppedStops.WithLabelValues("ClarkeWright")))

    errBefore := value(t, Optimizations.WithLabelValues("Bogus", "error"))
    ObserveOptimization("Bogus", 0, 0, errors.New("unsupported"))
    assert.Equal(t, errBefore+1, value(t, Optimizations.WithLabelValues("Bogus", "error")))
}

func TestObserveWebhook(t *testing.T) {
    before := value(t, WebhookDeliveries.WithLabelValues("round.planned", "delivered"))
    ObserveWebhook("round.planned", "delivered", 42)
    assert.Equal(t, before+1, value(t, WebhookDeliveries.WithLabelValues("round.planned", "delivered")))
}
