package metrics

import (
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )

    // Optimizations counts optimizer runs by algorithm and outcome (ok, error)
    Optimizations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_optimizations_total", Help: "Route optimizations by algorithm and outcome."},
        []string{"algorithm", "outcome"},
    )
    OptimizationDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "route_optimization_duration_seconds", Help: "Route optimization duration in seconds.", Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10}},
        []string{"algorithm"},
    )
    // DroppedStops counts stops no vehicle could take
    DroppedStops = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "route_dropped_stops_total", Help: "Stops left out of every route, by algorithm."},
        []string{"algorithm"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        Registry.MustRegister(Optimizations)
        Registry.MustRegister(OptimizationDuration)
        Registry.MustRegister(DroppedStops)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// ObserveOptimization records one optimizer run. algorithm is the name the
// caller asked for when the run failed before a solver was chosen.
func ObserveOptimization(algorithm string, elapsed time.Duration, dropped int, err error) {
    outcome := "ok"
    if err != nil { outcome = "error" }
    Optimizations.WithLabelValues(algorithm, outcome).Inc()
    if err != nil { return }
    OptimizationDuration.WithLabelValues(algorithm).Observe(elapsed.Seconds())
    if dropped > 0 { DroppedStops.WithLabelValues(algorithm).Add(float64(dropped)) }
}

// ObserveWebhook records one delivery attempt.
func ObserveWebhook(eventType, status string, latencyMs int) {
    WebhookDeliveries.WithLabelValues(eventType, status).Inc()
    WebhookLatency.WithLabelValues(eventType, status).Observe(float64(latencyMs))
}
