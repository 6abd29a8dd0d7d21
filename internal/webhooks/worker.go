package webhooks

import (
    "bytes"
    "context"
    "net/http"
    "time"

    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/metrics"
    "tourplan/internal/store"
)

const defaultMaxAttempts = 10

type Worker struct {
    Store       store.Store
    HTTP        *http.Client
    MaxAttempts int
    Interval    time.Duration
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
    if maxAttempts <= 0 { maxAttempts = defaultMaxAttempts }
    return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, Interval: time.Second}
}

// Start polls for due deliveries in the background until ctx is done.
func (w *Worker) Start(ctx context.Context) {
    go w.Run(ctx)
}

func (w *Worker) Run(ctx context.Context) {
    interval := w.Interval
    if interval <= 0 { interval = time.Second }
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            w.processOnce(ctx)
        }
    }
}

func (w *Worker) processOnce(parent context.Context) {
    ctx, cancel := context.WithTimeout(parent, 10*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
    if err != nil { logrus.WithField("component", "webhooks").WithError(err).Warn("fetch due deliveries"); return }
    for _, it := range items {
        success := false
        next := time.Now().Add(nextBackoff(it.Attempts))
        req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
        if err != nil { _ = w.Store.FailWebhookDelivery(ctx, it.ID, err.Error(), 0, 0); metrics.ObserveWebhook(it.EventType, store.DeliveryFailed, 0); continue }
        req.Header.Set("Content-Type", "application/json")
        req.Header.Set("X-Event-Type", it.EventType)
        if it.Secret != "" {
            req.Header.Set(SignatureHeader, Sign(it.Secret, it.Payload, time.Now()))
        }
        start := time.Now()
        resp, err := w.HTTP.Do(req)
        latency := int(time.Since(start).Milliseconds())
        code := 0
        if err == nil && resp != nil {
            code = resp.StatusCode
            if resp.Body != nil { _ = resp.Body.Close() }
            if code >= 200 && code < 300 { success = true }
        }
        lastErr := ""
        if !success && err != nil { lastErr = err.Error() }
        if !success && lastErr == "" { lastErr = http.StatusText(code) }
        log := logrus.WithFields(logrus.Fields{"component": "webhooks", "delivery": it.ID, "event": it.EventType, "code": code, "latencyMs": latency})
        if !success && it.FinalAttempt(w.MaxAttempts) {
            log.Warn("webhook dead-lettered")
            metrics.ObserveWebhook(it.EventType, store.DeliveryFailed, latency)
            _ = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
            continue
        }
        status := store.DeliveryDelivered
        if !success { status = store.DeliveryRetry; log.WithField("next", next).Debug("webhook retry scheduled") }
        metrics.ObserveWebhook(it.EventType, status, latency)
        _ = w.Store.MarkWebhookDelivery(ctx, it.ID, success, &next, lastErr, code, latency)
    }
}

// nextBackoff is 1s doubling per attempt, capped at one hour.
func nextBackoff(attempts int) time.Duration {
    if attempts < 0 { attempts = 0 }
    if attempts > 12 { attempts = 12 }
    base := time.Second * time.Duration(1<<attempts)
    if base > time.Hour { base = time.Hour }
    return base
}
