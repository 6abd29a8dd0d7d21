package api

import (
    "bufio"
    "errors"
    "net"
    "net/http"
    "slices"
    "strconv"
    "strings"
    "sync"
    "time"

    logrus "github.com/sirupsen/logrus"
    "golang.org/x/time/rate"

    "tourplan/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) { r.status = code; r.ResponseWriter.WriteHeader(code) }

func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := r.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijack not supported") }
    return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// logMiddleware logs each request and records HTTP metrics.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        dur := time.Since(start)
        code := strconv.Itoa(rec.status)
        path := routeLabel(r.URL.Path)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
        logrus.WithFields(logrus.Fields{
            "component": "http",
            "remote":    r.RemoteAddr,
            "method":    r.Method,
            "path":      r.URL.Path,
            "status":    rec.status,
            "duration":  dur,
        }).Info("request")
    })
}

// routeLabel collapses IDs so metric label cardinality stays bounded.
func routeLabel(path string) string {
    parts := strings.Split(strings.Trim(path, "/"), "/")
    if len(parts) < 3 || parts[0] != "v1" { return path }
    switch parts[1] {
    case "rounds", "zones", "subscriptions":
        if parts[2] != "plan" { parts[2] = "{id}" }
    case "admin":
        if len(parts) > 3 && parts[2] == "webhook-deliveries" { parts[3] = "{id}" }
    }
    return "/" + strings.Join(parts, "/")
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
    origins := s.Config.AllowOrigins
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        origin := r.Header.Get("Origin")
        if origin != "" && (slices.Contains(origins, "*") || slices.Contains(origins, origin)) {
            w.Header().Set("Access-Control-Allow-Origin", origin)
            w.Header().Set("Vary", "Origin")
            w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Tenant-Id, X-Role, X-Courier-Id")
            w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
            if r.Method == http.MethodOptions {
                w.WriteHeader(http.StatusNoContent)
                return
            }
        }
        next.ServeHTTP(w, r)
    })
}

// tenantLimiter keeps one token bucket per tenant. A zero rate disables it.
type tenantLimiter struct {
    mu    sync.Mutex
    rps   rate.Limit
    burst int
    m     map[string]*rate.Limiter
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
    if burst <= 0 { burst = 1 }
    return &tenantLimiter{rps: rate.Limit(rps), burst: burst, m: map[string]*rate.Limiter{}}
}

func (l *tenantLimiter) allow(key string) bool {
    if l == nil || l.rps <= 0 { return true }
    l.mu.Lock()
    lim, ok := l.m[key]
    if !ok {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.m[key] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        switch r.URL.Path {
        case "/healthz", "/readyz", "/metrics":
            next.ServeHTTP(w, r)
            return
        }
        key := r.RemoteAddr
        if host, _, err := net.SplitHostPort(key); err == nil { key = host }
        if p, err := s.getPrincipal(r); err == nil { key = p.Tenant }
        if !s.limiter.allow(key) {
            w.Header().Set("Retry-After", "1")
            writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded for "+key, r.URL.Path)
            return
        }
        next.ServeHTTP(w, r)
    })
}
