package api

import (
    "context"
    "errors"
    "io"
    "net/http"
    "strings"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/auth"
    "tourplan/internal/config"
    "tourplan/internal/integrations"
    "tourplan/internal/integrations/csvimport"
    "tourplan/internal/metrics"
    "tourplan/internal/model"
    "tourplan/internal/opt"
    "tourplan/internal/planning"
    "tourplan/internal/store"
    "tourplan/internal/webhooks"
)

type Server struct {
    Store     store.Store
    Pub       *webhooks.Publisher
    Auth      *auth.Verifier
    Issuer    *auth.Issuer
    Broker    EventBroker
    Planner   *planning.Planner
    Locations *LocationCache
    Sources   map[string]integrations.Source
    Config    config.Config
    limiter   *tenantLimiter
}

// NewServer wires the store, broker and planner from cfg. Without a
// DatabaseURL it uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
    log := logrus.WithField("component", "api")
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
        log.Info("using in-memory store")
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if cfg.DBMigrate {
            if err := sp.MigrateDir(cfg.MigrationsDir); err != nil { return nil, err }
        }
        s = sp
    }
    // Broker selection
    var broker EventBroker = NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
        } else {
            log.WithError(err).Warn("redis unavailable, using in-process broker")
        }
    }
    srv := newServer(cfg, s, broker)
    if err := srv.bootstrapAdmin(context.Background()); err != nil { return nil, err }
    return srv, nil
}

func newServer(cfg config.Config, s store.Store, broker EventBroker) *Server {
    pub := webhooks.NewPublisher(s)
    options := opt.Options{AverageSpeedKmh: cfg.Opt.AverageSpeedKmh, TwoOpt: cfg.Opt.TwoOpt}
    csv := csvimport.Source{}
    return &Server{
        Store:     s,
        Pub:       pub,
        Auth:      auth.NewVerifier(cfg.Auth),
        Issuer:    auth.NewIssuer([]byte(cfg.Auth.HMACSecret), cfg.Auth.Issuer, cfg.Auth.TokenTTL),
        Broker:    broker,
        Planner:   &planning.Planner{Store: s, Events: pub, Options: options, MaxStops: cfg.Opt.MaxStops},
        Locations: NewLocationCache(),
        Sources:   map[string]integrations.Source{csv.Name(): csv},
        Config:    cfg,
        limiter:   newTenantLimiter(cfg.Rate.RPS, cfg.Rate.Burst),
    }
}

func (s *Server) bootstrapAdmin(ctx context.Context) error {
    b := s.Config.Bootstrap
    if b.AdminUser == "" || b.AdminPassword == "" { return nil }
    _, err := s.Store.GetUserByName(ctx, b.AdminUser)
    if err == nil { return nil }
    if !errors.Is(err, store.ErrNotFound) { return err }
    hash, err := auth.HashPassword(b.AdminPassword)
    if err != nil { return err }
    _, err = s.Store.CreateUser(ctx, model.User{TenantID: b.TenantID, Username: b.AdminUser, PasswordHash: hash, Role: model.RoleAdmin})
    if errors.Is(err, store.ErrConflict) { return nil }
    if err == nil { logrus.WithFields(logrus.Fields{"component": "api", "user": b.AdminUser}).Info("bootstrap admin created") }
    return err
}

// Handler returns the full route table wrapped in middleware.
func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()

    // Auth
    mux.HandleFunc("/v1/auth/token", s.TokenHandler)
    mux.HandleFunc("/v1/users", s.UsersHandler)

    // Optimization
    mux.HandleFunc("/v1/optimize", s.OptimizeHandler)

    // Reference data
    mux.HandleFunc("/v1/zones", s.ZonesHandler)
    mux.HandleFunc("/v1/zones/", s.ZoneByIDHandler)
    mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
    mux.HandleFunc("/v1/couriers", s.CouriersHandler)
    mux.HandleFunc("/v1/packages", s.PackagesHandler)
    mux.HandleFunc("/v1/packages/import", s.PackagesImportHandler)

    // Rounds
    mux.HandleFunc("/v1/rounds", s.RoundsIndexHandler)
    mux.HandleFunc("/v1/rounds/plan", s.PlanRoundHandler)
    mux.HandleFunc("/v1/rounds/", s.RoundByIDHandler) // includes /geojson, /events/stream, /events/ws, /location(s)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

    // Admin
    mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)
    mux.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler)
    mux.HandleFunc("/v1/admin/debug", s.DebugJSON)

    // Health
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    return s.logMiddleware(s.corsMiddleware(s.rateLimitMiddleware(mux)))
}

// Close releases the broker and the database handle.
func (s *Server) Close() error {
    var errs []error
    if c, ok := s.Broker.(io.Closer); ok { errs = append(errs, c.Close()) }
    if c, ok := s.Store.(io.Closer); ok { errs = append(errs, c.Close()) }
    return errors.Join(errs...)
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts)
}
