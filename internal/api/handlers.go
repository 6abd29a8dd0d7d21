package api

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "tourplan/internal/auth"
    "tourplan/internal/metrics"
    "tourplan/internal/model"
    "tourplan/internal/opt"
    "tourplan/internal/store"
)

// TokenHandler handles POST /v1/auth/token
func (s *Server) TokenHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    var req struct {
        Username string `json:"username"`
        Password string `json:"password"`
    }
    if !decodeJSON(w, r, &req) { return }
    u, err := s.Store.GetUserByName(r.Context(), req.Username)
    if errors.Is(err, store.ErrNotFound) { err = auth.ErrBadCredentials }
    if err == nil { err = auth.CheckPassword(u.PasswordHash, req.Password) }
    if err != nil { writeError(w, r, "Login failed", err); return }
    switch s.Auth.Mode {
    case "hmac":
        tok, exp, err := s.Issuer.Issue(u)
        if err != nil { writeError(w, r, "Token issuance failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"accessToken": tok, "tokenType": "Bearer", "expiresAt": exp.UTC().Format(time.RFC3339)})
    case "dev":
        tok := u.TenantID + ":" + u.Role
        if u.CourierID != "" { tok += ":" + u.CourierID }
        writeJSON(w, http.StatusOK, map[string]any{"accessToken": tok, "tokenType": "Bearer"})
    default:
        writeProblem(w, http.StatusBadRequest, "Token issuance disabled", "tokens are issued by the identity provider in "+s.Auth.Mode+" mode", r.URL.Path)
    }
}

// UsersHandler handles POST /v1/users (admin)
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin)
    if !ok { return }
    var in model.UserInput
    if !decodeJSON(w, r, &in) { return }
    if err := validateUser(in); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid user", err.Error(), r.URL.Path); return }
    if in.CourierID != "" {
        if _, err := s.Store.GetCourier(r.Context(), p.Tenant, in.CourierID); err != nil { writeError(w, r, "Courier lookup failed", err); return }
    }
    hash, err := auth.HashPassword(in.Password)
    if err != nil { writeError(w, r, "Create user failed", err); return }
    u, err := s.Store.CreateUser(r.Context(), model.User{TenantID: p.Tenant, Username: in.Username, PasswordHash: hash, Role: in.Role, CourierID: in.CourierID})
    if err != nil { writeError(w, r, "Create user failed", err); return }
    writeJSON(w, http.StatusCreated, u)
}

// OptimizeHandler handles POST /v1/optimize. Nothing is persisted.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    if _, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher); !ok { return }
    var req model.OptimizeRequest
    if !decodeJSON(w, r, &req) { return }
    if err := validateOptimizeRequest(&req, s.Config.Opt.MaxStops); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
        return
    }
    options := s.Planner.Options
    if req.TwoOpt != nil { options.TwoOpt = *req.TwoOpt }

    stops := make([]opt.Stop, len(req.Stops))
    for i, st := range req.Stops { stops[i] = opt.Stop{ID: st.ID, Lat: st.Lat, Lng: st.Lng, Demand: st.Demand} }
    vehicles := make([]opt.Vehicle, len(req.Vehicles))
    for i, v := range req.Vehicles { vehicles[i] = opt.Vehicle{ID: v.ID, Capacity: v.Capacity} }

    start := time.Now()
    res, err := opt.Optimize(opt.Depot{Lat: req.Depot.Lat, Lng: req.Depot.Lng}, stops, vehicles, req.Algorithm, options)
    elapsed := time.Since(start)
    dropped := res.Dropped(stops)
    metrics.ObserveOptimization(req.Algorithm, elapsed, len(dropped), err)
    if err != nil { writeError(w, r, "Optimization failed", err); return }
    if dropped == nil { dropped = []string{} }
    writeJSON(w, http.StatusOK, map[string]any{
        "algorithm":       res.Algorithm,
        "routes":          res.Routes,
        "totalDistanceKm": res.TotalDistanceKm,
        "totalTimeHours":  res.TotalTimeHours,
        "unassigned":      dropped,
        "stats":           opt.Summarize(res, len(stops), elapsed).Map(),
    })
}

// ZonesHandler handles POST/GET /v1/zones
func (s *Server) ZonesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/zones" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        var in model.ZoneInput
        if !decodeJSON(w, r, &in) { return }
        if err := validateZone(in); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid zone", err.Error(), r.URL.Path); return }
        z, err := s.Store.CreateZone(r.Context(), p.Tenant, in)
        if err != nil { writeError(w, r, "Create zone failed", err); return }
        writeJSON(w, http.StatusCreated, z)
    case http.MethodGet:
        p, ok := s.authorize(w, r)
        if !ok { return }
        cursor, limit := pageParams(r)
        items, next, err := s.Store.ListZones(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeError(w, r, "List zones failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// ZoneByIDHandler handles GET /v1/zones/{id}
func (s *Server) ZoneByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/zones/")
    if id == "" || strings.Contains(id, "/") { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r)
    if !ok { return }
    z, err := s.Store.GetZone(r.Context(), p.Tenant, id)
    if err != nil { writeError(w, r, "Zone not found", err); return }
    writeJSON(w, http.StatusOK, z)
}

// VehiclesHandler handles POST/GET /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        var in model.VehicleInput
        if !decodeJSON(w, r, &in) { return }
        if err := validateVehicle(in); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid vehicle", err.Error(), r.URL.Path); return }
        v, err := s.Store.CreateVehicle(r.Context(), p.Tenant, in)
        if err != nil { writeError(w, r, "Create vehicle failed", err); return }
        writeJSON(w, http.StatusCreated, v)
    case http.MethodGet:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        cursor, limit := pageParams(r)
        items, next, err := s.Store.ListVehicles(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeError(w, r, "List vehicles failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// CouriersHandler handles POST/GET /v1/couriers
func (s *Server) CouriersHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        var in model.CourierInput
        if !decodeJSON(w, r, &in) { return }
        if strings.TrimSpace(in.Name) == "" { writeProblem(w, http.StatusBadRequest, "Invalid courier", "name is required", r.URL.Path); return }
        c, err := s.Store.CreateCourier(r.Context(), p.Tenant, in)
        if err != nil { writeError(w, r, "Create courier failed", err); return }
        writeJSON(w, http.StatusCreated, c)
    case http.MethodGet:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        cursor, limit := pageParams(r)
        items, next, err := s.Store.ListCouriers(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeError(w, r, "List couriers failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// PackagesHandler handles POST/GET /v1/packages. POST accepts either
// {"packages":[...]} or a bare array.
func (s *Server) PackagesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        var raw json.RawMessage
        if !decodeJSON(w, r, &raw) { return }
        var in []model.PackageInput
        if t := strings.TrimSpace(string(raw)); strings.HasPrefix(t, "[") {
            if err := json.Unmarshal(raw, &in); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
        } else {
            var body struct{ Packages []model.PackageInput `json:"packages"` }
            if err := json.Unmarshal(raw, &body); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
            in = body.Packages
        }
        s.createPackages(w, r, p.Tenant, "", in)
    case http.MethodGet:
        p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
        if !ok { return }
        q := r.URL.Query()
        cursor, limit := pageParams(r)
        items, next, err := s.Store.ListPackages(r.Context(), p.Tenant, q.Get("zoneId"), q.Get("status"), cursor, limit)
        if err != nil { writeError(w, r, "List packages failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// PackagesImportHandler handles POST /v1/packages/import?zoneId=&source=csv
// with the document as request body.
func (s *Server) PackagesImportHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
    if !ok { return }
    name := r.URL.Query().Get("source")
    if name == "" { name = "csv" }
    src, found := s.Sources[name]
    if !found { writeProblem(w, http.StatusBadRequest, "Unknown source", name, r.URL.Path); return }
    r.Body = http.MaxBytesReader(w, r.Body, 16<<20)
    in, err := src.Packages(r.Body)
    if err != nil { writeProblem(w, http.StatusBadRequest, "Import failed", err.Error(), r.URL.Path); return }
    s.createPackages(w, r, p.Tenant, r.URL.Query().Get("zoneId"), in)
}

// createPackages validates and stores in; zoneID fills entries without one.
func (s *Server) createPackages(w http.ResponseWriter, r *http.Request, tenant, zoneID string, in []model.PackageInput) {
    if len(in) == 0 { writeProblem(w, http.StatusBadRequest, "No packages", "at least one package is required", r.URL.Path); return }
    zones := map[string]bool{}
    for i := range in {
        if in[i].ZoneID == "" { in[i].ZoneID = zoneID }
        if err := validatePackage(i, in[i]); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid package", err.Error(), r.URL.Path); return }
        if z := in[i].ZoneID; z != "" && !zones[z] {
            if _, err := s.Store.GetZone(r.Context(), tenant, z); err != nil { writeError(w, r, "Zone lookup failed", err); return }
            zones[z] = true
        }
    }
    created, err := s.Store.CreatePackages(r.Context(), tenant, in)
    if err != nil { writeError(w, r, "Create packages failed", err); return }
    writeJSON(w, http.StatusCreated, map[string]any{"created": len(created), "items": created})
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions (admin)
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p, ok := s.authorize(w, r, model.RoleAdmin)
    if !ok { return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if !decodeJSON(w, r, &req) { return }
        if err := validateSubscription(req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path); return }
        req.TenantID = p.Tenant
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeError(w, r, "Create subscription failed", err); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor, limit := pageParams(r)
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeError(w, r, "List subscriptions failed", err); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id} (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if id == "" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin)
    if !ok { return }
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Delete subscription failed", err); return }
    w.WriteHeader(http.StatusNoContent)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin)
    if !ok { return }
    cursor, limit := pageParams(r)
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, r.URL.Query().Get("status"), cursor, limit)
    if err != nil { writeError(w, r, "List deliveries failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin)
    if !ok { return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Retry delivery failed", err); return }
    writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

// PlanMetricsHandler handles GET /v1/admin/plan-metrics?planDate=&algo=
func (s *Server) PlanMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin)
    if !ok { return }
    planDate := r.URL.Query().Get("planDate")
    if planDate == "" { writeProblem(w, http.StatusBadRequest, "Missing planDate", "", r.URL.Path); return }
    items, err := s.Store.ListPlanMetrics(r.Context(), p.Tenant, planDate, r.URL.Query().Get("algo"))
    if err != nil { writeError(w, r, "Plan metrics failed", err); return }
    if items == nil { items = []map[string]any{} }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
