package store

import (
    "context"
    "fmt"
    "slices"
    "sync"
    "time"

    "github.com/google/uuid"
    "tourplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu       sync.Mutex
    zones    map[string]model.Zone              // id -> zone
    vehicles map[string]model.Vehicle           // id -> vehicle
    couriers map[string]model.Courier           // id -> courier
    packages map[string]model.Package           // id -> package
    rounds   map[string]model.Round             // id -> round
    order    map[string][]string                // tenant|kind -> ids in creation order
    users    map[string]model.User              // username -> user
    subs     map[string][]model.Subscription    // tenant -> subscriptions
    // Webhooks queue state
    deliveries         map[string]*memDelivery  // id -> delivery state
    deliveriesByTenant map[string][]string      // tenant -> delivery ids
    dlq                []map[string]any         // dead-lettered deliveries
    planMx map[string]map[string][]map[string]any // tenant -> planDate -> items
}

func NewMemory() *Memory {
    return &Memory{
        zones: map[string]model.Zone{},
        vehicles: map[string]model.Vehicle{},
        couriers: map[string]model.Courier{},
        packages: map[string]model.Package{},
        rounds: map[string]model.Round{},
        order: map[string][]string{},
        users: map[string]model.User{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        dlq: []map[string]any{},
        planMx: map[string]map[string][]map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) track(tenantID, kind, id string) {
    k := tenantID + "|" + kind
    m.order[k] = append(m.order[k], id)
}

// page walks ids after cursor and keeps the items accepted by get.
func page[T any](ids []string, cursor string, limit int, get func(id string) (T, bool)) ([]T, string) {
    limit = clampLimit(limit)
    start := 0
    if cursor != "" {
        if i := slices.Index(ids, cursor); i >= 0 { start = i + 1 }
    }
    out := []T{}
    last := ""
    for i := start; i < len(ids) && len(out) < limit; i++ {
        if v, ok := get(ids[i]); ok {
            out = append(out, v)
            last = ids[i]
        }
    }
    if len(out) < limit { last = "" }
    return out, last
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateZone(ctx context.Context, tenantID string, in model.ZoneInput) (model.Zone, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    z := model.Zone{ID: uuid.New().String(), TenantID: tenantID, Name: in.Name, Depot: in.Depot}
    m.zones[z.ID] = z
    m.track(tenantID, "zone", z.ID)
    return z, nil
}

func (m *Memory) GetZone(ctx context.Context, tenantID, id string) (model.Zone, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    z, ok := m.zones[id]
    if !ok || z.TenantID != tenantID { return model.Zone{}, ErrNotFound }
    return z, nil
}

func (m *Memory) ListZones(ctx context.Context, tenantID, cursor string, limit int) ([]model.Zone, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.order[tenantID+"|zone"], cursor, limit, func(id string) (model.Zone, bool) { z, ok := m.zones[id]; return z, ok })
    return items, next, nil
}

func (m *Memory) CreateVehicle(ctx context.Context, tenantID string, in model.VehicleInput) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v := model.Vehicle{ID: uuid.New().String(), TenantID: tenantID, Plate: in.Plate, CapacityKg: in.CapacityKg}
    m.vehicles[v.ID] = v
    m.track(tenantID, "vehicle", v.ID)
    return v, nil
}

func (m *Memory) GetVehicle(ctx context.Context, tenantID, id string) (model.Vehicle, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    v, ok := m.vehicles[id]
    if !ok || v.TenantID != tenantID { return model.Vehicle{}, ErrNotFound }
    return v, nil
}

func (m *Memory) ListVehicles(ctx context.Context, tenantID, cursor string, limit int) ([]model.Vehicle, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.order[tenantID+"|vehicle"], cursor, limit, func(id string) (model.Vehicle, bool) { v, ok := m.vehicles[id]; return v, ok })
    return items, next, nil
}

func (m *Memory) CreateCourier(ctx context.Context, tenantID string, in model.CourierInput) (model.Courier, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if in.VehicleID != "" {
        if v, ok := m.vehicles[in.VehicleID]; !ok || v.TenantID != tenantID {
            return model.Courier{}, fmt.Errorf("vehicle %s: %w", in.VehicleID, ErrNotFound)
        }
    }
    c := model.Courier{ID: uuid.New().String(), TenantID: tenantID, Name: in.Name, VehicleID: in.VehicleID}
    m.couriers[c.ID] = c
    m.track(tenantID, "courier", c.ID)
    return c, nil
}

func (m *Memory) GetCourier(ctx context.Context, tenantID, id string) (model.Courier, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    c, ok := m.couriers[id]
    if !ok || c.TenantID != tenantID { return model.Courier{}, ErrNotFound }
    return c, nil
}

func (m *Memory) ListCouriers(ctx context.Context, tenantID, cursor string, limit int) ([]model.Courier, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.order[tenantID+"|courier"], cursor, limit, func(id string) (model.Courier, bool) { c, ok := m.couriers[id]; return c, ok })
    return items, next, nil
}

func (m *Memory) CreatePackages(ctx context.Context, tenantID string, in []model.PackageInput) ([]model.Package, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Package, 0, len(in))
    for _, p := range in {
        pkg := model.Package{ID: uuid.New().String(), TenantID: tenantID, ZoneID: p.ZoneID, Reference: p.Reference, Recipient: p.Recipient, Location: p.Location, WeightKg: p.WeightKg, Status: model.PackagePending}
        m.packages[pkg.ID] = pkg
        m.track(tenantID, "package", pkg.ID)
        out = append(out, pkg)
    }
    return out, nil
}

func (m *Memory) GetPackage(ctx context.Context, tenantID, id string) (model.Package, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    p, ok := m.packages[id]
    if !ok || p.TenantID != tenantID { return model.Package{}, ErrNotFound }
    return p, nil
}

func (m *Memory) ListPackages(ctx context.Context, tenantID, zoneID, status, cursor string, limit int) ([]model.Package, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.order[tenantID+"|package"], cursor, limit, func(id string) (model.Package, bool) {
        p, ok := m.packages[id]
        if !ok || (zoneID != "" && p.ZoneID != zoneID) || (status != "" && p.Status != status) { return p, false }
        return p, true
    })
    return items, next, nil
}

func (m *Memory) SaveRound(ctx context.Context, r model.Round) (model.Round, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    seen := make(map[string]bool)
    for _, rt := range r.Routes {
        for _, st := range rt.Stops {
            p, ok := m.packages[st.PackageID]
            if !ok || p.TenantID != r.TenantID { return model.Round{}, fmt.Errorf("package %s: %w", st.PackageID, ErrNotFound) }
            if seen[p.ID] || p.Status != model.PackagePending { return model.Round{}, fmt.Errorf("package %s is %s: %w", p.ID, p.Status, ErrConflict) }
            seen[p.ID] = true
        }
    }
    if r.ID == "" { r.ID = uuid.New().String() }
    if r.CreatedAt.IsZero() { r.CreatedAt = time.Now().UTC() }
    if r.Status == "" { r.Status = "planned" }
    for _, rt := range r.Routes {
        for _, st := range rt.Stops {
            p := m.packages[st.PackageID]
            p.Status = model.PackageAssigned
            p.RoundID = r.ID
            p.Sequence = st.Sequence
            m.packages[p.ID] = p
        }
    }
    m.rounds[r.ID] = cloneRound(r)
    m.track(r.TenantID, "round", r.ID)
    return r, nil
}

func (m *Memory) GetRound(ctx context.Context, tenantID, id string) (model.Round, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.rounds[id]
    if !ok || r.TenantID != tenantID { return model.Round{}, ErrNotFound }
    return cloneRound(r), nil
}

func (m *Memory) ListRounds(ctx context.Context, tenantID, planDate, cursor string, limit int) ([]model.Round, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.order[tenantID+"|round"], cursor, limit, func(id string) (model.Round, bool) {
        r, ok := m.rounds[id]
        if !ok || (planDate != "" && r.PlanDate != planDate) { return r, false }
        return cloneRound(r), true
    })
    return items, next, nil
}

func cloneRound(r model.Round) model.Round {
    out := r
    out.Routes = make([]model.RoundRoute, len(r.Routes))
    for i, rt := range r.Routes {
        rt.Stops = append([]model.RoundStop(nil), rt.Stops...)
        out.Routes[i] = rt
    }
    out.Unassigned = append([]string(nil), r.Unassigned...)
    return out
}

func (m *Memory) CreateUser(ctx context.Context, u model.User) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.users[u.Username]; ok { return model.User{}, fmt.Errorf("user %s: %w", u.Username, ErrConflict) }
    u.ID = uuid.New().String()
    m.users[u.Username] = u
    return u, nil
}

func (m *Memory) GetUserByName(ctx context.Context, username string) (model.User, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    u, ok := m.users[username]
    if !ok { return model.User{}, ErrNotFound }
    return u, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        if slices.Contains(s.Events, eventType) { out = append(out, s) }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    ids := make([]string, len(list))
    byID := make(map[string]model.Subscription, len(list))
    for i, s := range list { ids[i] = s.ID; byID[s.ID] = s }
    items, next := page(ids, cursor, limit, func(id string) (model.Subscription, bool) { s, ok := byID[id]; return s, ok })
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    if len(out) == len(arr) { return ErrNotFound }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.iterDeliveryIDs() {
        d := m.deliveries[id]
        if d == nil { continue }
        if d.Due(d.NextAttemptAt, now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := time.Now()
        d.DeliveredAt = &now
        return nil
    }
    d.Status = DeliveryRetry
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Status = DeliveryFailed
    d.Attempts++
    d.LastError = lastError
    m.dlq = append(m.dlq, map[string]any{"id": id, "eventType": d.EventType, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    items, next := page(m.deliveriesByTenant[tenantID], cursor, limit, func(id string) (map[string]any, bool) {
        d := m.deliveries[id]
        if d == nil || (status != "" && d.Status != status) { return nil, false }
        item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
        if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
        if d.LastError != "" { item["lastError"] = d.LastError }
        return item, true
    })
    return items, next, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) SavePlanMetrics(ctx context.Context, tenantID, planDate, algo string, metrics map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.planMx[tenantID] == nil { m.planMx[tenantID] = map[string][]map[string]any{} }
    met := map[string]any{}
    for k, v := range metrics { met[k] = v }
    met["algo"] = algo
    met["planDate"] = planDate
    items := m.planMx[tenantID][planDate]
    replaced := false
    for i := range items {
        if items[i]["algo"] == algo { items[i] = met; replaced = true; break }
    }
    if !replaced { items = append(items, met) }
    m.planMx[tenantID][planDate] = items
    return nil
}

func (m *Memory) ListPlanMetrics(ctx context.Context, tenantID, planDate, algo string) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, it := range m.planMx[tenantID][planDate] {
        if algo == "" || it["algo"] == algo { out = append(out, it) }
    }
    return out, nil
}

// helper: iterate delivery IDs by tenant order
func (m *Memory) iterDeliveryIDs() []string {
    var ids []string
    for _, list := range m.deliveriesByTenant { ids = append(ids, list...) }
    return ids
}
