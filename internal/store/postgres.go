package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "path/filepath"
    "strings"
    "time"

    "github.com/golang-migrate/migrate/v4"
    migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
    _ "github.com/golang-migrate/migrate/v4/source/file"
    "github.com/google/uuid"
    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"

    "tourplan/internal/model"
)

type Postgres struct {
    db  *sql.DB
    dsn string
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, fmt.Errorf("postgres ping: %w", err)
    }
    return &Postgres{db: db, dsn: dsn}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies the pending up migrations in dir ({version}_{name}.up.sql).
// It runs on its own connection pool, which migrate closes when done.
func (p *Postgres) MigrateDir(dir string) error {
    db, err := sql.Open("pgx", p.dsn)
    if err != nil { return err }
    driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
    if err != nil { _ = db.Close(); return fmt.Errorf("migrate driver: %w", err) }
    abs, err := filepath.Abs(dir)
    if err != nil { _ = driver.Close(); return err }
    m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(abs), "pgx5", driver)
    if err != nil { _ = driver.Close(); return fmt.Errorf("migrate source: %w", err) }
    defer func() { _, _ = m.Close() }()
    if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) { return fmt.Errorf("migrate up: %w", err) }
    return nil
}

// Zones

func (p *Postgres) CreateZone(ctx context.Context, tenantID string, in model.ZoneInput) (model.Zone, error) {
    id := uuid.New().String()
    lat, lng := pointArgs(in.Depot)
    _, err := p.db.ExecContext(ctx, `INSERT INTO zones (id, tenant_id, name, depot_lat, depot_lng) VALUES ($1,$2,$3,$4,$5)`, id, tenantID, in.Name, lat, lng)
    if err != nil { return model.Zone{}, err }
    return model.Zone{ID: id, TenantID: tenantID, Name: in.Name, Depot: in.Depot}, nil
}

const zoneCols = `id::text, tenant_id, name, depot_lat, depot_lng`

func scanZone(sc interface{ Scan(...any) error }) (model.Zone, error) {
    var z model.Zone
    var lat, lng sql.NullFloat64
    if err := sc.Scan(&z.ID, &z.TenantID, &z.Name, &lat, &lng); err != nil { return z, err }
    z.Depot = pointFrom(lat, lng)
    return z, nil
}

func (p *Postgres) GetZone(ctx context.Context, tenantID, id string) (model.Zone, error) {
    z, err := scanZone(p.db.QueryRowContext(ctx, `SELECT `+zoneCols+` FROM zones WHERE tenant_id=$1 AND id::text=$2`, tenantID, id))
    if errors.Is(err, sql.ErrNoRows) { return z, ErrNotFound }
    return z, err
}

func (p *Postgres) ListZones(ctx context.Context, tenantID, cursor string, limit int) ([]model.Zone, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT `+zoneCols+` FROM zones WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Zone{}
    for rows.Next() {
        z, err := scanZone(rows)
        if err != nil { return nil, "", err }
        out = append(out, z)
    }
    return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

// Fleet

func (p *Postgres) CreateVehicle(ctx context.Context, tenantID string, in model.VehicleInput) (model.Vehicle, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO vehicles (id, tenant_id, plate, capacity_kg) VALUES ($1,$2,$3,$4)`, id, tenantID, nullIfEmpty(in.Plate), in.CapacityKg)
    if err != nil { return model.Vehicle{}, err }
    return model.Vehicle{ID: id, TenantID: tenantID, Plate: in.Plate, CapacityKg: in.CapacityKg}, nil
}

const vehicleCols = `id::text, tenant_id, COALESCE(plate,''), capacity_kg`

func (p *Postgres) GetVehicle(ctx context.Context, tenantID, id string) (model.Vehicle, error) {
    var v model.Vehicle
    err := p.db.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE tenant_id=$1 AND id::text=$2`, tenantID, id).Scan(&v.ID, &v.TenantID, &v.Plate, &v.CapacityKg)
    if errors.Is(err, sql.ErrNoRows) { return v, ErrNotFound }
    return v, err
}

func (p *Postgres) ListVehicles(ctx context.Context, tenantID, cursor string, limit int) ([]model.Vehicle, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Vehicle{}
    for rows.Next() {
        var v model.Vehicle
        if err := rows.Scan(&v.ID, &v.TenantID, &v.Plate, &v.CapacityKg); err != nil { return nil, "", err }
        out = append(out, v)
    }
    return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

func (p *Postgres) CreateCourier(ctx context.Context, tenantID string, in model.CourierInput) (model.Courier, error) {
    if in.VehicleID != "" {
        if _, err := p.GetVehicle(ctx, tenantID, in.VehicleID); err != nil { return model.Courier{}, fmt.Errorf("vehicle %s: %w", in.VehicleID, err) }
    }
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO couriers (id, tenant_id, name, vehicle_id) VALUES ($1,$2,$3,$4)`, id, tenantID, in.Name, nullIfEmpty(in.VehicleID))
    if err != nil { return model.Courier{}, err }
    return model.Courier{ID: id, TenantID: tenantID, Name: in.Name, VehicleID: in.VehicleID}, nil
}

const courierCols = `id::text, tenant_id, name, COALESCE(vehicle_id::text,'')`

func (p *Postgres) GetCourier(ctx context.Context, tenantID, id string) (model.Courier, error) {
    var c model.Courier
    err := p.db.QueryRowContext(ctx, `SELECT `+courierCols+` FROM couriers WHERE tenant_id=$1 AND id::text=$2`, tenantID, id).Scan(&c.ID, &c.TenantID, &c.Name, &c.VehicleID)
    if errors.Is(err, sql.ErrNoRows) { return c, ErrNotFound }
    return c, err
}

func (p *Postgres) ListCouriers(ctx context.Context, tenantID, cursor string, limit int) ([]model.Courier, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT `+courierCols+` FROM couriers WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Courier{}
    for rows.Next() {
        var c model.Courier
        if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.VehicleID); err != nil { return nil, "", err }
        out = append(out, c)
    }
    return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

// Packages

func (p *Postgres) CreatePackages(ctx context.Context, tenantID string, in []model.PackageInput) ([]model.Package, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return nil, err }
    defer func() { _ = tx.Rollback() }()
    out := make([]model.Package, 0, len(in))
    for _, pi := range in {
        id := uuid.New().String()
        lat, lng := pointArgs(pi.Location)
        _, err := tx.ExecContext(ctx, `INSERT INTO packages (id, tenant_id, zone_id, reference, recipient, lat, lng, weight_kg, status) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')`,
            id, tenantID, nullIfEmpty(pi.ZoneID), nullIfEmpty(pi.Reference), nullIfEmpty(pi.Recipient), lat, lng, pi.WeightKg)
        if err != nil { return nil, fmt.Errorf("insert package %q: %w", pi.Reference, err) }
        out = append(out, model.Package{ID: id, TenantID: tenantID, ZoneID: pi.ZoneID, Reference: pi.Reference, Recipient: pi.Recipient, Location: pi.Location, WeightKg: pi.WeightKg, Status: model.PackagePending})
    }
    if err := tx.Commit(); err != nil { return nil, err }
    return out, nil
}

const packageCols = `id::text, tenant_id, COALESCE(zone_id::text,''), COALESCE(reference,''), COALESCE(recipient,''), lat, lng, weight_kg, status, COALESCE(round_id::text,''), COALESCE(sequence,0)`

func scanPackage(sc interface{ Scan(...any) error }) (model.Package, error) {
    var pk model.Package
    var lat, lng sql.NullFloat64
    if err := sc.Scan(&pk.ID, &pk.TenantID, &pk.ZoneID, &pk.Reference, &pk.Recipient, &lat, &lng, &pk.WeightKg, &pk.Status, &pk.RoundID, &pk.Sequence); err != nil { return pk, err }
    pk.Location = pointFrom(lat, lng)
    return pk, nil
}

func (p *Postgres) GetPackage(ctx context.Context, tenantID, id string) (model.Package, error) {
    pk, err := scanPackage(p.db.QueryRowContext(ctx, `SELECT `+packageCols+` FROM packages WHERE tenant_id=$1 AND id::text=$2`, tenantID, id))
    if errors.Is(err, sql.ErrNoRows) { return pk, ErrNotFound }
    return pk, err
}

func (p *Postgres) ListPackages(ctx context.Context, tenantID, zoneID, status, cursor string, limit int) ([]model.Package, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT `+packageCols+` FROM packages
        WHERE tenant_id=$1 AND ($2='' OR zone_id::text=$2) AND ($3='' OR status=$3) AND id::text > $4 ORDER BY id LIMIT $5`, tenantID, zoneID, status, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Package{}
    for rows.Next() {
        pk, err := scanPackage(rows)
        if err != nil { return nil, "", err }
        out = append(out, pk)
    }
    return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

// Rounds

func (p *Postgres) SaveRound(ctx context.Context, r model.Round) (model.Round, error) {
    if r.ID == "" { r.ID = uuid.New().String() }
    if r.CreatedAt.IsZero() { r.CreatedAt = time.Now().UTC() }
    if r.Status == "" { r.Status = "planned" }
    unassigned, _ := json.Marshal(nonNil(r.Unassigned))
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Round{}, err }
    defer func() { _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO rounds (id, tenant_id, zone_id, plan_date, algorithm, status, total_distance_km, total_time_hours, unassigned, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10)`, r.ID, r.TenantID, r.ZoneID, nullIfEmpty(r.PlanDate), r.Algorithm, r.Status, r.TotalDistanceKm, r.TotalTimeHours, string(unassigned), r.CreatedAt)
    if err != nil { return model.Round{}, fmt.Errorf("insert round: %w", err) }
    for i, rt := range r.Routes {
        _, err := tx.ExecContext(ctx, `INSERT INTO round_routes (round_id, idx, courier_id, vehicle_id, distance_km, time_hours, load_kg) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
            r.ID, i, rt.CourierID, nullIfEmpty(rt.VehicleID), rt.DistanceKm, rt.TimeHours, rt.LoadKg)
        if err != nil { return model.Round{}, fmt.Errorf("insert route %d: %w", i, err) }
        for _, st := range rt.Stops {
            if _, err := tx.ExecContext(ctx, `INSERT INTO round_stops (round_id, route_idx, sequence, package_id, lat, lng, weight_kg) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
                r.ID, i, st.Sequence, st.PackageID, st.Location.Lat, st.Location.Lng, st.WeightKg); err != nil {
                return model.Round{}, fmt.Errorf("insert stop %s: %w", st.PackageID, err)
            }
            res, err := tx.ExecContext(ctx, `UPDATE packages SET status='assigned', round_id=$1, sequence=$2 WHERE tenant_id=$3 AND id::text=$4 AND status='pending'`, r.ID, st.Sequence, r.TenantID, st.PackageID)
            if err != nil { return model.Round{}, err }
            if n, _ := res.RowsAffected(); n == 0 { return model.Round{}, packageUnavailable(ctx, tx, r.TenantID, st.PackageID) }
        }
    }
    if err := tx.Commit(); err != nil { return model.Round{}, err }
    return r, nil
}

// packageUnavailable explains why a package could not be assigned: it is
// missing, or another round took it first.
func packageUnavailable(ctx context.Context, tx *sql.Tx, tenantID, id string) error {
    var status string
    err := tx.QueryRowContext(ctx, `SELECT status FROM packages WHERE tenant_id=$1 AND id::text=$2`, tenantID, id).Scan(&status)
    if errors.Is(err, sql.ErrNoRows) { return fmt.Errorf("package %s: %w", id, ErrNotFound) }
    if err != nil { return err }
    return fmt.Errorf("package %s is %s: %w", id, status, ErrConflict)
}

const roundCols = `id::text, tenant_id, zone_id::text, COALESCE(plan_date,''), algorithm, status, total_distance_km, total_time_hours, unassigned, created_at`

func scanRound(sc interface{ Scan(...any) error }) (model.Round, error) {
    var r model.Round
    var unassigned []byte
    if err := sc.Scan(&r.ID, &r.TenantID, &r.ZoneID, &r.PlanDate, &r.Algorithm, &r.Status, &r.TotalDistanceKm, &r.TotalTimeHours, &unassigned, &r.CreatedAt); err != nil { return r, err }
    if len(unassigned) > 0 { _ = json.Unmarshal(unassigned, &r.Unassigned) }
    return r, nil
}

func (p *Postgres) GetRound(ctx context.Context, tenantID, id string) (model.Round, error) {
    r, err := scanRound(p.db.QueryRowContext(ctx, `SELECT `+roundCols+` FROM rounds WHERE tenant_id=$1 AND id::text=$2`, tenantID, id))
    if errors.Is(err, sql.ErrNoRows) { return r, ErrNotFound }
    if err != nil { return r, err }
    if err := p.loadRoutes(ctx, &r); err != nil { return r, err }
    return r, nil
}

func (p *Postgres) loadRoutes(ctx context.Context, r *model.Round) error {
    rows, err := p.db.QueryContext(ctx, `SELECT courier_id::text, COALESCE(vehicle_id::text,''), distance_km, time_hours, load_kg FROM round_routes WHERE round_id=$1 ORDER BY idx`, r.ID)
    if err != nil { return err }
    defer rows.Close()
    r.Routes = []model.RoundRoute{}
    for rows.Next() {
        var rt model.RoundRoute
        if err := rows.Scan(&rt.CourierID, &rt.VehicleID, &rt.DistanceKm, &rt.TimeHours, &rt.LoadKg); err != nil { return err }
        rt.Stops = []model.RoundStop{}
        r.Routes = append(r.Routes, rt)
    }
    if err := rows.Err(); err != nil { return err }
    stops, err := p.db.QueryContext(ctx, `SELECT route_idx, sequence, package_id::text, lat, lng, weight_kg FROM round_stops WHERE round_id=$1 ORDER BY route_idx, sequence`, r.ID)
    if err != nil { return err }
    defer stops.Close()
    for stops.Next() {
        var idx int
        var st model.RoundStop
        if err := stops.Scan(&idx, &st.Sequence, &st.PackageID, &st.Location.Lat, &st.Location.Lng, &st.WeightKg); err != nil { return err }
        if idx < 0 || idx >= len(r.Routes) { continue }
        r.Routes[idx].Stops = append(r.Routes[idx].Stops, st)
    }
    return stops.Err()
}

func (p *Postgres) ListRounds(ctx context.Context, tenantID, planDate, cursor string, limit int) ([]model.Round, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT `+roundCols+` FROM rounds WHERE tenant_id=$1 AND ($2='' OR plan_date=$2) AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, planDate, cursor, limit)
    if err != nil { return nil, "", err }
    out := []model.Round{}
    for rows.Next() {
        r, err := scanRound(rows)
        if err != nil { rows.Close(); return nil, "", err }
        out = append(out, r)
    }
    rows.Close()
    for i := range out {
        if err := p.loadRoutes(ctx, &out[i]); err != nil { return nil, "", err }
    }
    return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), nil
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, u model.User) (model.User, error) {
    u.ID = uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO users (id, tenant_id, username, password_hash, role, courier_id) VALUES ($1,$2,$3,$4,$5,$6)`,
        u.ID, u.TenantID, u.Username, u.PasswordHash, u.Role, nullIfEmpty(u.CourierID))
    var pgErr *pgconn.PgError
    if errors.As(err, &pgErr) && pgErr.Code == "23505" { return model.User{}, fmt.Errorf("user %s: %w", u.Username, ErrConflict) }
    if err != nil { return model.User{}, err }
    return u, nil
}

func (p *Postgres) GetUserByName(ctx context.Context, username string) (model.User, error) {
    var u model.User
    err := p.db.QueryRowContext(ctx, `SELECT id::text, tenant_id, username, password_hash, role, COALESCE(courier_id::text,'') FROM users WHERE username=$1`, username).
        Scan(&u.ID, &u.TenantID, &u.Username, &u.PasswordHash, &u.Role, &u.CourierID)
    if errors.Is(err, sql.ErrNoRows) { return u, ErrNotFound }
    return u, err
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(nonNil(req.Events))
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4::jsonb,$5)`, id, req.TenantID, req.URL, string(ev), nullIfEmpty(req.Secret))
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    want, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, string(want))
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var events []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil { return nil, err }
        s.TenantID = tenantID
        _ = json.Unmarshal(events, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, COALESCE(secret,''), events FROM subscriptions WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, nextCursor(len(out), limit, func() string { return out[len(out)-1].ID }), rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$1, next_attempt_at=$2, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id::text=$3`,
            nullIfEmpty(lastError), *nextAttemptAt, id, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id::text=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func() { _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', attempts=attempts+1, last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id::text=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs); err != nil {
        return err
    }
    // move to DLQ
    if _, err := tx.ExecContext(ctx, `INSERT INTO webhook_dlq (tenant_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT tenant_id, id, event_type, url, secret, payload, attempts, $2 FROM webhook_deliveries WHERE id::text=$1`, id, nullIfEmpty(lastError)); err != nil {
        return err
    }
    return tx.Commit()
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    limit = clampLimit(limit)
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries
        WHERE tenant_id=$1 AND ($2='' OR status=$2) AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        out = append(out, m)
        last = id
    }
    return out, nextCursor(len(out), limit, func() string { return last }), rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now() WHERE tenant_id=$1 AND id::text=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Plan metrics

func (p *Postgres) SavePlanMetrics(ctx context.Context, tenantID, planDate, algo string, metrics map[string]any) error {
    b, err := json.Marshal(metrics)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO plan_metrics (tenant_id, plan_date, algo, metrics) VALUES ($1,$2,$3,$4::jsonb)
        ON CONFLICT (tenant_id, plan_date, algo) DO UPDATE SET metrics=EXCLUDED.metrics, updated_at=now()`, tenantID, planDate, algo, string(b))
    return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, tenantID, planDate, algo string) ([]map[string]any, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT algo, metrics FROM plan_metrics WHERE tenant_id=$1 AND plan_date=$2 AND ($3='' OR algo=$3) ORDER BY algo`, tenantID, planDate, algo)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var a string
        var raw []byte
        if err := rows.Scan(&a, &raw); err != nil { return nil, err }
        m := map[string]any{}
        _ = json.Unmarshal(raw, &m)
        m["algo"] = a
        m["planDate"] = planDate
        out = append(out, m)
    }
    return out, rows.Err()
}

func computeDedupKey(payload []byte) string {
    // try to parse JSON and use id
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nextCursor(n, limit int, last func() string) string {
    if n == 0 || n < limit { return "" }
    return last()
}

func nullIfEmpty(s string) any { if strings.TrimSpace(s) == "" { return nil }; return s }

func nonNil(v []string) []string { if v == nil { return []string{} }; return v }

func pointArgs(pt *model.GeoPoint) (any, any) {
    if pt == nil { return nil, nil }
    return pt.Lat, pt.Lng
}

func pointFrom(lat, lng sql.NullFloat64) *model.GeoPoint {
    if !lat.Valid || !lng.Valid { return nil }
    return &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}
