// Package planning turns a zone's pending packages and its couriers into a
// persisted delivery round.
package planning

import (
    "context"
    "errors"
    "fmt"
    "time"

    logrus "github.com/sirupsen/logrus"

    "tourplan/internal/metrics"
    "tourplan/internal/model"
    "tourplan/internal/opt"
    "tourplan/internal/store"
)

// ErrConfig marks planning input that cannot be turned into an optimization
// request (missing depot, vehicle or package data).
var ErrConfig = errors.New("planning configuration error")

type ConfigError struct {
    Field  string
    Detail string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Detail) }

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErr(field, format string, args ...any) error {
    return &ConfigError{Field: field, Detail: fmt.Sprintf(format, args...)}
}

// EventEmitter receives the round.planned notification.
type EventEmitter interface {
    Emit(ctx context.Context, tenantID, eventType string, data any)
}

const EventRoundPlanned = "round.planned"

type Planner struct {
    Store    store.Store
    Events   EventEmitter
    Options  opt.Options
    MaxStops int // 0 means unlimited
}

// PlanRound optimizes the requested packages for the requested couriers and
// saves the result. Nothing is persisted when any step before saving fails.
func (p *Planner) PlanRound(ctx context.Context, tenantID string, req model.PlanRoundRequest) (model.Round, error) {
    log := logrus.WithFields(logrus.Fields{"component": "planning", "tenant": tenantID, "zone": req.ZoneID})
    zone, err := p.Store.GetZone(ctx, tenantID, req.ZoneID)
    if err != nil { return model.Round{}, fmt.Errorf("zone %s: %w", req.ZoneID, err) }
    if zone.Depot == nil { return model.Round{}, configErr("zone.depot", "zone %s has no depot", zone.ID) }

    vehicles, err := p.resolveFleet(ctx, tenantID, req.CourierIDs)
    if err != nil { return model.Round{}, err }
    pkgs, err := p.packages(ctx, tenantID, zone.ID, req.PackageIDs)
    if err != nil { return model.Round{}, err }
    if p.MaxStops > 0 && len(pkgs) > p.MaxStops {
        return model.Round{}, configErr("packages", "%d packages exceed the limit of %d", len(pkgs), p.MaxStops)
    }

    stops := make([]opt.Stop, len(pkgs))
    byID := make(map[string]model.Package, len(pkgs))
    for i, pk := range pkgs {
        stops[i] = opt.Stop{ID: pk.ID, Lat: pk.Location.Lat, Lng: pk.Location.Lng, Demand: pk.WeightKg}
        byID[pk.ID] = pk
    }
    algorithm := req.Algorithm
    if algorithm == "" { algorithm = string(opt.AlgoNearestNeighbor) }

    start := time.Now()
    res, err := opt.Optimize(opt.Depot{Lat: zone.Depot.Lat, Lng: zone.Depot.Lng}, stops, vehicles.list, algorithm, p.Options)
    elapsed := time.Since(start)
    if err != nil {
        metrics.ObserveOptimization(algorithm, elapsed, 0, err)
        return model.Round{}, fmt.Errorf("optimize: %w", err)
    }
    stats := opt.Summarize(res, len(stops), elapsed)
    metrics.ObserveOptimization(res.Algorithm.String(), elapsed, stats.Dropped, nil)

    round := model.Round{
        TenantID:        tenantID,
        ZoneID:          zone.ID,
        PlanDate:        req.PlanDate,
        Algorithm:       res.Algorithm.String(),
        Routes:          []model.RoundRoute{},
        TotalDistanceKm: res.TotalDistanceKm,
        TotalTimeHours:  res.TotalTimeHours,
        Unassigned:      res.Dropped(stops),
    }
    for _, rt := range res.Routes {
        if len(rt.Stops) == 0 { continue }
        rr := model.RoundRoute{CourierID: rt.VehicleID, VehicleID: vehicles.vehicleOf[rt.VehicleID], DistanceKm: rt.DistanceKm, TimeHours: rt.TimeHours, LoadKg: rt.Load}
        for i, s := range rt.Stops {
            rr.Stops = append(rr.Stops, model.RoundStop{PackageID: s.ID, Sequence: i + 1, Location: *byID[s.ID].Location, WeightKg: s.Demand})
        }
        round.Routes = append(round.Routes, rr)
    }

    saved, err := p.Store.SaveRound(ctx, round)
    if err != nil { return model.Round{}, fmt.Errorf("save round: %w", err) }
    planDate := req.PlanDate
    if planDate == "" { planDate = saved.CreatedAt.Format(time.DateOnly) }
    if err := p.Store.SavePlanMetrics(ctx, tenantID, planDate, stats.Algorithm, stats.Map()); err != nil {
        log.WithError(err).Warn("save plan metrics")
    }
    log.WithFields(logrus.Fields{"round": saved.ID, "algo": stats.Algorithm, "routes": stats.Routes, "stops": stats.Stops, "dropped": stats.Dropped, "km": stats.DistanceKm}).Info("round planned")
    if p.Events != nil {
        p.Events.Emit(ctx, tenantID, EventRoundPlanned, map[string]any{
            "roundId":  saved.ID,
            "zoneId":   saved.ZoneID,
            "planDate": saved.PlanDate,
            "stats":    stats,
        })
    }
    return saved, nil
}

type fleet struct {
    list      []opt.Vehicle
    vehicleOf map[string]string // courier id -> vehicle id
}

// resolveFleet resolves couriers to optimization vehicles keyed by courier ID.
func (p *Planner) resolveFleet(ctx context.Context, tenantID string, ids []string) (fleet, error) {
    var couriers []model.Courier
    if len(ids) == 0 {
        cursor := ""
        for {
            page, next, err := p.Store.ListCouriers(ctx, tenantID, cursor, 500)
            if err != nil { return fleet{}, err }
            couriers = append(couriers, page...)
            if next == "" { break }
            cursor = next
        }
    } else {
        seen := make(map[string]bool, len(ids))
        for _, id := range ids {
            if seen[id] { continue }
            seen[id] = true
            c, err := p.Store.GetCourier(ctx, tenantID, id)
            if err != nil { return fleet{}, fmt.Errorf("courier %s: %w", id, err) }
            couriers = append(couriers, c)
        }
    }
    if len(couriers) == 0 { return fleet{}, configErr("couriers", "no couriers available") }
    f := fleet{vehicleOf: make(map[string]string, len(couriers))}
    driver := make(map[string]string, len(couriers)) // vehicle id -> courier id
    for _, c := range couriers {
        if c.VehicleID == "" { return fleet{}, configErr("courier.vehicle", "courier %s has no vehicle", c.ID) }
        if other, ok := driver[c.VehicleID]; ok { return fleet{}, configErr("courier.vehicle", "vehicle %s is assigned to couriers %s and %s", c.VehicleID, other, c.ID) }
        driver[c.VehicleID] = c.ID
        v, err := p.Store.GetVehicle(ctx, tenantID, c.VehicleID)
        if errors.Is(err, store.ErrNotFound) { return fleet{}, configErr("courier.vehicle", "courier %s: vehicle %s not found", c.ID, c.VehicleID) }
        if err != nil { return fleet{}, err }
        if v.CapacityKg <= 0 { return fleet{}, configErr("courier.vehicle", "vehicle %s has no capacity", v.ID) }
        f.list = append(f.list, opt.Vehicle{ID: c.ID, Capacity: v.CapacityKg})
        f.vehicleOf[c.ID] = v.ID
    }
    return f, nil
}

func (p *Planner) packages(ctx context.Context, tenantID, zoneID string, ids []string) ([]model.Package, error) {
    var pkgs []model.Package
    if len(ids) == 0 {
        cursor := ""
        for {
            page, next, err := p.Store.ListPackages(ctx, tenantID, zoneID, model.PackagePending, cursor, 500)
            if err != nil { return nil, err }
            pkgs = append(pkgs, page...)
            if next == "" { break }
            cursor = next
        }
    } else {
        seen := make(map[string]bool, len(ids))
        for _, id := range ids {
            if seen[id] { continue }
            seen[id] = true
            pk, err := p.Store.GetPackage(ctx, tenantID, id)
            if err != nil { return nil, fmt.Errorf("package %s: %w", id, err) }
            if pk.Status != model.PackagePending { return nil, configErr("package.status", "package %s is already %s", pk.ID, pk.Status) }
            if pk.ZoneID != "" && pk.ZoneID != zoneID { return nil, configErr("package.zone", "package %s belongs to zone %s", pk.ID, pk.ZoneID) }
            pkgs = append(pkgs, pk)
        }
    }
    if len(pkgs) == 0 { return nil, configErr("packages", "no pending packages in zone %s", zoneID) }
    for _, pk := range pkgs {
        switch {
        case pk.Location == nil:
            return nil, configErr("package.location", "package %s has no coordinates", pk.ID)
        case pk.WeightKg <= 0:
            return nil, configErr("package.weight", "package %s has no positive weight", pk.ID)
        case pk.Recipient == "":
            return nil, configErr("package.recipient", "package %s has no recipient", pk.ID)
        }
    }
    return pkgs, nil
}
