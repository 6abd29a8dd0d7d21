package store

import (
    "context"
    "errors"
    "time"

    "tourplan/internal/model"
)

// Store is the persistence interface used by the API server and the planner.
type Store interface {
    // Zones
    CreateZone(ctx context.Context, tenantID string, in model.ZoneInput) (model.Zone, error)
    GetZone(ctx context.Context, tenantID, id string) (model.Zone, error)
    ListZones(ctx context.Context, tenantID, cursor string, limit int) ([]model.Zone, string, error)

    // Fleet
    CreateVehicle(ctx context.Context, tenantID string, in model.VehicleInput) (model.Vehicle, error)
    GetVehicle(ctx context.Context, tenantID, id string) (model.Vehicle, error)
    ListVehicles(ctx context.Context, tenantID, cursor string, limit int) ([]model.Vehicle, string, error)
    CreateCourier(ctx context.Context, tenantID string, in model.CourierInput) (model.Courier, error)
    GetCourier(ctx context.Context, tenantID, id string) (model.Courier, error)
    ListCouriers(ctx context.Context, tenantID, cursor string, limit int) ([]model.Courier, string, error)

    // Packages
    CreatePackages(ctx context.Context, tenantID string, in []model.PackageInput) ([]model.Package, error)
    GetPackage(ctx context.Context, tenantID, id string) (model.Package, error)
    ListPackages(ctx context.Context, tenantID, zoneID, status, cursor string, limit int) ([]model.Package, string, error)

    // Rounds. SaveRound also marks every routed package as assigned with its
    // round and sequence number.
    SaveRound(ctx context.Context, r model.Round) (model.Round, error)
    GetRound(ctx context.Context, tenantID, id string) (model.Round, error)
    ListRounds(ctx context.Context, tenantID, planDate, cursor string, limit int) ([]model.Round, string, error)

    // Users
    CreateUser(ctx context.Context, u model.User) (model.User, error)
    GetUserByName(ctx context.Context, username string) (model.User, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, tenantID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, tenantID, id string) error

    // Planner run statistics, one entry per tenant/plan date/algorithm
    SavePlanMetrics(ctx context.Context, tenantID, planDate, algo string, metrics map[string]any) error
    ListPlanMetrics(ctx context.Context, tenantID, planDate, algo string) ([]map[string]any, error)
}

var (
    ErrNotFound = errors.New("not found")
    ErrConflict = errors.New("already exists")
)

const (
    defaultLimit = 100
    maxLimit     = 500
)

func clampLimit(limit int) int {
    if limit <= 0 || limit > maxLimit { return defaultLimit }
    return limit
}
