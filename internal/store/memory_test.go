package store

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "tourplan/internal/model"
)

func seedPackages(t *testing.T, m *Memory, tenant string, n int) []model.Package {
    t.Helper()
    in := make([]model.PackageInput, n)
    for i := range in {
        in[i] = model.PackageInput{Reference: "R", Recipient: "X", Location: &model.GeoPoint{Lat: float64(i), Lng: float64(i)}, WeightKg: 1}
    }
    pkgs, err := m.CreatePackages(context.Background(), tenant, in)
    require.NoError(t, err)
    return pkgs
}

func TestMemoryTenantIsolation(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    z, err := m.CreateZone(ctx, "t1", model.ZoneInput{Name: "north"})
    require.NoError(t, err)
    _, err = m.GetZone(ctx, "t2", z.ID)
    assert.ErrorIs(t, err, ErrNotFound)
    got, err := m.GetZone(ctx, "t1", z.ID)
    require.NoError(t, err)
    assert.Equal(t, "north", got.Name)
    items, _, err := m.ListZones(ctx, "t2", "", 10)
    require.NoError(t, err)
    assert.Empty(t, items)
}

func TestMemoryPagination(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    seedPackages(t, m, "t1", 5)
    first, next, err := m.ListPackages(ctx, "t1", "", "", "", 2)
    require.NoError(t, err)
    require.Len(t, first, 2)
    require.NotEmpty(t, next)
    second, next, err := m.ListPackages(ctx, "t1", "", "", next, 2)
    require.NoError(t, err)
    require.Len(t, second, 2)
    assert.NotEqual(t, first[0].ID, second[0].ID)
    third, next, err := m.ListPackages(ctx, "t1", "", "", next, 2)
    require.NoError(t, err)
    assert.Len(t, third, 1)
    assert.Empty(t, next)
}

func TestMemoryCourierRequiresVehicle(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    _, err := m.CreateCourier(ctx, "t1", model.CourierInput{Name: "Ana", VehicleID: "missing"})
    assert.ErrorIs(t, err, ErrNotFound)
    v, err := m.CreateVehicle(ctx, "t1", model.VehicleInput{CapacityKg: 50})
    require.NoError(t, err)
    c, err := m.CreateCourier(ctx, "t1", model.CourierInput{Name: "Ana", VehicleID: v.ID})
    require.NoError(t, err)
    assert.Equal(t, v.ID, c.VehicleID)
}

func TestMemorySaveRoundAssignsPackages(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    pkgs := seedPackages(t, m, "t1", 2)
    r, err := m.SaveRound(ctx, model.Round{TenantID: "t1", ZoneID: "z", PlanDate: "2026-01-05", Algorithm: "NearestNeighbor",
        Routes: []model.RoundRoute{{CourierID: "c1", Stops: []model.RoundStop{{PackageID: pkgs[1].ID, Sequence: 1}, {PackageID: pkgs[0].ID, Sequence: 2}}}}})
    require.NoError(t, err)
    assert.NotEmpty(t, r.ID)
    assert.Equal(t, "planned", r.Status)

    p0, err := m.GetPackage(ctx, "t1", pkgs[0].ID)
    require.NoError(t, err)
    assert.Equal(t, model.PackageAssigned, p0.Status)
    assert.Equal(t, r.ID, p0.RoundID)
    assert.Equal(t, 2, p0.Sequence)

    pending, _, err := m.ListPackages(ctx, "t1", "", model.PackagePending, "", 10)
    require.NoError(t, err)
    assert.Empty(t, pending)

    rounds, _, err := m.ListRounds(ctx, "t1", "2026-01-05", "", 10)
    require.NoError(t, err)
    require.Len(t, rounds, 1)
    rounds[0].Routes[0].Stops[0].Sequence = 99
    again, err := m.GetRound(ctx, "t1", r.ID)
    require.NoError(t, err)
    assert.Equal(t, 1, again.Routes[0].Stops[0].Sequence)
}

func TestMemorySaveRoundUnknownPackageLeavesStateUntouched(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    pkgs := seedPackages(t, m, "t1", 1)
    _, err := m.SaveRound(ctx, model.Round{TenantID: "t1", Routes: []model.RoundRoute{{Stops: []model.RoundStop{{PackageID: pkgs[0].ID, Sequence: 1}, {PackageID: "ghost", Sequence: 2}}}}})
    assert.ErrorIs(t, err, ErrNotFound)
    p, err := m.GetPackage(ctx, "t1", pkgs[0].ID)
    require.NoError(t, err)
    assert.Equal(t, model.PackagePending, p.Status)
    rounds, _, _ := m.ListRounds(ctx, "t1", "", "", 10)
    assert.Empty(t, rounds)
}

func TestMemorySaveRoundRejectsAlreadyAssignedPackage(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    pkgs := seedPackages(t, m, "t1", 2)
    first, err := m.SaveRound(ctx, model.Round{TenantID: "t1", Routes: []model.RoundRoute{{Stops: []model.RoundStop{{PackageID: pkgs[0].ID, Sequence: 1}}}}})
    require.NoError(t, err)

    _, err = m.SaveRound(ctx, model.Round{TenantID: "t1", Routes: []model.RoundRoute{{Stops: []model.RoundStop{{PackageID: pkgs[1].ID, Sequence: 1}, {PackageID: pkgs[0].ID, Sequence: 2}}}}})
    assert.ErrorIs(t, err, ErrConflict)
    p0, err := m.GetPackage(ctx, "t1", pkgs[0].ID)
    require.NoError(t, err)
    assert.Equal(t, first.ID, p0.RoundID)
    p1, err := m.GetPackage(ctx, "t1", pkgs[1].ID)
    require.NoError(t, err)
    assert.Equal(t, model.PackagePending, p1.Status)

    _, err = m.SaveRound(ctx, model.Round{TenantID: "t1", Routes: []model.RoundRoute{{Stops: []model.RoundStop{{PackageID: pkgs[1].ID, Sequence: 1}}}, {Stops: []model.RoundStop{{PackageID: pkgs[1].ID, Sequence: 1}}}}})
    assert.ErrorIs(t, err, ErrConflict)
    rounds, _, _ := m.ListRounds(ctx, "t1", "", "", 10)
    assert.Len(t, rounds, 1)
}

func TestMemoryUsers(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    u, err := m.CreateUser(ctx, model.User{TenantID: "t1", Username: "disp", PasswordHash: "h", Role: model.RoleDispatcher})
    require.NoError(t, err)
    assert.NotEmpty(t, u.ID)
    _, err = m.CreateUser(ctx, model.User{TenantID: "t1", Username: "disp"})
    assert.ErrorIs(t, err, ErrConflict)
    got, err := m.GetUserByName(ctx, "disp")
    require.NoError(t, err)
    assert.Equal(t, model.RoleDispatcher, got.Role)
    _, err = m.GetUserByName(ctx, "nobody")
    assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySubscriptions(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    s, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://x", Events: []string{"round.planned"}})
    require.NoError(t, err)
    subs, err := m.GetSubscriptionsForEvent(ctx, "t1", "round.planned")
    require.NoError(t, err)
    assert.Len(t, subs, 1)
    subs, err = m.GetSubscriptionsForEvent(ctx, "t1", "other")
    require.NoError(t, err)
    assert.Empty(t, subs)
    require.NoError(t, m.DeleteSubscription(ctx, "t1", s.ID))
    assert.ErrorIs(t, m.DeleteSubscription(ctx, "t1", s.ID), ErrNotFound)
}

func TestMemoryWebhookLifecycle(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    id, err := m.EnqueueWebhook(ctx, "t1", "s1", "round.planned", "http://x", "sec", []byte(`{}`))
    require.NoError(t, err)
    due, err := m.FetchDueWebhookDeliveries(ctx, 10)
    require.NoError(t, err)
    require.Len(t, due, 1)

    require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, nil, "boom", 500, 12))
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    assert.Empty(t, due, "retry is scheduled in the future")

    require.NoError(t, m.RetryWebhookDelivery(ctx, "t1", id))
    due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
    assert.Len(t, due, 1)

    require.NoError(t, m.FailWebhookDelivery(ctx, id, "gone", 410, 5))
    items, _, err := m.ListWebhookDeliveries(ctx, "t1", "failed", "", 10)
    require.NoError(t, err)
    require.Len(t, items, 1)
    assert.Equal(t, 2, items[0]["attempts"])
    assert.ErrorIs(t, m.MarkWebhookDelivery(ctx, "missing", true, nil, "", 200, 1), ErrNotFound)
    assert.ErrorIs(t, m.RetryWebhookDelivery(ctx, "t2", id), ErrNotFound)
}

func TestMemoryPlanMetricsUpsert(t *testing.T) {
    m := NewMemory()
    ctx := context.Background()
    require.NoError(t, m.SavePlanMetrics(ctx, "t1", "2026-01-05", "ClarkeWright", map[string]any{"routes": 2}))
    require.NoError(t, m.SavePlanMetrics(ctx, "t1", "2026-01-05", "ClarkeWright", map[string]any{"routes": 3}))
    require.NoError(t, m.SavePlanMetrics(ctx, "t1", "2026-01-05", "NearestNeighbor", map[string]any{"routes": 1}))
    all, err := m.ListPlanMetrics(ctx, "t1", "2026-01-05", "")
    require.NoError(t, err)
    assert.Len(t, all, 2)
    cw, err := m.ListPlanMetrics(ctx, "t1", "2026-01-05", "ClarkeWright")
    require.NoError(t, err)
    require.Len(t, cw, 1)
    assert.Equal(t, 3, cw[0]["routes"])
    assert.Equal(t, "2026-01-05", cw[0]["planDate"])
}

func TestWebhookDeliveryDueAndFinalAttempt(t *testing.T) {
    now := time.Now()
    d := WebhookDelivery{Status: DeliveryRetry, Attempts: 2}
    assert.True(t, d.Due(now.Add(-time.Second), now))
    assert.False(t, d.Due(now.Add(time.Minute), now))
    d.Status = DeliveryDelivered
    assert.False(t, d.Due(now.Add(-time.Second), now))
    assert.True(t, d.FinalAttempt(3))
    assert.False(t, d.FinalAttempt(4))
}
