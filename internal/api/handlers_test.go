package api

import (
    "bufio"
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "tourplan/internal/auth"
    "tourplan/internal/config"
    "tourplan/internal/metrics"
    "tourplan/internal/model"
    "tourplan/internal/store"
)

const testTenant = "t_test"

type harness struct {
    t   *testing.T
    srv *Server
    h   http.Handler
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
    t.Helper()
    cfg := config.Default()
    cfg.Rate.RPS = 0
    if mutate != nil { mutate(&cfg) }
    srv := newServer(cfg, store.NewMemory(), NewBroker())
    return &harness{t: t, srv: srv, h: srv.Handler()}
}

// do sends body as JSON; headers are key/value pairs. Dev-mode identity
// defaults to an admin of testTenant.
func (h *harness) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
    h.t.Helper()
    var rd *bytes.Reader
    switch b := body.(type) {
    case nil:
        rd = bytes.NewReader(nil)
    case string:
        rd = bytes.NewReader([]byte(b))
    default:
        raw, err := json.Marshal(b)
        require.NoError(h.t, err)
        rd = bytes.NewReader(raw)
    }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Tenant-Id", testTenant)
    for i := 0; i+1 < len(headers); i += 2 { req.Header.Set(headers[i], headers[i+1]) }
    rr := httptest.NewRecorder()
    h.h.ServeHTTP(rr, req)
    return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
    t.Helper()
    var v T
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
    return v
}

type fixture struct {
    zone     model.Zone
    couriers []model.Courier
    packages []model.Package
}

// seed creates a zone in Paris with two couriers and four packages.
func (h *harness) seed() fixture {
    h.t.Helper()
    var f fixture
    rr := h.do(http.MethodPost, "/v1/zones", model.ZoneInput{Name: "Paris 11", Depot: &model.GeoPoint{Lat: 48.8566, Lng: 2.3522}})
    require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
    f.zone = decode[model.Zone](h.t, rr)
    for _, capKg := range []float64{10, 10} {
        rr = h.do(http.MethodPost, "/v1/vehicles", model.VehicleInput{Plate: "AB-123", CapacityKg: capKg})
        require.Equal(h.t, http.StatusCreated, rr.Code)
        v := decode[model.Vehicle](h.t, rr)
        rr = h.do(http.MethodPost, "/v1/couriers", model.CourierInput{Name: "courier", VehicleID: v.ID})
        require.Equal(h.t, http.StatusCreated, rr.Code)
        f.couriers = append(f.couriers, decode[model.Courier](h.t, rr))
    }
    pkgs := []model.PackageInput{
        {Reference: "P1", Recipient: "A", Location: &model.GeoPoint{Lat: 48.86, Lng: 2.36}, WeightKg: 4},
        {Reference: "P2", Recipient: "B", Location: &model.GeoPoint{Lat: 48.87, Lng: 2.37}, WeightKg: 4},
        {Reference: "P3", Recipient: "C", Location: &model.GeoPoint{Lat: 48.85, Lng: 2.34}, WeightKg: 4},
        {Reference: "P4", Recipient: "D", Location: &model.GeoPoint{Lat: 48.84, Lng: 2.33}, WeightKg: 4},
    }
    for i := range pkgs { pkgs[i].ZoneID = f.zone.ID }
    rr = h.do(http.MethodPost, "/v1/packages", map[string]any{"packages": pkgs})
    require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
    f.packages = decode[struct{ Items []model.Package `json:"items"` }](h.t, rr).Items
    return f
}

func (h *harness) plan(f fixture, algorithm string) model.Round {
    h.t.Helper()
    rr := h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{ZoneID: f.zone.ID, PlanDate: "2026-10-17", Algorithm: algorithm})
    require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
    return decode[model.Round](h.t, rr)
}

func TestHealthReady(t *testing.T) {
    h := newHarness(t, nil)
    assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", nil).Code)
    assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/readyz", nil).Code)
}

func TestPlanRoundEndToEnd(t *testing.T) {
    h := newHarness(t, nil)
    f := h.seed()
    rd := h.plan(f, "ClarkeWright")

    assert.Equal(t, "ClarkeWright", rd.Algorithm)
    assert.Empty(t, rd.Unassigned)
    total := 0
    for _, rt := range rd.Routes {
        assert.LessOrEqual(t, rt.LoadKg, 10.0)
        for i, st := range rt.Stops { assert.Equal(t, i+1, st.Sequence) }
        total += len(rt.Stops)
    }
    assert.Equal(t, 4, total)
    assert.Greater(t, rd.TotalDistanceKm, 0.0)

    rr := h.do(http.MethodGet, "/v1/rounds/"+rd.ID, nil)
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Equal(t, rd.ID, decode[model.Round](t, rr).ID)

    rr = h.do(http.MethodGet, "/v1/rounds?planDate=2026-10-17", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Len(t, decode[struct{ Items []model.Round `json:"items"` }](t, rr).Items, 1)

    rr = h.do(http.MethodGet, "/v1/packages?status=assigned&zoneId="+f.zone.ID, nil)
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Len(t, decode[struct{ Items []model.Package `json:"items"` }](t, rr).Items, 4)

    rr = h.do(http.MethodGet, "/v1/admin/plan-metrics?planDate=2026-10-17", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    items := decode[struct{ Items []map[string]any `json:"items"` }](t, rr).Items
    require.Len(t, items, 1)
    assert.Equal(t, "ClarkeWright", items[0]["algo"])

    // everything is assigned now
    rr = h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{ZoneID: f.zone.ID})
    assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
    assert.Equal(t, "packages", decode[Problem](t, rr).Field)
}

func TestRoundGeoJSON(t *testing.T) {
    h := newHarness(t, nil)
    f := h.seed()
    rd := h.plan(f, "")

    rr := h.do(http.MethodGet, "/v1/rounds/"+rd.ID+"/geojson", nil)
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))
    var fc struct {
        Type     string `json:"type"`
        Features []struct {
            Geometry struct {
                Type        string          `json:"type"`
                Coordinates json.RawMessage `json:"coordinates"`
            } `json:"geometry"`
            Properties map[string]any `json:"properties"`
        } `json:"features"`
    }
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fc))
    assert.Equal(t, "FeatureCollection", fc.Type)
    kinds := map[string]int{}
    for _, ft := range fc.Features { kinds[ft.Properties["kind"].(string)]++ }
    assert.Equal(t, 1, kinds["depot"])
    assert.Equal(t, len(rd.Routes), kinds["route"])
    assert.Equal(t, 4, kinds["stop"])
    // GeoJSON is lng, lat
    assert.JSONEq(t, `[2.3522,48.8566]`, string(fc.Features[0].Geometry.Coordinates))
}

func TestPlanRoundErrors(t *testing.T) {
    h := newHarness(t, nil)
    rr := h.do(http.MethodPost, "/v1/zones", model.ZoneInput{Name: "no depot"})
    require.Equal(t, http.StatusCreated, rr.Code)
    zone := decode[model.Zone](t, rr)

    rr = h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{ZoneID: zone.ID})
    assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
    assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
    assert.Equal(t, "zone.depot", decode[Problem](t, rr).Field)

    rr = h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{ZoneID: "missing"})
    assert.Equal(t, http.StatusNotFound, rr.Code)

    rr = h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{})
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    f := h.seed()
    rr = h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{ZoneID: f.zone.ID, Algorithm: "Dijkstra"})
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    rr = h.do(http.MethodPost, "/v1/rounds/plan", model.PlanRoundRequest{ZoneID: f.zone.ID}, "X-Role", "courier")
    assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOptimizeAntipodalStop(t *testing.T) {
    h := newHarness(t, nil)
    rr := h.do(http.MethodPost, "/v1/optimize", map[string]any{
        "algorithm": "NearestNeighbor",
        "depot":     map[string]float64{"lat": 10, "lng": 20},
        "stops":     []map[string]any{{"id": "far", "lat": -10, "lng": -160, "demand": 1}},
        "vehicles":  []map[string]any{{"id": "v1", "capacity": 5}},
    })
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    var out struct {
        TotalDistanceKm float64 `json:"totalDistanceKm"`
    }
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
    assert.InDelta(t, 2*20015.09, out.TotalDistanceKm, 0.1)
}

func TestOptimize(t *testing.T) {
    h := newHarness(t, nil)
    req := map[string]any{
        "algorithm": "nearestneighbor",
        "depot":     map[string]float64{"lat": 48.8566, "lng": 2.3522},
        "stops": []map[string]any{
            {"id": "a", "lat": 48.86, "lng": 2.36, "demand": 3},
            {"id": "b", "lat": 48.87, "lng": 2.37, "demand": 3},
            {"id": "c", "lat": 48.85, "lng": 2.34, "demand": 9},
        },
        "vehicles": []map[string]any{{"id": "v1", "capacity": 6}},
    }
    rr := h.do(http.MethodPost, "/v1/optimize", req)
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    var out struct {
        Algorithm  string           `json:"algorithm"`
        Routes     []map[string]any `json:"routes"`
        Unassigned []string         `json:"unassigned"`
        Stats      map[string]any   `json:"stats"`
    }
    require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
    assert.Equal(t, "NearestNeighbor", out.Algorithm)
    assert.Equal(t, []string{"c"}, out.Unassigned)
    assert.EqualValues(t, 1, out.Stats["dropped"])

    req["algorithm"] = "Dijkstra"
    rr = h.do(http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    req["algorithm"] = "ClarkeWright"
    req["vehicles"] = []map[string]any{}
    rr = h.do(http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

    req["vehicles"] = []map[string]any{{"id": "v1", "capacity": 6}, {"id": "v1", "capacity": 6}}
    rr = h.do(http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    assert.Contains(t, rr.Body.String(), "duplicate vehicle id")

    delete(req, "depot")
    rr = h.do(http.MethodPost, "/v1/optimize", req)
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    rr = h.do(http.MethodPost, "/v1/optimize", req, "X-Role", "courier")
    assert.Equal(t, http.StatusForbidden, rr.Code)

    rr = h.do(http.MethodPost, "/v1/optimize", "{")
    assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCourierVisibility(t *testing.T) {
    h := newHarness(t, nil)
    f := h.seed()
    rd := h.plan(f, "NearestNeighbor")
    driver := rd.Routes[0].CourierID

    rr := h.do(http.MethodGet, "/v1/rounds/"+rd.ID, nil, "X-Role", "courier", "X-Courier-Id", driver)
    assert.Equal(t, http.StatusOK, rr.Code)
    rr = h.do(http.MethodGet, "/v1/rounds/"+rd.ID, nil, "X-Role", "courier", "X-Courier-Id", "someone-else")
    assert.Equal(t, http.StatusForbidden, rr.Code)

    rr = h.do(http.MethodGet, "/v1/rounds", nil, "X-Role", "courier", "X-Courier-Id", "someone-else")
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Empty(t, decode[struct{ Items []model.Round `json:"items"` }](t, rr).Items)

    rr = h.do(http.MethodGet, "/v1/rounds/"+rd.ID, nil, "X-Tenant-Id", "t_other")
    assert.Equal(t, http.StatusNotFound, rr.Code)

    rr = h.do(http.MethodGet, "/v1/vehicles", nil, "X-Role", "courier")
    assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCourierLocation(t *testing.T) {
    h := newHarness(t, nil)
    f := h.seed()
    rd := h.plan(f, "")
    driver := rd.Routes[0].CourierID
    loc := "/v1/rounds/" + rd.ID + "/location"

    rr := h.do(http.MethodPost, loc, map[string]any{"lat": 48.86, "lng": 2.35, "ts": "2026-10-17T09:00:00Z"}, "X-Role", "courier", "X-Courier-Id", driver)
    require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
    // older fixes are ignored
    rr = h.do(http.MethodPost, loc, map[string]any{"lat": 1, "lng": 1, "ts": "2026-10-17T08:00:00Z"}, "X-Role", "courier", "X-Courier-Id", driver)
    require.Equal(t, http.StatusAccepted, rr.Code)
    assert.Equal(t, false, decode[map[string]any](t, rr)["accepted"])

    rr = h.do(http.MethodPost, loc, map[string]any{"lat": 48.86, "lng": 2.35}, "X-Role", "dispatcher")
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    rr = h.do(http.MethodPost, loc, map[string]any{"courierId": driver, "lat": 95, "lng": 2.35}, "X-Role", "dispatcher")
    assert.Equal(t, http.StatusBadRequest, rr.Code)

    rr = h.do(http.MethodGet, "/v1/rounds/"+rd.ID+"/locations", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    items := decode[struct{ Items []CourierLocation `json:"items"` }](t, rr).Items
    require.Len(t, items, 1)
    assert.Equal(t, driver, items[0].CourierID)
    assert.Equal(t, 48.86, items[0].Lat)
}

func TestTokenIssuanceHMAC(t *testing.T) {
    h := newHarness(t, func(c *config.Config) {
        c.Auth.Mode = "hmac"
        c.Auth.HMACSecret = "test-secret"
    })
    hash, err := auth.HashPassword("correct horse")
    require.NoError(t, err)
    _, err = h.srv.Store.CreateUser(context.Background(), model.User{TenantID: testTenant, Username: "disp", PasswordHash: hash, Role: model.RoleDispatcher})
    require.NoError(t, err)

    rr := h.do(http.MethodPost, "/v1/auth/token", map[string]string{"username": "disp", "password": "wrong"})
    assert.Equal(t, http.StatusUnauthorized, rr.Code)
    rr = h.do(http.MethodPost, "/v1/auth/token", map[string]string{"username": "nobody", "password": "wrong"})
    assert.Equal(t, http.StatusUnauthorized, rr.Code)

    rr = h.do(http.MethodPost, "/v1/auth/token", map[string]string{"username": "disp", "password": "correct horse"})
    require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
    tok := decode[map[string]any](t, rr)["accessToken"].(string)

    // headers alone are not trusted outside dev mode
    assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/zones", nil).Code)
    assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/zones", nil, "Authorization", "Bearer "+tok).Code)
    assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/users", model.UserInput{}, "Authorization", "Bearer "+tok).Code)
}

func TestUsers(t *testing.T) {
    h := newHarness(t, nil)
    rr := h.do(http.MethodPost, "/v1/users", model.UserInput{Username: "c1", Password: "longenough", Role: model.RoleCourier})
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    rr = h.do(http.MethodPost, "/v1/users", model.UserInput{Username: "c1", Password: "longenough", Role: model.RoleCourier, CourierID: "ghost"})
    assert.Equal(t, http.StatusNotFound, rr.Code)

    rr = h.do(http.MethodPost, "/v1/users", model.UserInput{Username: "d1", Password: "longenough", Role: model.RoleDispatcher})
    require.Equal(t, http.StatusCreated, rr.Code)
    assert.NotContains(t, rr.Body.String(), "longenough")
    rr = h.do(http.MethodPost, "/v1/users", model.UserInput{Username: "d1", Password: "longenough", Role: model.RoleDispatcher})
    assert.Equal(t, http.StatusConflict, rr.Code)

    rr = h.do(http.MethodPost, "/v1/auth/token", map[string]string{"username": "d1", "password": "longenough"})
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Equal(t, testTenant+":dispatcher", decode[map[string]any](t, rr)["accessToken"])
}

func TestPackagesImportCSV(t *testing.T) {
    h := newHarness(t, nil)
    f := h.seed()
    csv := "reference,recipient,lat,lng,weight_kg\nC1,Eve,48.8,2.3,1\nC2,Finn,48.81,2.31,2.5\n"
    rr := h.do(http.MethodPost, "/v1/packages/import?zoneId="+f.zone.ID, csv)
    require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
    assert.EqualValues(t, 2, decode[map[string]any](t, rr)["created"])

    rr = h.do(http.MethodGet, "/v1/packages?status=pending&zoneId="+f.zone.ID, nil)
    assert.Len(t, decode[struct{ Items []model.Package `json:"items"` }](t, rr).Items, 6)

    rr = h.do(http.MethodPost, "/v1/packages/import?zoneId="+f.zone.ID, "reference,recipient,lat,lng,weight_kg\nC3,Gus,x,2.3,1\n")
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    assert.Contains(t, decode[Problem](t, rr).Detail, "row 2")

    rr = h.do(http.MethodPost, "/v1/packages/import?zoneId=nowhere", csv)
    assert.Equal(t, http.StatusNotFound, rr.Code)
    rr = h.do(http.MethodPost, "/v1/packages/import?source=ftp", csv)
    assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimit(t *testing.T) {
    h := newHarness(t, func(c *config.Config) { c.Rate.RPS = 0.001; c.Rate.Burst = 1 })
    assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/zones", nil).Code)
    rr := h.do(http.MethodGet, "/v1/zones", nil)
    assert.Equal(t, http.StatusTooManyRequests, rr.Code)
    assert.Equal(t, "1", rr.Header().Get("Retry-After"))
    // other tenants and health checks are unaffected
    assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/zones", nil, "X-Tenant-Id", "t_other").Code)
    assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", nil).Code)
}

func TestSubscriptionsAndDeliveries(t *testing.T) {
    h := newHarness(t, nil)
    rr := h.do(http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "ftp://x", Events: []string{"round.planned"}})
    assert.Equal(t, http.StatusBadRequest, rr.Code)
    rr = h.do(http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{TenantID: "t_spoof", URL: "https://hooks.example.com/in", Events: []string{"round.planned"}, Secret: "s"})
    require.Equal(t, http.StatusCreated, rr.Code)
    sub := decode[model.Subscription](t, rr)
    assert.Equal(t, testTenant, sub.TenantID)

    h.plan(h.seed(), "")

    rr = h.do(http.MethodGet, "/v1/admin/webhook-deliveries", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    items := decode[struct{ Items []map[string]any `json:"items"` }](t, rr).Items
    require.Len(t, items, 1)
    assert.Equal(t, "round.planned", items[0]["eventType"])

    id := items[0]["id"].(string)
    assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/v1/admin/webhook-deliveries/"+id+"/retry", nil).Code)
    assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", nil).Code)
    assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/admin/webhook-deliveries", nil, "X-Role", "dispatcher").Code)

    assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil).Code)
}

func TestMetricsAndDebug(t *testing.T) {
    metrics.RegisterDefault()
    h := newHarness(t, nil)
    h.plan(h.seed(), "")
    rr := h.do(http.MethodGet, "/metrics", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Contains(t, rr.Body.String(), "route_optimizations_total")
    assert.Contains(t, rr.Body.String(), "http_requests_total")

    rr = h.do(http.MethodGet, "/v1/admin/debug", nil)
    require.Equal(t, http.StatusOK, rr.Code)
    assert.Contains(t, rr.Body.String(), `"authMode":"dev"`)
    assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, "/v1/admin/debug", nil, "X-Role", "dispatcher").Code)
}

func TestRoundEventStream(t *testing.T) {
    h := newHarness(t, nil)
    rd := h.plan(h.seed(), "")
    ts := httptest.NewServer(h.h)
    defer ts.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/rounds/"+rd.ID+"/events/stream", nil)
    require.NoError(t, err)
    req.Header.Set("X-Tenant-Id", testTenant)
    resp, err := http.DefaultClient.Do(req)
    require.NoError(t, err)
    defer resp.Body.Close()
    assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

    lines := bufio.NewScanner(resp.Body)
    require.True(t, lines.Scan())
    assert.Equal(t, "event: heartbeat", lines.Text())

    rr := h.do(http.MethodPost, "/v1/rounds/"+rd.ID+"/location", map[string]any{"courierId": rd.Routes[0].CourierID, "lat": 48.86, "lng": 2.35})
    require.Equal(t, http.StatusAccepted, rr.Code)
    for lines.Scan() {
        if lines.Text() == "event: "+EventCourierLocation { break }
    }
    require.True(t, lines.Scan())
    assert.True(t, strings.HasPrefix(lines.Text(), "data: "))
    assert.Contains(t, lines.Text(), rd.Routes[0].CourierID)
}

func TestRoundEventsWebSocket(t *testing.T) {
    h := newHarness(t, nil)
    rd := h.plan(h.seed(), "")
    ts := httptest.NewServer(h.h)
    defer ts.Close()

    hdr := http.Header{}
    hdr.Set("X-Tenant-Id", testTenant)
    url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/rounds/" + rd.ID + "/events/ws"
    conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
    require.NoError(t, err)
    defer conn.Close()
    _ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

    require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
    var msg wsMessage
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "connection_ack", msg.Type)

    require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"events":["courier.location"]}`)}))
    // messages are handled in order, so the pong confirms the subscription
    require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "pong", msg.Type)

    h.srv.Broker.Publish(rd.ID, SSEEvent{Type: "ignored", Data: map[string]any{}})
    rr := h.do(http.MethodPost, "/v1/rounds/"+rd.ID+"/location", map[string]any{"courierId": rd.Routes[0].CourierID, "lat": 48.86, "lng": 2.35})
    require.Equal(t, http.StatusAccepted, rr.Code)

    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "next", msg.Type)
    assert.Equal(t, "1", msg.ID)
    var payload struct{ Data SSEEvent `json:"data"` }
    require.NoError(t, json.Unmarshal(msg.Payload, &payload))
    assert.Equal(t, EventCourierLocation, payload.Data.Type)
    assert.Equal(t, rd.Routes[0].CourierID, payload.Data.Data["courierId"])
}

func TestRoundNotFoundAndMethods(t *testing.T) {
    h := newHarness(t, nil)
    assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/rounds/nope", nil).Code)
    assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/rounds/nope/unknown", nil).Code)
    assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodDelete, "/v1/rounds/nope", nil).Code)
    assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodGet, "/v1/rounds/plan", nil).Code)
}
