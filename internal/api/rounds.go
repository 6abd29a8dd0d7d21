package api

import (
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "tourplan/internal/model"
    "tourplan/internal/planning"
)

// RoundsIndexHandler handles GET /v1/rounds?planDate=. Couriers only see the
// rounds they drive.
func (s *Server) RoundsIndexHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/rounds" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r)
    if !ok { return }
    cursor, limit := pageParams(r)
    items, next, err := s.Store.ListRounds(r.Context(), p.Tenant, r.URL.Query().Get("planDate"), cursor, limit)
    if err != nil { writeError(w, r, "List rounds failed", err); return }
    if !p.CanPlan() {
        visible := items[:0]
        for _, rd := range items {
            if p.CanSeeRound(rd) { visible = append(visible, rd) }
        }
        items = visible
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// PlanRoundHandler handles POST /v1/rounds/plan
func (s *Server) PlanRoundHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p, ok := s.authorize(w, r, model.RoleAdmin, model.RoleDispatcher)
    if !ok { return }
    var req model.PlanRoundRequest
    if !decodeJSON(w, r, &req) { return }
    if strings.TrimSpace(req.ZoneID) == "" { writeProblem(w, http.StatusBadRequest, "Invalid plan request", "zoneId is required", r.URL.Path); return }
    if req.PlanDate != "" {
        if _, err := time.Parse("2006-01-02", req.PlanDate); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid plan request", "planDate must be YYYY-MM-DD", r.URL.Path); return }
    }
    rd, err := s.Planner.PlanRound(r.Context(), p.Tenant, req)
    if err != nil { writeError(w, r, "Round planning failed", err); return }
    s.Broker.Publish(rd.ID, SSEEvent{Type: planning.EventRoundPlanned, Data: map[string]any{
        "roundId":         rd.ID,
        "zoneId":          rd.ZoneID,
        "routes":          len(rd.Routes),
        "unassigned":      len(rd.Unassigned),
        "totalDistanceKm": rd.TotalDistanceKm,
    }})
    writeJSON(w, http.StatusCreated, rd)
}

// RoundByIDHandler handles /v1/rounds/{id} and its sub-resources:
// /geojson, /events/stream, /events/ws, /location and /locations.
func (s *Server) RoundByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/rounds/")
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "" { writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path); return }
    sub := strings.Join(parts[1:], "/")
    switch sub {
    case "", "geojson", "events/stream", "events/ws", "locations":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    case "location":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    p, rd, ok := s.visibleRound(w, r, id)
    if !ok { return }
    switch sub {
    case "":
        writeJSON(w, http.StatusOK, rd)
    case "geojson":
        s.roundGeoJSON(w, r, rd)
    case "events/stream":
        s.roundEventStream(w, r, rd.ID)
    case "events/ws":
        s.roundEventsWS(w, r, rd.ID)
    case "location":
        s.reportLocation(w, r, p, rd)
    case "locations":
        writeJSON(w, http.StatusOK, map[string]any{"items": s.Locations.ListByRound(p.Tenant, rd.ID)})
    }
}

// visibleRound loads the round and enforces that the caller may see it.
func (s *Server) visibleRound(w http.ResponseWriter, r *http.Request, id string) (Principal, model.Round, bool) {
    p, ok := s.authorize(w, r)
    if !ok { return p, model.Round{}, false }
    rd, err := s.Store.GetRound(r.Context(), p.Tenant, id)
    if err != nil { writeError(w, r, "Round not found", err); return p, rd, false }
    if !p.CanSeeRound(rd) {
        writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for this round", r.URL.Path)
        return p, rd, false
    }
    return p, rd, true
}

// roundEventStream serves round events as Server-Sent Events with a
// heartbeat every 15 seconds.
func (s *Server) roundEventStream(w http.ResponseWriter, r *http.Request, roundID string) {
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(roundID)
    defer s.Broker.Unsubscribe(roundID, ch)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"roundId\":%q,\"ts\":%q}\n\n", roundID, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    ticker := time.NewTicker(15 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, open := <-ch:
            if !open { return }
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        case <-ticker.C:
            heartbeat()
        }
    }
}

// EventCourierLocation is published on a round when a courier reports a position.
const EventCourierLocation = "courier.location"

// reportLocation handles POST /v1/rounds/{id}/location. Couriers report for
// themselves; planners must name the courier.
func (s *Server) reportLocation(w http.ResponseWriter, r *http.Request, p Principal, rd model.Round) {
    var body struct {
        CourierID string  `json:"courierId"`
        Lat       float64 `json:"lat"`
        Lng       float64 `json:"lng"`
        TS        string  `json:"ts"`
    }
    if !decodeJSON(w, r, &body) { return }
    courier := body.CourierID
    if p.Role == model.RoleCourier { courier = p.CourierID }
    if courier == "" { writeProblem(w, http.StatusBadRequest, "Invalid location", "courierId is required", r.URL.Path); return }
    onRound := false
    for _, rt := range rd.Routes {
        if rt.CourierID == courier { onRound = true }
    }
    if !onRound { writeProblem(w, http.StatusBadRequest, "Invalid location", "courier "+courier+" is not on this round", r.URL.Path); return }
    if !validPoint(body.Lat, body.Lng) { writeProblem(w, http.StatusBadRequest, "Invalid location", "coordinates out of range", r.URL.Path); return }
    ts := time.Now().UTC()
    if body.TS != "" {
        t, err := time.Parse(time.RFC3339, body.TS)
        if err != nil { writeProblem(w, http.StatusBadRequest, "Invalid location", "ts must be RFC3339", r.URL.Path); return }
        ts = t.UTC()
    }
    loc, accepted := s.Locations.Upsert(p.Tenant, rd.ID, courier, body.Lat, body.Lng, ts)
    if accepted {
        s.Broker.Publish(rd.ID, SSEEvent{Type: EventCourierLocation, Data: map[string]any{
            "roundId": rd.ID, "courierId": courier, "lat": loc.Lat, "lng": loc.Lng, "ts": loc.TS.Format(time.RFC3339),
        }})
    }
    writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted, "location": loc})
}
