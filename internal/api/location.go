package api

import (
    "sort"
    "strings"
    "sync"
    "time"
)

// CourierLocation is the latest known position of a courier on a round.
type CourierLocation struct {
    Tenant    string    `json:"tenantId"`
    RoundID   string    `json:"roundId"`
    CourierID string    `json:"courierId"`
    Lat       float64   `json:"lat"`
    Lng       float64   `json:"lng"`
    TS        time.Time `json:"ts"`
}

// LocationCache keeps the latest courier positions per tenant/round/courier.
// It is process-local and lost on restart.
type LocationCache struct {
    mu sync.Mutex
    // key: tenant|roundId|courierId
    m map[string]CourierLocation
}

func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]CourierLocation{}} }

func locationKey(tenant, roundID, courierID string) string {
    return tenant + "|" + roundID + "|" + courierID
}

// Upsert stores the position unless a newer one is already known. It returns
// the stored location and whether ts was accepted.
func (c *LocationCache) Upsert(tenant, roundID, courierID string, lat, lng float64, ts time.Time) (CourierLocation, bool) {
    c.mu.Lock()
    defer c.mu.Unlock()
    k := locationKey(tenant, roundID, courierID)
    if cur, ok := c.m[k]; ok && cur.TS.After(ts) {
        return cur, false
    }
    loc := CourierLocation{Tenant: tenant, RoundID: roundID, CourierID: courierID, Lat: lat, Lng: lng, TS: ts}
    c.m[k] = loc
    return loc, true
}

// ListByRound returns the latest positions on a round ordered by courier.
func (c *LocationCache) ListByRound(tenant, roundID string) []CourierLocation {
    c.mu.Lock()
    defer c.mu.Unlock()
    out := []CourierLocation{}
    prefix := locationKey(tenant, roundID, "")
    for k, v := range c.m {
        if strings.HasPrefix(k, prefix) {
            out = append(out, v)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].CourierID < out[j].CourierID })
    return out
}
