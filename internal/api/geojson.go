package api

import (
    "net/http"

    "github.com/twpayne/go-geom"
    "github.com/twpayne/go-geom/encoding/geojson"

    "tourplan/internal/model"
)

// roundGeoJSON renders a round as a FeatureCollection: the depot point, one
// closed LineString per route and one point per stop.
func (s *Server) roundGeoJSON(w http.ResponseWriter, r *http.Request, rd model.Round) {
    zone, err := s.Store.GetZone(r.Context(), rd.TenantID, rd.ZoneID)
    if err != nil {
        writeError(w, r, "Zone lookup failed", err)
        return
    }
    fc := roundFeatures(rd, zone.Depot)
    b, err := fc.MarshalJSON()
    if err != nil {
        writeError(w, r, "GeoJSON encoding failed", err)
        return
    }
    w.Header().Set("Content-Type", "application/geo+json")
    w.WriteHeader(http.StatusOK)
    _, _ = w.Write(b)
}

func roundFeatures(rd model.Round, depot *model.GeoPoint) *geojson.FeatureCollection {
    fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
    if depot != nil {
        fc.Features = append(fc.Features, &geojson.Feature{
            ID:         "depot",
            Geometry:   geom.NewPointFlat(geom.XY, []float64{depot.Lng, depot.Lat}),
            Properties: map[string]interface{}{"kind": "depot", "roundId": rd.ID},
        })
    }
    for _, rt := range rd.Routes {
        coords := make([]float64, 0, 2*(len(rt.Stops)+2))
        if depot != nil {
            coords = append(coords, depot.Lng, depot.Lat)
        }
        for _, st := range rt.Stops {
            coords = append(coords, st.Location.Lng, st.Location.Lat)
        }
        if depot != nil {
            coords = append(coords, depot.Lng, depot.Lat)
        }
        if len(coords) >= 4 {
            fc.Features = append(fc.Features, &geojson.Feature{
                ID:       "route:" + rt.CourierID,
                Geometry: geom.NewLineStringFlat(geom.XY, coords),
                Properties: map[string]interface{}{
                    "kind":       "route",
                    "courierId":  rt.CourierID,
                    "vehicleId":  rt.VehicleID,
                    "distanceKm": rt.DistanceKm,
                    "timeHours":  rt.TimeHours,
                    "loadKg":     rt.LoadKg,
                },
            })
        }
        for _, st := range rt.Stops {
            fc.Features = append(fc.Features, &geojson.Feature{
                ID:       st.PackageID,
                Geometry: geom.NewPointFlat(geom.XY, []float64{st.Location.Lng, st.Location.Lat}),
                Properties: map[string]interface{}{
                    "kind":      "stop",
                    "packageId": st.PackageID,
                    "sequence":  st.Sequence,
                    "courierId": rt.CourierID,
                    "weightKg":  st.WeightKg,
                },
            })
        }
    }
    return fc
}
