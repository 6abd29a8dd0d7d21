package api

import (
    "fmt"
    "math"
    "net/url"
    "strings"

    "tourplan/internal/model"
    "tourplan/internal/opt"
)

func validPoint(lat, lng float64) bool {
    return !math.IsNaN(lat) && !math.IsNaN(lng) && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func validateOptimizeRequest(req *model.OptimizeRequest, maxStops int) error {
    if req.Algorithm == "" {
        req.Algorithm = string(opt.AlgoNearestNeighbor)
    }
    if _, err := opt.ParseAlgorithm(req.Algorithm); err != nil {
        return err
    }
    if req.Depot == nil {
        return fmt.Errorf("depot is required")
    }
    if !validPoint(req.Depot.Lat, req.Depot.Lng) {
        return fmt.Errorf("depot coordinates out of range")
    }
    if maxStops > 0 && len(req.Stops) > maxStops {
        return fmt.Errorf("at most %d stops allowed, got %d", maxStops, len(req.Stops))
    }
    seen := make(map[string]struct{}, len(req.Stops))
    for i, s := range req.Stops {
        if strings.TrimSpace(s.ID) == "" {
            return fmt.Errorf("stops[%d].id is required", i)
        }
        if _, dup := seen[s.ID]; dup {
            return fmt.Errorf("duplicate stop id %q", s.ID)
        }
        seen[s.ID] = struct{}{}
        if !validPoint(s.Lat, s.Lng) {
            return fmt.Errorf("stops[%d] coordinates out of range", i)
        }
        if s.Demand < 0 || math.IsNaN(s.Demand) {
            return fmt.Errorf("stops[%d].demand must be >= 0", i)
        }
    }
    fleet := make(map[string]struct{}, len(req.Vehicles))
    for i, v := range req.Vehicles {
        if strings.TrimSpace(v.ID) == "" {
            return fmt.Errorf("vehicles[%d].id is required", i)
        }
        if _, dup := fleet[v.ID]; dup {
            return fmt.Errorf("duplicate vehicle id %q", v.ID)
        }
        fleet[v.ID] = struct{}{}
        if v.Capacity < 0 || math.IsNaN(v.Capacity) {
            return fmt.Errorf("vehicles[%d].capacity must be >= 0", i)
        }
    }
    return nil
}

func validateZone(in model.ZoneInput) error {
    if strings.TrimSpace(in.Name) == "" {
        return fmt.Errorf("name is required")
    }
    if in.Depot != nil && !validPoint(in.Depot.Lat, in.Depot.Lng) {
        return fmt.Errorf("depot coordinates out of range")
    }
    return nil
}

func validateVehicle(in model.VehicleInput) error {
    if in.CapacityKg < 0 || math.IsNaN(in.CapacityKg) {
        return fmt.Errorf("capacityKg must be >= 0")
    }
    return nil
}

// validatePackage only checks shape; completeness for planning is checked
// when a round is planned.
func validatePackage(i int, in model.PackageInput) error {
    if in.Location != nil && !validPoint(in.Location.Lat, in.Location.Lng) {
        return fmt.Errorf("packages[%d] coordinates out of range", i)
    }
    if in.WeightKg < 0 || math.IsNaN(in.WeightKg) {
        return fmt.Errorf("packages[%d].weightKg must be >= 0", i)
    }
    return nil
}

func validateUser(in model.UserInput) error {
    if strings.TrimSpace(in.Username) == "" {
        return fmt.Errorf("username is required")
    }
    if len(in.Password) < 8 {
        return fmt.Errorf("password must be at least 8 characters")
    }
    switch in.Role {
    case model.RoleAdmin, model.RoleDispatcher:
    case model.RoleCourier:
        if in.CourierID == "" {
            return fmt.Errorf("courierId is required for courier users")
        }
    default:
        return fmt.Errorf("role must be admin, dispatcher or courier")
    }
    return nil
}

func validateSubscription(req model.SubscriptionRequest) error {
    u, err := url.Parse(req.URL)
    if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
        return fmt.Errorf("url must be an absolute http(s) URL")
    }
    if len(req.Events) == 0 {
        return fmt.Errorf("events must not be empty")
    }
    return nil
}
