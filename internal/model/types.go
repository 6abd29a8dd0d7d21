package model

import "time"

// Core domain records shared by the store, the planner and the API.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// Zone is a delivery area served from a single depot.
type Zone struct {
    ID       string    `json:"id"`
    TenantID string    `json:"tenantId"`
    Name     string    `json:"name"`
    Depot    *GeoPoint `json:"depot,omitempty"`
}

type ZoneInput struct {
    Name  string    `json:"name"`
    Depot *GeoPoint `json:"depot,omitempty"`
}

type Vehicle struct {
    ID         string  `json:"id"`
    TenantID   string  `json:"tenantId"`
    Plate      string  `json:"plate,omitempty"`
    CapacityKg float64 `json:"capacityKg"`
}

type VehicleInput struct {
    Plate      string  `json:"plate,omitempty"`
    CapacityKg float64 `json:"capacityKg"`
}

// Courier drives one vehicle; VehicleID may be empty until assigned.
type Courier struct {
    ID        string `json:"id"`
    TenantID  string `json:"tenantId"`
    Name      string `json:"name"`
    VehicleID string `json:"vehicleId,omitempty"`
}

type CourierInput struct {
    Name      string `json:"name"`
    VehicleID string `json:"vehicleId,omitempty"`
}

// Package statuses
const (
    PackagePending  = "pending"
    PackageAssigned = "assigned"
)

type Package struct {
    ID        string    `json:"id"`
    TenantID  string    `json:"tenantId"`
    ZoneID    string    `json:"zoneId,omitempty"`
    Reference string    `json:"reference,omitempty"`
    Recipient string    `json:"recipient,omitempty"`
    Location  *GeoPoint `json:"location,omitempty"`
    WeightKg  float64   `json:"weightKg"`
    Status    string    `json:"status"`
    RoundID   string    `json:"roundId,omitempty"`
    Sequence  int       `json:"sequence,omitempty"`
}

type PackageInput struct {
    ZoneID    string    `json:"zoneId,omitempty"`
    Reference string    `json:"reference,omitempty"`
    Recipient string    `json:"recipient,omitempty"`
    Location  *GeoPoint `json:"location,omitempty"`
    WeightKg  float64   `json:"weightKg"`
}

// Round is one planned delivery round ("tournée") for a zone and day.
type Round struct {
    ID              string       `json:"id"`
    TenantID        string       `json:"tenantId"`
    ZoneID          string       `json:"zoneId"`
    PlanDate        string       `json:"planDate,omitempty"`
    Algorithm       string       `json:"algorithm"`
    Status          string       `json:"status"`
    Routes          []RoundRoute `json:"routes"`
    TotalDistanceKm float64      `json:"totalDistanceKm"`
    TotalTimeHours  float64      `json:"totalTimeHours"`
    Unassigned      []string     `json:"unassigned,omitempty"`
    CreatedAt       time.Time    `json:"createdAt"`
}

type RoundRoute struct {
    CourierID  string      `json:"courierId"`
    VehicleID  string      `json:"vehicleId,omitempty"`
    Stops      []RoundStop `json:"stops"`
    DistanceKm float64     `json:"distanceKm"`
    TimeHours  float64     `json:"timeHours"`
    LoadKg     float64     `json:"loadKg"`
}

// RoundStop is a package in delivery order; Sequence starts at 1.
type RoundStop struct {
    PackageID string   `json:"packageId"`
    Sequence  int      `json:"sequence"`
    Location  GeoPoint `json:"location"`
    WeightKg  float64  `json:"weightKg"`
}

type PlanRoundRequest struct {
    ZoneID     string   `json:"zoneId"`
    PlanDate   string   `json:"planDate,omitempty"`
    Algorithm  string   `json:"algorithm,omitempty"`
    CourierIDs []string `json:"courierIds,omitempty"`
    PackageIDs []string `json:"packageIds,omitempty"`
}

// OptimizeRequest is the stateless optimization call.
type OptimizeRequest struct {
    Algorithm string         `json:"algorithm"`
    Depot     *GeoPoint      `json:"depot"`
    Stops     []StopInput    `json:"stops"`
    Vehicles  []VehicleQuota `json:"vehicles"`
    TwoOpt    *bool          `json:"twoOpt,omitempty"`
}

type StopInput struct {
    ID     string  `json:"id"`
    Lat    float64 `json:"lat"`
    Lng    float64 `json:"lng"`
    Demand float64 `json:"demand"`
}

type VehicleQuota struct {
    ID       string  `json:"id"`
    Capacity float64 `json:"capacity"`
}

// Users and roles
const (
    RoleAdmin      = "admin"
    RoleDispatcher = "dispatcher"
    RoleCourier    = "courier"
)

type User struct {
    ID           string `json:"id"`
    TenantID     string `json:"tenantId"`
    Username     string `json:"username"`
    PasswordHash string `json:"-"`
    Role         string `json:"role"`
    CourierID    string `json:"courierId,omitempty"`
}

type UserInput struct {
    Username  string `json:"username"`
    Password  string `json:"password"`
    Role      string `json:"role"`
    CourierID string `json:"courierId,omitempty"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
