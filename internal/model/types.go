package model

import (
	"encoding/json"
	"time"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Item statuses follow the collection lifecycle.
const (
	ItemAwaitingAssignment = "awaiting-assignment"
	ItemAwaitingGrouping   = "awaiting-grouping"
	ItemAssigned           = "assigned"
	ItemRejected           = "rejected"
	ItemNoPointFound       = "not-found-collection-point"
)

// Company roles.
const (
	RoleCollector = "collector"
	RoleRecycler  = "recycler"
)

// Point / vehicle statuses.
const (
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// Item is a discarded product posted by a sender for pickup.
type Item struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"senderId"`
	CategoryID string          `json:"categoryId"`
	WeightKg   float64         `json:"weightKg"`
	VolumeM3   float64         `json:"volumeM3"`
	LengthCm   float64         `json:"lengthCm,omitempty"`
	WidthCm    float64         `json:"widthCm,omitempty"`
	HeightCm   float64         `json:"heightCm,omitempty"`
	Status     string          `json:"status"`
	PointID    string          `json:"pointId,omitempty"`
	CompanyID  string          `json:"companyId,omitempty"`
	AssignedAt string          `json:"assignedAt,omitempty"` // YYYY-MM-DD work date
	DistanceKm float64         `json:"distanceKm,omitempty"`
	Schedule   json.RawMessage `json:"schedule,omitempty"` // day-keyed pickup windows
}

// EffectiveVolume returns the declared volume or one derived from dimensions.
func (it Item) EffectiveVolume() float64 {
	if it.VolumeM3 > 0 {
		return it.VolumeM3
	}
	return it.LengthCm * it.WidthCm * it.HeightCm / 1e6
}

// Category with at most one level of nesting; the parent is the root used
// for recycler eligibility.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// SenderLocation is a geocoded sender address, resolved once per
// sender+address pair.
type SenderLocation struct {
	SenderID string   `json:"senderId"`
	Address  string   `json:"address"`
	Location GeoPoint `json:"location"`
}

// Company is a collection business: a "collector" that gathers items or a
// "recycler" that accepts specific root categories.
type Company struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Ratio          float64  `json:"ratio"`
	RootCategories []string `json:"rootCategories,omitempty"` // accepted by linked recycler
	AdminUserID    string   `json:"adminUserId,omitempty"`
}

// CollectionPoint is a physical intake location (SCP) owned by one company.
type CollectionPoint struct {
	ID          string   `json:"id"`
	CompanyID   string   `json:"companyId"`
	Name        string   `json:"name"`
	Location    GeoPoint `json:"location"`
	RadiusKm    float64  `json:"radiusKm,omitempty"` // 0 means resolve from config
	Status      string   `json:"status"`
	AdminUserID string   `json:"adminUserId,omitempty"`
}

// Vehicle belongs to one collection point and works a daily shift.
type Vehicle struct {
	ID         string  `json:"id"`
	PointID    string  `json:"pointId"`
	Plate      string  `json:"plate,omitempty"`
	CapacityKg float64 `json:"capacityKg"`
	CapacityM3 float64 `json:"capacityM3"`
	ShiftStart string  `json:"shiftStart"` // HH:MM
	ShiftEnd   string  `json:"shiftEnd"`   // HH:MM
	Status     string  `json:"status"`
}

// StatusHistory records one item status transition.
type StatusHistory struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notification is a persisted message for a user; push delivery is external.
type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ConfigEntry is one row of the three-tier configuration table.
// Scope precedence: point > company > global (empty scope ids).
type ConfigEntry struct {
	Key       string `json:"key"`
	CompanyID string `json:"companyId,omitempty"`
	PointID   string `json:"pointId,omitempty"`
	Value     string `json:"value"`
}

// AssignmentRequest triggers a proportional assignment batch.
type AssignmentRequest struct {
	ItemIDs    []string `json:"itemIds"`
	WorkDate   string   `json:"workDate"` // YYYY-MM-DD
	CompanyIDs []string `json:"companyIds,omitempty"`
}

// AssignmentDetail is the per-item outcome of an assignment batch.
type AssignmentDetail struct {
	ItemID     string  `json:"itemId"`
	Assigned   bool    `json:"assigned"`
	Reason     string  `json:"reason,omitempty"`
	CompanyID  string  `json:"companyId,omitempty"`
	PointID    string  `json:"pointId,omitempty"`
	DistanceKm float64 `json:"distanceKm,omitempty"`
	Fallback   bool    `json:"fallback,omitempty"` // nearest-point fallback outside the ratio match
}

// WarehouseAllocation aggregates assigned items per collection point.
type WarehouseAllocation struct {
	PointID   string `json:"pointId"`
	CompanyID string `json:"companyId"`
	Count     int    `json:"count"`
}

// AssignmentResult summarizes one batch.
type AssignmentResult struct {
	AssignedCount   int                   `json:"assignedCount"`
	UnassignedCount int                   `json:"unassignedCount"`
	Details         []AssignmentDetail    `json:"details"`
	Warehouses      []WarehouseAllocation `json:"warehouses,omitempty"`
}

// Job statuses for detached assignment runs.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job tracks one background assignment run.
type Job struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	UserID     string            `json:"userId,omitempty"`
	Result     *AssignmentResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// GroupStop is one visit within a persisted collection route.
type GroupStop struct {
	Seq        int     `json:"seq"`
	ItemID     string  `json:"itemId"`
	ETAMinutes float64 `json:"etaMinutes"` // minutes from shift start
}

// CollectionGroup is the persisted output of a VRP solve: an ordered stop
// list bound to one vehicle shift and one calendar date.
type CollectionGroup struct {
	ID        string      `json:"id"`
	VehicleID string      `json:"vehicleId"`
	PointID   string      `json:"pointId"`
	Date      string      `json:"date"`
	Stops     []GroupStop `json:"stops"`
	TotalKm   float64     `json:"totalKm"`
	CreatedAt time.Time   `json:"createdAt"`
}
