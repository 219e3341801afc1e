package api

import (
	"sync"
)

// LatestLocation holds the last reported position of a vehicle.
type LatestLocation struct {
	PointID   string  `json:"pointId"`
	VehicleID string  `json:"vehicleId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	TS        string  `json:"ts"`
}

// LocationCache stores latest vehicle positions per collection point. It
// is ephemeral: live tracking only, nothing is persisted.
type LocationCache struct {
	mu sync.Mutex
	// key: pointId|vehicleId
	m map[string]LatestLocation
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

func (c *LocationCache) key(pointID, vehicleID string) string {
	return pointID + "|" + vehicleID
}

// Upsert stores or updates the latest position of a vehicle.
func (c *LocationCache) Upsert(pointID, vehicleID string, lat, lng float64, ts string) {
	if pointID == "" || vehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[c.key(pointID, vehicleID)] = LatestLocation{
		PointID: pointID, VehicleID: vehicleID, Lat: lat, Lng: lng, TS: ts,
	}
}

// ListByPoint returns the latest positions of a point's vehicles.
func (c *LocationCache) ListByPoint(pointID string) []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []LatestLocation{}
	prefix := pointID + "|"
	for k, v := range c.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v)
		}
	}
	return out
}
