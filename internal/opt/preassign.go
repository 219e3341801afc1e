package opt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ecollect/internal/config"
	"ecollect/internal/geo"
	"ecollect/internal/model"
	"ecollect/internal/schedule"
	"ecollect/internal/store"
)

// DefaultHorizonDays is how many calendar days ahead the bucketing looks.
const DefaultHorizonDays = 7

// MinWindowSpanMin pads a requested window that collapses after shift
// clamping.
const MinWindowSpanMin = 30

// Bucket is one vehicle's provisional load for one day.
type Bucket struct {
	VehicleID string       `json:"vehicleId"`
	ItemIDs   []string     `json:"itemIds"`
	ETAs      []float64    `json:"etaMinutes"` // minutes of day, parallel to ItemIDs
	TotalKg   float64      `json:"totalKg"`
	TotalM3   float64      `json:"totalM3"`
	limits    bucketLimits // not serialized
}

type bucketLimits struct {
	maxKg, maxM3         float64
	shiftStart, shiftEnd int
	elapsedMin           float64
	pos                  model.GeoPoint
}

// DayPlan groups buckets per calendar date.
type DayPlan struct {
	Date    string   `json:"date"`
	Buckets []Bucket `json:"buckets"`
}

// UnplacedItem reports an item no bucket could take.
type UnplacedItem struct {
	ItemID string `json:"itemId"`
	Reason string `json:"reason"`
}

// PreAssignResult is the advisory per-day loading plan.
type PreAssignResult struct {
	PointID  string         `json:"pointId"`
	Days     []DayPlan      `json:"days"`
	Unplaced []UnplacedItem `json:"unplaced,omitempty"`
}

// PreAssigner buckets pending items into vehicle loads across upcoming
// days, cheaply, before the router runs. Its output is advisory.
type PreAssigner struct {
	Store       store.Store
	HorizonDays int
	Now         func() time.Time // test hook
}

// PreAssign builds the plan for one collection point. loadThresholdPercent
// scales rated vehicle capacity (e.g. 80 fills to 80%); a non-positive
// value resolves the configured threshold, defaulting to 100.
func (pa *PreAssigner) PreAssign(ctx context.Context, pointID string, loadThresholdPercent float64, itemIDs []string) (*PreAssignResult, error) {
	now := time.Now
	if pa.Now != nil {
		now = pa.Now
	}
	horizon := pa.HorizonDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}

	point, err := pa.Store.GetPoint(ctx, pointID)
	if err != nil {
		return nil, fmt.Errorf("load point: %w", err)
	}
	var items []model.Item
	if len(itemIDs) > 0 {
		items, err = pa.Store.GetItems(ctx, itemIDs)
	} else {
		items, err = pa.Store.PendingItemsForPoint(ctx, pointID)
	}
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	vehicles, err := pa.Store.ListVehiclesForPoint(ctx, pointID)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	active := vehicles[:0]
	for _, v := range vehicles {
		if v.Status == model.StatusActive {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("point %s has no active vehicle", pointID)
	}

	scope := config.Scope{CompanyID: point.CompanyID, PointID: point.ID}
	speedKph := config.ResolveFloat(ctx, pa.Store, config.KeyAvgSpeedKph, scope, 40)
	serviceMin := config.ResolveFloat(ctx, pa.Store, config.KeyServiceMinutes, scope, DefaultServiceMin)
	if loadThresholdPercent <= 0 {
		loadThresholdPercent = config.ResolveFloat(ctx, pa.Store, config.KeyLoadThresholdPercent, scope, 100)
	}

	locs := map[string]model.GeoPoint{}
	for _, it := range items {
		if _, ok := locs[it.SenderID]; ok {
			continue
		}
		if l, err := pa.Store.GetSenderLocation(ctx, it.SenderID); err == nil {
			locs[it.SenderID] = l.Location
		}
	}

	res := &PreAssignResult{PointID: pointID}
	placed := map[string]bool{}

	for dayOff := 0; dayOff < horizon; dayOff++ {
		date := now().AddDate(0, 0, dayOff)
		plan := pa.planDay(ctx, date, point, active, items, locs, placed, loadThresholdPercent, speedKph, serviceMin)
		if plan != nil {
			res.Days = append(res.Days, *plan)
		}
	}

	for _, it := range items {
		if placed[it.ID] {
			continue
		}
		reason := "no bucket with remaining capacity in window"
		if _, ok := locs[it.SenderID]; !ok {
			reason = "no geocoded sender location"
		} else if len(schedule.Parse(it.Schedule)) == 0 {
			reason = "no valid pickup date"
		}
		res.Unplaced = append(res.Unplaced, UnplacedItem{ItemID: it.ID, Reason: reason})
	}
	return res, nil
}

type dayCandidate struct {
	item     model.Item
	loc      model.GeoPoint
	winStart int
	winEnd   int
	distKm   float64
}

func (pa *PreAssigner) planDay(ctx context.Context, date time.Time, point model.CollectionPoint, vehicles []model.Vehicle,
	items []model.Item, locs map[string]model.GeoPoint, placed map[string]bool,
	thresholdPct, speedKph, serviceMin float64) *DayPlan {

	cands := []dayCandidate{}
	for _, it := range items {
		if placed[it.ID] {
			continue
		}
		loc, ok := locs[it.SenderID]
		if !ok {
			continue
		}
		ws, we, ok := schedule.WindowFor(it.Schedule, date)
		if !ok {
			continue
		}
		cands = append(cands, dayCandidate{
			item:     it,
			loc:      loc,
			winStart: ws,
			winEnd:   we,
			distKm:   geo.HaversineKm(point.Location, loc),
		})
	}
	if len(cands) == 0 {
		return nil
	}
	// earliest window first; distance breaks ties
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].winStart != cands[j].winStart {
			return cands[i].winStart < cands[j].winStart
		}
		return cands[i].distKm < cands[j].distKm
	})

	buckets := make([]Bucket, 0, len(vehicles))
	for _, v := range vehicles {
		ss, err1 := schedule.ParseHHMM(v.ShiftStart)
		se, err2 := schedule.ParseHHMM(v.ShiftEnd)
		if err1 != nil || err2 != nil || se <= ss {
			continue
		}
		buckets = append(buckets, Bucket{
			VehicleID: v.ID,
			limits: bucketLimits{
				maxKg:      v.CapacityKg * thresholdPct / 100,
				maxM3:      v.CapacityM3 * thresholdPct / 100,
				shiftStart: ss,
				shiftEnd:   se,
				pos:        point.Location,
			},
		})
	}
	if len(buckets) == 0 {
		return nil
	}

	any := false
	for _, c := range cands {
		for bi := range buckets {
			if tryPlace(&buckets[bi], c, speedKph, serviceMin) {
				placed[c.item.ID] = true
				any = true
				break
			}
		}
	}
	if !any {
		return nil
	}
	out := &DayPlan{Date: date.Format("2006-01-02")}
	for _, b := range buckets {
		if len(b.ItemIDs) > 0 {
			out.Buckets = append(out.Buckets, b)
		}
	}
	return out
}

// tryPlace appends the candidate to the bucket when capacity and the
// clamped time window both hold for the projected arrival.
func tryPlace(b *Bucket, c dayCandidate, speedKph, serviceMin float64) bool {
	kg := b.TotalKg + c.item.WeightKg
	m3 := b.TotalM3 + c.item.EffectiveVolume()
	if kg > b.limits.maxKg || m3 > b.limits.maxM3 {
		return false
	}
	ws, we := schedule.ClampToShift(c.winStart, c.winEnd, b.limits.shiftStart, b.limits.shiftEnd, MinWindowSpanMin)

	travelMin := geo.HaversineKm(b.limits.pos, c.loc) / speedKph * 60
	arrival := float64(b.limits.shiftStart) + b.limits.elapsedMin + travelMin
	if arrival < float64(ws) {
		arrival = float64(ws) // wait for the window to open
	}
	if arrival > float64(we) || arrival+serviceMin > float64(b.limits.shiftEnd) {
		return false
	}

	b.ItemIDs = append(b.ItemIDs, c.item.ID)
	b.ETAs = append(b.ETAs, arrival)
	b.TotalKg = kg
	b.TotalM3 = m3
	b.limits.elapsedMin = arrival + serviceMin - float64(b.limits.shiftStart)
	b.limits.pos = c.loc
	return true
}
