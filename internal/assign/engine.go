package assign

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"ecollect/internal/config"
	"ecollect/internal/geo"
	"ecollect/internal/metrics"
	"ecollect/internal/model"
	"ecollect/internal/store"
)

// Soft-failure reasons reported per item. These never abort the batch.
const (
	ReasonNoLocation     = "no geocoded sender location"
	ReasonNoCategory     = "no root category mapping"
	ReasonNoPointInRange = "no point in range"
)

// DefaultRadiusKm applies when neither the point nor configuration defines
// an operating radius.
const DefaultRadiusKm = 20.0

// DistanceSource resolves road distances; Provider satisfies it.
type DistanceSource interface {
	RoadDistance(ctx context.Context, a, b model.GeoPoint) (geo.RoadResult, error)
}

// Engine distributes items across collection companies proportionally to
// their configured ratios, constrained by operating radius and category
// eligibility.
type Engine struct {
	Store store.Store
	Geo   DistanceSource

	// Refinement throttling; zero values fall back to defaults (3, 150ms).
	RefineConcurrency int
	RefineDelay       time.Duration
}

type candidate struct {
	point  model.CollectionPoint
	distKm float64
}

// ProgressFunc receives batch progress while a pass runs.
type ProgressFunc func(done, total int)

// progressEvery is how many items pass between progress callbacks.
const progressEvery = 25

// Assign runs the synchronous assignment pass for the given batch. The
// choice per item is a pure function of its id hash and the ratio
// partition, so reruns with the same inputs pick the same company and
// point. Mutations are persisted at the end of the pass.
func (e *Engine) Assign(ctx context.Context, req model.AssignmentRequest) (*model.AssignmentResult, error) {
	return e.AssignBatch(ctx, req, nil)
}

// AssignBatch is Assign with a progress callback (nil allowed).
func (e *Engine) AssignBatch(ctx context.Context, req model.AssignmentRequest, progress ProgressFunc) (*model.AssignmentResult, error) {
	companies, err := e.Store.ListCompanies(ctx, req.CompanyIDs)
	if err != nil {
		return nil, fmt.Errorf("load companies: %w", err)
	}
	ranges, err := BuildRanges(companies)
	if err != nil {
		return nil, err
	}
	companyByID := map[string]model.Company{}
	for _, c := range companies {
		companyByID[c.ID] = c
	}

	points, err := e.Store.ListActivePoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("load collection points: %w", err)
	}
	pointsByCompany := map[string][]model.CollectionPoint{}
	for _, p := range points {
		if _, ok := companyByID[p.CompanyID]; !ok {
			continue // outside the requested company subset
		}
		pointsByCompany[p.CompanyID] = append(pointsByCompany[p.CompanyID], p)
	}

	items, err := e.Store.GetItems(ctx, req.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	res := &model.AssignmentResult{}
	var mutated []model.Item
	var history []model.StatusHistory

	for i, it := range items {
		detail := e.assignOne(ctx, it, ranges, companyByID, pointsByCompany)
		res.Details = append(res.Details, detail)
		if progress != nil && (i+1)%progressEvery == 0 {
			progress(i+1, len(items))
		}
		if !detail.Assigned {
			res.UnassignedCount++
			metrics.AssignmentItems.WithLabelValues("unassigned", detail.Reason).Inc()
			continue
		}
		res.AssignedCount++
		metrics.AssignmentItems.WithLabelValues("assigned", "ok").Inc()

		it.Status = model.ItemAwaitingGrouping
		it.PointID = detail.PointID
		it.CompanyID = detail.CompanyID
		it.AssignedAt = req.WorkDate
		it.DistanceKm = detail.DistanceKm
		mutated = append(mutated, it)
		history = append(history, model.StatusHistory{
			ItemID: it.ID,
			Status: model.ItemAwaitingGrouping,
			Note:   "assigned to point " + detail.PointID,
		})
	}

	if len(mutated) > 0 {
		if _, err := e.Store.UpdateItems(ctx, mutated); err != nil {
			return nil, fmt.Errorf("persist assignments: %w", err)
		}
		if err := e.Store.AppendStatusHistory(ctx, history); err != nil {
			return nil, fmt.Errorf("persist status history: %w", err)
		}
	}

	res.Warehouses = aggregateWarehouses(res.Details)
	return res, nil
}

// assignOne applies the per-item pipeline: root category, sender location,
// eligible in-range candidates, hash-ratio company choice, nearest point.
func (e *Engine) assignOne(ctx context.Context, it model.Item, ranges []Range, companyByID map[string]model.Company, pointsByCompany map[string][]model.CollectionPoint) model.AssignmentDetail {
	detail := model.AssignmentDetail{ItemID: it.ID}

	root, ok := e.rootCategory(ctx, it.CategoryID)
	if !ok {
		detail.Reason = ReasonNoCategory
		return detail
	}
	loc, err := e.Store.GetSenderLocation(ctx, it.SenderID)
	if err != nil {
		detail.Reason = ReasonNoLocation
		return detail
	}

	// Candidate set: active points of companies accepting the root
	// category, within their configured radius of the sender.
	byCompany := map[string][]candidate{}
	var global []candidate
	for companyID, pts := range pointsByCompany {
		if !acceptsRoot(companyByID[companyID], root) {
			continue
		}
		for _, p := range pts {
			d := geo.HaversineKm(loc.Location, p.Location)
			radius := p.RadiusKm
			if radius <= 0 {
				radius = config.ResolveFloat(ctx, e.Store, config.KeyPointRadiusKm,
					config.Scope{CompanyID: p.CompanyID, PointID: p.ID}, DefaultRadiusKm)
			}
			if d > radius {
				continue
			}
			c := candidate{point: p, distKm: d}
			byCompany[companyID] = append(byCompany[companyID], c)
			global = append(global, c)
		}
	}
	if len(global) == 0 {
		detail.Reason = ReasonNoPointInRange
		return detail
	}

	ratio := StableHashRatio(it.ID)
	targetCompany, _ := CompanyFor(ranges, ratio)

	chosen, ok := nearest(byCompany[targetCompany])
	if !ok {
		// Ratio match is a soft preference: fall back to the globally
		// nearest candidate. This breaks proportionality for the item
		// and is flagged in the detail; it is not debited from the
		// company's future quota.
		chosen, _ = nearest(global)
		detail.Fallback = true
	}

	detail.Assigned = true
	detail.CompanyID = chosen.point.CompanyID
	detail.PointID = chosen.point.ID
	detail.DistanceKm = chosen.distKm
	return detail
}

// rootCategory walks up at most one level of category nesting.
func (e *Engine) rootCategory(ctx context.Context, categoryID string) (string, bool) {
	if categoryID == "" {
		return "", false
	}
	c, err := e.Store.GetCategory(ctx, categoryID)
	if err != nil {
		return "", false
	}
	if c.ParentID == "" {
		return c.ID, true
	}
	return c.ParentID, true
}

// acceptsRoot reports whether a company's linked recycler takes the root
// category. An empty list means the company accepts everything (pure
// collectors without recycler restrictions).
func acceptsRoot(c model.Company, root string) bool {
	if len(c.RootCategories) == 0 {
		return true
	}
	for _, r := range c.RootCategories {
		if r == root {
			return true
		}
	}
	return false
}

func nearest(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.distKm < best.distKm || (c.distKm == best.distKm && c.point.ID < best.point.ID) {
			best = c
		}
	}
	return best, true
}

func aggregateWarehouses(details []model.AssignmentDetail) []model.WarehouseAllocation {
	counts := map[string]*model.WarehouseAllocation{}
	for _, d := range details {
		if !d.Assigned {
			continue
		}
		w, ok := counts[d.PointID]
		if !ok {
			w = &model.WarehouseAllocation{PointID: d.PointID, CompanyID: d.CompanyID}
			counts[d.PointID] = w
		}
		w.Count++
	}
	out := make([]model.WarehouseAllocation, 0, len(counts))
	for _, w := range counts {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PointID < out[j].PointID })
	return out
}

// RefineDistances replaces haversine placeholders with road distances for
// newly assigned items. Runs after the synchronous pass commits, with a
// bounded number of lookups in flight and a small delay between
// completions to respect external rate limits. Failures keep the
// haversine value.
func (e *Engine) RefineDistances(ctx context.Context, details []model.AssignmentDetail) {
	if e.Geo == nil {
		return
	}
	conc := e.RefineConcurrency
	if conc <= 0 {
		conc = 3
	}
	delay := e.RefineDelay
	if delay <= 0 {
		delay = 150 * time.Millisecond
	}

	sem := make(chan struct{}, conc)
	for _, d := range details {
		if !d.Assigned {
			continue
		}
		d := d
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			e.refineOne(ctx, d)
			time.Sleep(delay)
		}()
	}
	for i := 0; i < conc; i++ {
		sem <- struct{}{}
	}
}

func (e *Engine) refineOne(ctx context.Context, d model.AssignmentDetail) {
	items, err := e.Store.GetItems(ctx, []string{d.ItemID})
	if err != nil || len(items) == 0 {
		return
	}
	loc, err := e.Store.GetSenderLocation(ctx, items[0].SenderID)
	if err != nil {
		return
	}
	pt, err := e.Store.GetPoint(ctx, d.PointID)
	if err != nil {
		return
	}
	r, err := e.Geo.RoadDistance(ctx, loc.Location, pt.Location)
	if err != nil {
		log.Printf("assign: road refinement for item %s skipped: %v", d.ItemID, err)
		return
	}
	if err := e.Store.UpdateItemDistance(ctx, d.ItemID, r.Km); err != nil {
		log.Printf("assign: distance update for item %s failed: %v", d.ItemID, err)
	}
}
