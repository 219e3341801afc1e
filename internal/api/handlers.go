package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ecollect/internal/config"
	"ecollect/internal/geo"
	"ecollect/internal/integrations/csvdrop"
	"ecollect/internal/model"
	"ecollect/internal/opt"
	"ecollect/internal/schedule"
	"ecollect/internal/store"
)

// ItemsHandler handles POST/GET /v1/items
func (s *Server) ItemsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Items []model.Item `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if len(req.Items) == 0 {
			writeProblem(w, http.StatusBadRequest, "Missing items", "at least one item required", r.URL.Path)
			return
		}
		for i := range req.Items {
			if err := validateItem(&req.Items[i]); err != nil {
				writeProblem(w, http.StatusBadRequest, "Invalid item", err.Error(), r.URL.Path)
				return
			}
			if req.Items[i].ID == "" {
				req.Items[i].ID = uuid.NewString()
			}
			req.Items[i].Status = model.ItemAwaitingAssignment
		}
		created, err := s.Store.CreateItems(r.Context(), req.Items)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create items failed", err.Error(), r.URL.Path)
			return
		}
		ids := make([]string, len(req.Items))
		for i, it := range req.Items {
			ids[i] = it.ID
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"created": created, "ids": ids})
	case http.MethodGet:
		status := r.URL.Query().Get("status")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, err := s.Store.ListItems(r.Context(), status, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List items failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ItemsImportHandler handles POST /v1/items/import (CSV body).
func (s *Server) ItemsImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOperate() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	recs, err := csvdrop.Adapter{}.Parse(r.Body)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
		return
	}
	items := make([]model.Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, model.Item{
			ID:         uuid.NewString(),
			SenderID:   rec.SenderID,
			CategoryID: rec.CategoryID,
			WeightKg:   rec.WeightKg,
			VolumeM3:   rec.VolumeM3,
			Status:     model.ItemAwaitingAssignment,
		})
	}
	created, err := s.Store.CreateItems(r.Context(), items)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Import failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"created": created})
}

// AssignmentsHandler handles POST /v1/assignments: detaches a background
// job and answers 202 immediately.
func (s *Server) AssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOperate() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	var req model.AssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateAssignmentRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid assignment request", err.Error(), r.URL.Path)
		return
	}
	job, err := s.Runner.StartAssignment(r.Context(), req, p.UserID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Start assignment failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "status": job.Status})
}

// AssignmentByIDHandler handles GET /v1/assignments/{id}: job status and,
// once completed, the batch result.
func (s *Server) AssignmentByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/assignments/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Job not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// PreassignHandler handles POST /v1/preassign: advisory per-day loading
// plan for one collection point. Nothing is persisted.
func (s *Server) PreassignHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PointID              string   `json:"pointId"`
		ItemIDs              []string `json:"itemIds,omitempty"`
		LoadThresholdPercent float64  `json:"loadThresholdPercent,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if req.PointID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing pointId", "", r.URL.Path)
		return
	}
	res, err := s.Pre.PreAssign(r.Context(), req.PointID, req.LoadThresholdPercent, req.ItemIDs)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeProblem(w, status, "Preassign failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RoutesSolveHandler handles POST /v1/routes/solve: builds the matrices
// for one vehicle's pending stops, runs the router, and persists the
// resulting collection group.
func (s *Server) RoutesSolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanOperate() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
		return
	}
	var req struct {
		PointID      string   `json:"pointId"`
		VehicleID    string   `json:"vehicleId"`
		Date         string   `json:"date"` // YYYY-MM-DD
		ItemIDs      []string `json:"itemIds"`
		TimeBudgetMs int      `json:"timeBudgetMs,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(req.PointID, req.VehicleID, req.Date, req.TimeBudgetMs); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid solve request", err.Error(), r.URL.Path)
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)

	point, err := s.Store.GetPoint(r.Context(), req.PointID)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Point not found", err.Error(), r.URL.Path)
		return
	}
	vehicle, err := s.findVehicle(r, req.PointID, req.VehicleID)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Vehicle not found", err.Error(), r.URL.Path)
		return
	}
	shiftStart, err1 := schedule.ParseHHMM(vehicle.ShiftStart)
	shiftEnd, err2 := schedule.ParseHHMM(vehicle.ShiftEnd)
	if err1 != nil || err2 != nil || shiftEnd <= shiftStart {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid vehicle shift", "shift must be a valid HH:MM range", r.URL.Path)
		return
	}

	var items []model.Item
	if len(req.ItemIDs) > 0 {
		items, err = s.Store.GetItems(r.Context(), req.ItemIDs)
	} else {
		items, err = s.Store.PendingItemsForPoint(r.Context(), req.PointID)
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load items failed", err.Error(), r.URL.Path)
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"stops": []any{}, "totalKm": 0})
		return
	}

	scope := config.Scope{CompanyID: point.CompanyID, PointID: point.ID}
	speedKph := config.ResolveFloat(r.Context(), s.Store, config.KeyAvgSpeedKph, scope, 40)
	serviceMin := config.ResolveFloat(r.Context(), s.Store, config.KeyServiceMinutes, scope, opt.DefaultServiceMin)
	slackMin := config.ResolveFloat(r.Context(), s.Store, config.KeyWindowSlackMinutes, scope, opt.DefaultSlackMin)

	problem, err := s.buildProblem(r, point, items, date, shiftStart, shiftEnd, speedKph, vehicle)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Cannot build route", err.Error(), r.URL.Path)
		return
	}
	problem.ServiceMin = int(serviceMin)
	problem.SlackMin = int(slackMin)
	if req.TimeBudgetMs > 0 {
		problem.TimeBudget = time.Duration(req.TimeBudgetMs) * time.Millisecond
	}

	solved, err := opt.SolveRouteDetailed(*problem)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, opt.ErrInfeasible) || errors.Is(err, opt.ErrDegenerateWindow) {
			status = http.StatusUnprocessableEntity
		}
		writeProblem(w, status, "Route solve failed", err.Error(), r.URL.Path)
		return
	}

	group := model.CollectionGroup{
		ID:        uuid.NewString(),
		VehicleID: vehicle.ID,
		PointID:   point.ID,
		Date:      req.Date,
		TotalKm:   solved.TotalKm,
	}
	var mutated []model.Item
	var history []model.StatusHistory
	for seq, idx := range solved.Order {
		it := items[idx]
		group.Stops = append(group.Stops, model.GroupStop{
			Seq:        seq,
			ItemID:     it.ID,
			ETAMinutes: float64(solved.ArrivalMin[seq] - shiftStart),
		})
		it.Status = model.ItemAssigned
		mutated = append(mutated, it)
		history = append(history, model.StatusHistory{
			ItemID: it.ID,
			Status: model.ItemAssigned,
			Note:   "grouped into route " + group.ID,
		})
	}
	if err := s.Store.SaveCollectionGroup(r.Context(), group); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save route failed", err.Error(), r.URL.Path)
		return
	}
	if _, err := s.Store.UpdateItems(r.Context(), mutated); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Update items failed", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.AppendStatusHistory(r.Context(), history); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save history failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// buildProblem assembles the router input: depot at the collection point,
// one stop per item with a geocoded sender. Depot legs prefer road
// distances from the matrix API; everything else uses haversine with
// travel time at the configured speed.
func (s *Server) buildProblem(r *http.Request, point model.CollectionPoint, items []model.Item, date time.Time, shiftStart, shiftEnd int, speedKph float64, vehicle model.Vehicle) (*opt.RouteProblem, error) {
	n := len(items)
	locs := make([]model.GeoPoint, n)
	stops := make([]opt.Stop, n)
	dests := make([]geo.Dest, 0, n)
	for i, it := range items {
		loc, err := s.Store.GetSenderLocation(r.Context(), it.SenderID)
		if err != nil {
			return nil, fmt.Errorf("item %s has no geocoded sender location", it.ID)
		}
		locs[i] = loc.Location
		dests = append(dests, geo.Dest{ID: it.ID, Point: loc.Location})

		ws, we, ok := schedule.WindowFor(it.Schedule, date)
		if !ok {
			ws, we = shiftStart, shiftEnd // no request: any time within shift
		}
		ws, we = schedule.ClampToShift(ws, we, shiftStart, shiftEnd, opt.MinWindowSpanMin)
		stops[i] = opt.Stop{
			ID:          it.ID,
			WindowStart: ws,
			WindowEnd:   we,
			WeightKg:    it.WeightKg,
			VolumeM3:    it.EffectiveVolume(),
		}
	}

	all := make([]model.GeoPoint, n+1)
	all[0] = point.Location
	copy(all[1:], locs)
	dist := make([][]float64, n+1)
	dur := make([][]float64, n+1)
	for i := range all {
		dist[i] = make([]float64, n+1)
		dur[i] = make([]float64, n+1)
		for j := range all {
			if i == j {
				continue
			}
			dist[i][j] = geo.HaversineKm(all[i], all[j])
		}
	}
	// refine depot legs with road distances where the provider answers
	road := s.Geo.RoadMatrix(r.Context(), point.Location, dests)
	for i, it := range items {
		if km, ok := road[it.ID]; ok {
			dist[0][i+1] = km
			dist[i+1][0] = km
		}
	}
	for i := range dist {
		for j := range dist[i] {
			dur[i][j] = dist[i][j] / speedKph * 60
		}
	}

	return &opt.RouteProblem{
		DistKm:     dist,
		DurMin:     dur,
		Stops:      stops,
		CapacityKg: vehicle.CapacityKg,
		CapacityM3: vehicle.CapacityM3,
		ShiftStart: shiftStart,
		ShiftEnd:   shiftEnd,
	}, nil
}

func (s *Server) findVehicle(r *http.Request, pointID, vehicleID string) (model.Vehicle, error) {
	vehicles, err := s.Store.ListVehiclesForPoint(r.Context(), pointID)
	if err != nil {
		return model.Vehicle{}, err
	}
	for _, v := range vehicles {
		if v.ID == vehicleID {
			return v, nil
		}
	}
	return model.Vehicle{}, store.ErrNotFound
}

// GroupsHandler handles GET /v1/groups?pointId=&date=
func (s *Server) GroupsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	groups, err := s.Store.ListCollectionGroups(r.Context(), r.URL.Query().Get("pointId"), r.URL.Query().Get("date"))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List groups failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// CollectionPointsHandler handles GET/POST /v1/collection-points
func (s *Server) CollectionPointsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		points, err := s.Store.ListActivePoints(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List points failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"points": points})
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var pt model.CollectionPoint
		if err := json.NewDecoder(r.Body).Decode(&pt); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validatePoint(&pt); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid point", err.Error(), r.URL.Path)
			return
		}
		if pt.ID == "" {
			pt.ID = uuid.NewString()
		}
		if pt.Status == "" {
			pt.Status = model.StatusActive
		}
		if err := s.Store.PutPoint(r.Context(), pt); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save point failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, pt)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CollectionPointByIDHandler handles /v1/collection-points/{id} and
// /v1/collection-points/{id}/vehicle-locations
func (s *Server) CollectionPointByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/collection-points/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 1 && parts[1] == "vehicle-locations" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": s.Vehicles.ListByPoint(id)})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pt, err := s.Store.GetPoint(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Point not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

// VehiclesHandler handles GET/POST /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pointID := r.URL.Query().Get("pointId")
		if pointID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing pointId", "", r.URL.Path)
			return
		}
		vehicles, err := s.Store.ListVehiclesForPoint(r.Context(), pointID)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List vehicles failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var v model.Vehicle
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateVehicle(&v); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid vehicle", err.Error(), r.URL.Path)
			return
		}
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		if v.Status == "" {
			v.Status = model.StatusActive
		}
		if err := s.Store.PutVehicle(r.Context(), v); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save vehicle failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// VehicleByIDHandler handles POST /v1/vehicles/{id}/status and
// POST /v1/vehicles/{id}/location
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/vehicles/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	id := parts[0]
	switch parts[1] {
	case "status":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p := s.getPrincipal(r)
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if body.Status != model.StatusActive && body.Status != model.StatusBlocked {
			writeProblem(w, http.StatusBadRequest, "Invalid status", "status must be active or blocked", r.URL.Path)
			return
		}
		if err := s.Store.SetVehicleStatus(r.Context(), id, body.Status); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeProblem(w, status, "Set status failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case "location":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			PointID string  `json:"pointId"`
			Lat     float64 `json:"lat"`
			Lng     float64 `json:"lng"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		s.Vehicles.Upsert(body.PointID, id, body.Lat, body.Lng, time.Now().UTC().Format(time.RFC3339))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// CompaniesHandler handles GET/POST /v1/companies
func (s *Server) CompaniesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		companies, err := s.Store.ListCompanies(r.Context(), nil)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List companies failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var c model.Company
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateCompany(&c); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid company", err.Error(), r.URL.Path)
			return
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if err := s.Store.PutCompany(r.Context(), c); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save company failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CategoriesHandler handles POST /v1/categories (admin upsert).
func (s *Server) CategoriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	var c model.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if c.ID == "" || c.Name == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid category", "id and name required", r.URL.Path)
		return
	}
	if err := s.Store.PutCategory(r.Context(), c); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save category failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// SenderLocationsHandler handles POST /v1/sender-locations (geocode upsert).
func (s *Server) SenderLocationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var loc model.SenderLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if loc.SenderID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing senderId", "", r.URL.Path)
		return
	}
	if err := validateCoords(loc.Location); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid coordinates", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.PutSenderLocation(r.Context(), loc); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save location failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

// NotificationsHandler handles GET /v1/notifications for the caller.
func (s *Server) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, err := s.Store.ListNotifications(r.Context(), p.UserID, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List notifications failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// AdminConfigHandler handles GET/PUT /v1/admin/config
func (s *Server) AdminConfigHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		key := r.URL.Query().Get("key")
		if key == "" {
			writeProblem(w, http.StatusBadRequest, "Missing key", "", r.URL.Path)
			return
		}
		entries, err := s.Store.GetConfigEntries(r.Context(), key)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Lookup failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	case http.MethodPut:
		var e model.ConfigEntry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if e.Key == "" || e.Value == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid entry", "key and value required", r.URL.Path)
			return
		}
		if err := s.Store.PutConfigEntry(r.Context(), e); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// JobByIDHandler handles GET /v1/jobs/{id} and the SSE stream at
// /v1/jobs/{id}/events/stream.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 2 && parts[1] == "events" && parts[2] == "stream" {
		s.streamJobEvents(w, r, id)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Job not found", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) streamJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topic := "job:" + jobID
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"jobId\":\"%s\",\"ts\":\"%s\"}\n\n", jobID, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			heartbeat()
		}
	}
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// ReadyHandler handles GET /readyz: verifies the store answers.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Store.GetConfigEntries(r.Context(), string(config.KeyPointRadiusKm)); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
