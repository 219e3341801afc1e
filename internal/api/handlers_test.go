package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecollect/internal/assign"
	"ecollect/internal/geo"
	"ecollect/internal/jobs"
	"ecollect/internal/model"
	"ecollect/internal/notify"
	"ecollect/internal/opt"
	"ecollect/internal/store"
	"ecollect/internal/webhooks"
)

func newTestServer() (*Server, *store.Memory) {
	st := store.NewMemory()
	broker := NewBroker()
	engine := &assign.Engine{Store: st}
	pub := webhooks.NewPublisher("", "")
	runner := &jobs.Runner{
		Store:    st,
		Engine:   engine,
		Notifier: &notify.StoreNotifier{Store: st, Events: broker},
		Events:   &fanout{broker: broker, pub: pub},
	}
	s := &Server{
		Store:    st,
		Broker:   broker,
		Geo:      geo.NewProvider(""),
		Engine:   engine,
		Runner:   runner,
		Pre:      &opt.PreAssigner{Store: st},
		Pub:      pub,
		Vehicles: NewLocationCache(),
	}
	return s, st
}

func seedWorld(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	_ = st.PutCategory(ctx, model.Category{ID: "electronics", Name: "Electronics"})
	_ = st.PutCategory(ctx, model.Category{ID: "laptops", Name: "Laptops", ParentID: "electronics"})
	_ = st.PutCompany(ctx, model.Company{ID: "co-1", Name: "Collectors Inc", Role: model.RoleCollector, Ratio: 1})
	_ = st.PutPoint(ctx, model.CollectionPoint{
		ID: "pt-1", CompanyID: "co-1", Name: "Depot", AdminUserID: "u-depot",
		Location: model.GeoPoint{Lat: 21.0, Lng: 105.8}, RadiusKm: 50,
	})
	_ = st.PutVehicle(ctx, model.Vehicle{
		ID: "veh-1", PointID: "pt-1", CapacityKg: 500, CapacityM3: 5,
		ShiftStart: "08:00", ShiftEnd: "18:00",
	})
	_ = st.PutSenderLocation(ctx, model.SenderLocation{
		SenderID: "s-1", Location: model.GeoPoint{Lat: 21.01, Lng: 105.81},
	})
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestItemsCreateAndList(t *testing.T) {
	s, _ := newTestServer()
	w := doJSON(t, s.ItemsHandler, http.MethodPost, "/v1/items",
		`{"items":[{"senderId":"s-1","categoryId":"laptops","weightKg":3}]}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		Created int      `json:"created"`
		IDs     []string `json:"ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Created != 1 || len(resp.IDs) != 1 {
		t.Fatalf("resp = %+v", resp)
	}

	w = doJSON(t, s.ItemsHandler, http.MethodGet, "/v1/items?status=awaiting-assignment", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), resp.IDs[0]) {
		t.Fatalf("list status = %d, body %s", w.Code, w.Body)
	}
}

func TestItemsValidation(t *testing.T) {
	s, _ := newTestServer()
	w := doJSON(t, s.ItemsHandler, http.MethodPost, "/v1/items",
		`{"items":[{"categoryId":"laptops"}]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing senderId", w.Code)
	}
	if !strings.Contains(w.Body.String(), "senderId") {
		t.Errorf("problem body: %s", w.Body)
	}
}

func TestItemsImportCSV(t *testing.T) {
	s, _ := newTestServer()
	csv := "externalRef,senderId,categoryId,weightKg,volumeM3\nr1,s-1,laptops,3,0.02\nr2,s-2,laptops,1,0.01\n"
	w := doJSON(t, s.ItemsImportHandler, http.MethodPost, "/v1/items/import", csv, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"created":2`) {
		t.Errorf("body: %s", w.Body)
	}
}

func TestAssignmentsFlow(t *testing.T) {
	s, st := newTestServer()
	seedWorld(t, st)
	ctx := context.Background()
	_, _ = st.CreateItems(ctx, []model.Item{{ID: "item-1", SenderID: "s-1", CategoryID: "laptops"}})

	w := doJSON(t, s.AssignmentsHandler, http.MethodPost, "/v1/assignments",
		`{"itemIds":["item-1"],"workDate":"2026-09-01"}`,
		map[string]string{"X-User-Id": "u-ops", "X-Role": "operator"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		JobID string `json:"jobId"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.JobID == "" {
		t.Fatal("missing jobId")
	}

	job := waitForJob(t, st, resp.JobID)
	if job.Status != model.JobCompleted {
		t.Fatalf("job = %+v", job)
	}
	if job.Result == nil || job.Result.AssignedCount != 1 {
		t.Fatalf("result = %+v", job.Result)
	}

	// status endpoint mirrors the job record
	w = doJSON(t, s.AssignmentByIDHandler, http.MethodGet, "/v1/assignments/"+resp.JobID, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"completed"`) {
		t.Fatalf("get status = %d, body %s", w.Code, w.Body)
	}

	// initiator and warehouse admin both got notified
	if ns, _ := st.ListNotifications(ctx, "u-ops", 10); len(ns) == 0 {
		t.Error("no notification for initiator")
	}
	if ns, _ := st.ListNotifications(ctx, "u-depot", 10); len(ns) == 0 {
		t.Error("no notification for warehouse admin")
	}
}

func waitForJob(t *testing.T, st store.Store, id string) model.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err == nil && job.Status != model.JobRunning {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return model.Job{}
}

func TestAssignmentsForbidden(t *testing.T) {
	s, _ := newTestServer()
	w := doJSON(t, s.AssignmentsHandler, http.MethodPost, "/v1/assignments",
		`{"itemIds":["x"],"workDate":"2026-09-01"}`,
		map[string]string{"X-Role": "company"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestAssignmentsValidation(t *testing.T) {
	s, _ := newTestServer()
	w := doJSON(t, s.AssignmentsHandler, http.MethodPost, "/v1/assignments",
		`{"workDate":"2026-09-01"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty itemIds", w.Code)
	}
	w = doJSON(t, s.AssignmentsHandler, http.MethodPost, "/v1/assignments",
		`{"itemIds":["x"],"workDate":"01/09/2026"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad date", w.Code)
	}
}

func TestPreassignEndpoint(t *testing.T) {
	s, st := newTestServer()
	seedWorld(t, st)
	w := doJSON(t, s.PreassignHandler, http.MethodPost, "/v1/preassign",
		`{"pointId":"pt-1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"pointId":"pt-1"`) {
		t.Errorf("body: %s", w.Body)
	}

	w = doJSON(t, s.PreassignHandler, http.MethodPost, "/v1/preassign",
		`{"pointId":"ghost"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown point", w.Code)
	}
}

func TestRoutesSolveEndpoint(t *testing.T) {
	s, st := newTestServer()
	seedWorld(t, st)
	ctx := context.Background()
	_, _ = st.CreateItems(ctx, []model.Item{{
		ID: "item-1", SenderID: "s-1", CategoryID: "laptops",
		WeightKg: 5, VolumeM3: 0.05,
		Status: model.ItemAwaitingGrouping, PointID: "pt-1",
	}})

	w := doJSON(t, s.RoutesSolveHandler, http.MethodPost, "/v1/routes/solve",
		`{"pointId":"pt-1","vehicleId":"veh-1","date":"2026-09-01"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var group model.CollectionGroup
	if err := json.Unmarshal(w.Body.Bytes(), &group); err != nil {
		t.Fatal(err)
	}
	if len(group.Stops) != 1 || group.Stops[0].ItemID != "item-1" {
		t.Fatalf("group = %+v", group)
	}

	items, _ := st.GetItems(ctx, []string{"item-1"})
	if items[0].Status != model.ItemAssigned {
		t.Errorf("item status = %q, want assigned", items[0].Status)
	}
	groups, _ := st.ListCollectionGroups(ctx, "pt-1", "2026-09-01")
	if len(groups) != 1 {
		t.Errorf("groups persisted = %d", len(groups))
	}
}

func TestRoutesSolveOverCapacity(t *testing.T) {
	s, st := newTestServer()
	seedWorld(t, st)
	ctx := context.Background()
	_, _ = st.CreateItems(ctx, []model.Item{{
		ID: "heavy", SenderID: "s-1", CategoryID: "laptops",
		WeightKg: 9000, VolumeM3: 0.1,
		Status: model.ItemAwaitingGrouping, PointID: "pt-1",
	}})
	w := doJSON(t, s.RoutesSolveHandler, http.MethodPost, "/v1/routes/solve",
		`{"pointId":"pt-1","vehicleId":"veh-1","date":"2026-09-01"}`, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for infeasible load", w.Code)
	}
}

func TestVehicleStatusAndLocation(t *testing.T) {
	s, st := newTestServer()
	seedWorld(t, st)

	w := doJSON(t, s.VehicleByIDHandler, http.MethodPost, "/v1/vehicles/veh-1/status",
		`{"status":"blocked"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	vs, _ := st.ListVehiclesForPoint(context.Background(), "pt-1")
	if vs[0].Status != model.StatusBlocked {
		t.Errorf("vehicle status = %q", vs[0].Status)
	}

	w = doJSON(t, s.VehicleByIDHandler, http.MethodPost, "/v1/vehicles/veh-1/status",
		`{"status":"parked"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status", w.Code)
	}

	w = doJSON(t, s.VehicleByIDHandler, http.MethodPost, "/v1/vehicles/veh-1/location",
		`{"pointId":"pt-1","lat":21.02,"lng":105.83}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	w = doJSON(t, s.CollectionPointByIDHandler, http.MethodGet, "/v1/collection-points/pt-1/vehicle-locations", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "veh-1") {
		t.Fatalf("locations = %d, body %s", w.Code, w.Body)
	}
}

func TestCollectionPointsAdminOnly(t *testing.T) {
	s, _ := newTestServer()
	body := `{"companyId":"co-1","name":"New","location":{"lat":21,"lng":105.8}}`
	w := doJSON(t, s.CollectionPointsHandler, http.MethodPost, "/v1/collection-points", body,
		map[string]string{"X-Role": "operator"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-admin", w.Code)
	}
	w = doJSON(t, s.CollectionPointsHandler, http.MethodPost, "/v1/collection-points", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
}

func TestJobSSEStreamHeartbeat(t *testing.T) {
	s, st := newTestServer()
	_ = st.CreateJob(context.Background(), model.Job{ID: "j1", Status: model.JobRunning})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/j1/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.JobByIDHandler(w, req)
	}()
	time.Sleep(20 * time.Millisecond)
	s.Broker.Publish("job:j1", "completed", map[string]any{"assigned": 2})
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: heartbeat") {
		t.Errorf("missing heartbeat: %s", body)
	}
	if !strings.Contains(body, "event: completed") {
		t.Errorf("missing published event: %s", body)
	}
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer()
	if w := doJSON(t, s.HealthHandler, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := doJSON(t, s.ReadyHandler, http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d", w.Code)
	}
}
