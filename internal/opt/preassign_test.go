package opt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ecollect/internal/model"
	"ecollect/internal/store"
)

func fixedNow(t *testing.T) func() time.Time {
	t.Helper()
	// a Monday
	d, err := time.Parse("2006-01-02", "2026-08-31")
	if err != nil {
		t.Fatal(err)
	}
	return func() time.Time { return d }
}

func mondaySchedule() json.RawMessage {
	return json.RawMessage(`[{"pickupDate":"2026-08-31","slots":[{"startTime":"09:00","endTime":"12:00"}]}]`)
}

func seedPreassign(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	_ = st.PutPoint(ctx, model.CollectionPoint{
		ID: "pt-1", CompanyID: "co-1", Name: "Depot",
		Location: model.GeoPoint{Lat: 21.0, Lng: 105.8}, Status: model.StatusActive,
	})
	_ = st.PutVehicle(ctx, model.Vehicle{
		ID: "veh-1", PointID: "pt-1", CapacityKg: 100, CapacityM3: 1,
		ShiftStart: "08:00", ShiftEnd: "16:00", Status: model.StatusActive,
	})
	for i, id := range []string{"it-1", "it-2", "it-3"} {
		_ = st.PutSenderLocation(ctx, model.SenderLocation{
			SenderID: "s-" + id,
			Location: model.GeoPoint{Lat: 21.0 + float64(i)*0.01, Lng: 105.8},
		})
		_, _ = st.CreateItems(ctx, []model.Item{{
			ID: id, SenderID: "s-" + id, CategoryID: "laptops",
			WeightKg: 20, VolumeM3: 0.05,
			Status: model.ItemAwaitingGrouping, PointID: "pt-1",
			Schedule: mondaySchedule(),
		}})
	}
}

func TestPreAssignThresholdNeverExceeded(t *testing.T) {
	st := store.NewMemory()
	seedPreassign(t, st)
	pa := &PreAssigner{Store: st, Now: fixedNow(t)}

	// 50% of 100kg: only two 20kg items fit
	res, err := pa.PreAssign(context.Background(), "pt-1", 50, nil)
	if err != nil {
		t.Fatalf("PreAssign: %v", err)
	}
	if len(res.Days) != 1 {
		t.Fatalf("days = %d, want 1", len(res.Days))
	}
	var placed int
	for _, b := range res.Days[0].Buckets {
		if b.TotalKg > 50 {
			t.Errorf("bucket %s holds %v kg, threshold is 50", b.VehicleID, b.TotalKg)
		}
		placed += len(b.ItemIDs)
	}
	if placed != 2 {
		t.Errorf("placed = %d, want 2", placed)
	}
	if len(res.Unplaced) != 1 {
		t.Fatalf("unplaced = %+v, want one entry", res.Unplaced)
	}
}

func TestPreAssignAllFitAtFullCapacity(t *testing.T) {
	st := store.NewMemory()
	seedPreassign(t, st)
	pa := &PreAssigner{Store: st, Now: fixedNow(t)}

	res, err := pa.PreAssign(context.Background(), "pt-1", 100, nil)
	if err != nil {
		t.Fatalf("PreAssign: %v", err)
	}
	if len(res.Unplaced) != 0 {
		t.Fatalf("unplaced = %+v, want none", res.Unplaced)
	}
	b := res.Days[0].Buckets[0]
	if len(b.ItemIDs) != 3 {
		t.Fatalf("bucket holds %d items, want 3", len(b.ItemIDs))
	}
	// ETAs respect the requested window and stay ordered
	for i, eta := range b.ETAs {
		if eta < 9*60 {
			t.Errorf("stop %d eta %v before window open", i, eta)
		}
		if i > 0 && eta < b.ETAs[i-1] {
			t.Errorf("eta %d (%v) earlier than previous (%v)", i, eta, b.ETAs[i-1])
		}
	}
}

func TestPreAssignReportsMissingLocation(t *testing.T) {
	st := store.NewMemory()
	seedPreassign(t, st)
	ctx := context.Background()
	_, _ = st.CreateItems(ctx, []model.Item{{
		ID: "it-nowhere", SenderID: "s-missing", CategoryID: "laptops",
		WeightKg: 1, VolumeM3: 0.01,
		Status: model.ItemAwaitingGrouping, PointID: "pt-1",
		Schedule: mondaySchedule(),
	}})
	pa := &PreAssigner{Store: st, Now: fixedNow(t)}
	res, err := pa.PreAssign(ctx, "pt-1", 100, nil)
	if err != nil {
		t.Fatalf("PreAssign: %v", err)
	}
	found := false
	for _, u := range res.Unplaced {
		if u.ItemID == "it-nowhere" {
			found = true
			if u.Reason != "no geocoded sender location" {
				t.Errorf("reason = %q", u.Reason)
			}
		}
	}
	if !found {
		t.Fatal("item without location not reported")
	}
}

func TestPreAssignNoActiveVehicle(t *testing.T) {
	st := store.NewMemory()
	seedPreassign(t, st)
	ctx := context.Background()
	_ = st.SetVehicleStatus(ctx, "veh-1", model.StatusBlocked)
	pa := &PreAssigner{Store: st, Now: fixedNow(t)}
	if _, err := pa.PreAssign(ctx, "pt-1", 100, nil); err == nil {
		t.Fatal("expected error when the point has no active vehicle")
	}
}
