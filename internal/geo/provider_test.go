package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecollect/internal/model"
)

var (
	hanoi   = model.GeoPoint{Lat: 21.0278, Lng: 105.8342}
	hadong  = model.GeoPoint{Lat: 20.9709, Lng: 105.7791}
	invalid = model.GeoPoint{Lat: 0, Lng: 0}
)

func routeOK(km, min float64) string {
	return fmt.Sprintf(`{"code":"Ok","routes":[{"distance":%f,"duration":%f}]}`, km*1000, min*60)
}

func newTestProvider(url string) *Provider {
	p := NewProvider(url)
	p.Backoff = time.Millisecond
	return p
}

func TestRoadDistanceCachesLookups(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, routeOK(12, 18))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		r, err := p.RoadDistance(ctx, hanoi, hadong)
		if err != nil {
			t.Fatalf("RoadDistance: %v", err)
		}
		if r.Km != 12 || r.Minutes != 18 {
			t.Fatalf("result = %+v, want 12km/18min", r)
		}
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (cache)", calls)
	}
	if p.CacheLen() != 1 {
		t.Errorf("cache len = %d, want 1", p.CacheLen())
	}
}

func TestRoadDistanceBackoffOn429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, routeOK(7, 9))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	r, err := p.RoadDistance(context.Background(), hanoi, hadong)
	if err != nil {
		t.Fatalf("RoadDistance: %v", err)
	}
	if r.Km != 7 {
		t.Errorf("km = %v, want 7 after retries", r.Km)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (two 429s then success)", calls)
	}
}

func TestRoadDistanceInvalidCoordsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.RoadDistance(context.Background(), hanoi, invalid)
	if !errors.Is(err, ErrInvalidCoords) {
		t.Fatalf("err = %v, want ErrInvalidCoords", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (422 is non-retryable)", calls)
	}
}

func TestRoadDistanceFallsBackToHaversine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	p.MaxAttempts = 2
	r, err := p.RoadDistance(context.Background(), hanoi, hadong)
	if err != nil {
		t.Fatalf("RoadDistance: %v", err)
	}
	want := HaversineKm(hanoi, hadong)
	if math.Abs(r.Km-want) > 1e-9 {
		t.Errorf("km = %v, want haversine %v", r.Km, want)
	}
	if r.Minutes != 0 {
		t.Errorf("minutes = %v, want 0 on fallback", r.Minutes)
	}
}

func TestRoadMatrixBatches(t *testing.T) {
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// coordinate list: origin;d1;d2;...
		path := strings.TrimPrefix(r.URL.Path, "/table/v1/driving/")
		n := strings.Count(path, ";")
		batchSizes = append(batchSizes, n)
		row := make([]string, n+1)
		row[0] = "0"
		for i := 1; i <= n; i++ {
			row[i] = fmt.Sprintf("%d", i*1000)
		}
		fmt.Fprintf(w, `{"code":"Ok","distances":[[%s]]}`, strings.Join(row, ","))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	dests := make([]Dest, 30)
	for i := range dests {
		dests[i] = Dest{ID: fmt.Sprintf("d%02d", i), Point: model.GeoPoint{Lat: 21 + float64(i)*0.001, Lng: 105.8}}
	}
	out := p.RoadMatrix(context.Background(), hanoi, dests)
	if len(batchSizes) != 2 || batchSizes[0] != 25 || batchSizes[1] != 5 {
		t.Fatalf("batch sizes = %v, want [25 5]", batchSizes)
	}
	if len(out) != 30 {
		t.Fatalf("resolved = %d, want 30", len(out))
	}
	if out["d00"] != 1 {
		t.Errorf("d00 = %v km, want 1", out["d00"])
	}
}

func TestRoadMatrixPartialFailure(t *testing.T) {
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/table/v1/driving/")
		n := strings.Count(path, ";")
		row := make([]string, n+1)
		for i := range row {
			row[i] = "500"
		}
		fmt.Fprintf(w, `{"code":"Ok","distances":[[%s]]}`, strings.Join(row, ","))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	p.MaxAttempts = 1
	dests := make([]Dest, 30)
	for i := range dests {
		dests[i] = Dest{ID: fmt.Sprintf("d%02d", i), Point: model.GeoPoint{Lat: 21, Lng: 105.8}}
	}
	out := p.RoadMatrix(context.Background(), hanoi, dests)
	// first batch of 25 failed; only the trailing 5 resolve
	if len(out) != 5 {
		t.Fatalf("resolved = %d, want 5", len(out))
	}
	for i := 0; i < 25; i++ {
		if _, ok := out[fmt.Sprintf("d%02d", i)]; ok {
			t.Fatalf("entry from failed batch present: d%02d", i)
		}
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Hanoi to Ho Chi Minh City is roughly 1160 km
	hcmc := model.GeoPoint{Lat: 10.8231, Lng: 106.6297}
	d := HaversineKm(hanoi, hcmc)
	if d < 1100 || d > 1220 {
		t.Errorf("distance = %v, want ~1160", d)
	}
	if HaversineKm(hanoi, hanoi) != 0 {
		t.Errorf("zero distance expected for identical points")
	}
}

func TestRound5SymmetricAcrossHemispheres(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.000004, 1.0},
		{1.000006, 1.00001},
		{-1.000006, -1.00001},
		{-1.000004, -1.0},
		{-105.834251, -105.83425},
	}
	for _, c := range cases {
		if got := round5(c.in); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("round5(%v) = %v, want %v", c.in, got, c.want)
		}
	}
	for _, v := range []float64{21.0278, 105.8342, 0.123455, 33.000015} {
		if round5(-v) != -round5(v) {
			t.Errorf("round5 asymmetric at %v: %v vs %v", v, round5(-v), -round5(v))
		}
	}
}
