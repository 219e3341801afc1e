package config

import (
	"context"
	"errors"
	"testing"

	"ecollect/internal/model"
)

type fakeSource struct {
	entries []model.ConfigEntry
	err     error
}

func (f fakeSource) GetConfigEntries(ctx context.Context, key string) ([]model.ConfigEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []model.ConfigEntry{}
	for _, e := range f.entries {
		if e.Key == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestResolveFloatPrecedence(t *testing.T) {
	src := fakeSource{entries: []model.ConfigEntry{
		{Key: "point.radius_km", Value: "10"},
		{Key: "point.radius_km", CompanyID: "co-1", Value: "20"},
		{Key: "point.radius_km", CompanyID: "co-1", PointID: "pt-1", Value: "30"},
	}}
	ctx := context.Background()

	if v := ResolveFloat(ctx, src, KeyPointRadiusKm, Scope{CompanyID: "co-1", PointID: "pt-1"}, 5); v != 30 {
		t.Errorf("point scope = %v, want 30", v)
	}
	if v := ResolveFloat(ctx, src, KeyPointRadiusKm, Scope{CompanyID: "co-1", PointID: "pt-other"}, 5); v != 20 {
		t.Errorf("company scope = %v, want 20", v)
	}
	if v := ResolveFloat(ctx, src, KeyPointRadiusKm, Scope{CompanyID: "co-other"}, 5); v != 10 {
		t.Errorf("global scope = %v, want 10", v)
	}
	if v := ResolveFloat(ctx, src, KeyAvgSpeedKph, Scope{}, 40); v != 40 {
		t.Errorf("missing key = %v, want default 40", v)
	}
}

func TestResolveFloatSkipsUnparseable(t *testing.T) {
	src := fakeSource{entries: []model.ConfigEntry{
		{Key: "route.avg_speed_kph", Value: "fast"},
		{Key: "route.avg_speed_kph", CompanyID: "co-1", Value: "35"},
	}}
	if v := ResolveFloat(context.Background(), src, KeyAvgSpeedKph, Scope{CompanyID: "co-1"}, 40); v != 35 {
		t.Errorf("got %v, want 35 (garbage global skipped)", v)
	}
	if v := ResolveFloat(context.Background(), src, KeyAvgSpeedKph, Scope{}, 40); v != 40 {
		t.Errorf("got %v, want default when only entry is garbage", v)
	}
}

func TestResolveFloatStoreError(t *testing.T) {
	src := fakeSource{err: errors.New("down")}
	if v := ResolveFloat(context.Background(), src, KeyServiceMinutes, Scope{}, 15); v != 15 {
		t.Errorf("got %v, want default on lookup failure", v)
	}
}

func TestLoadServerEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9191")
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("REDIS_URL", "")
	t.Setenv("ROUTING_URL", "")
	cfg := LoadServer()
	if cfg.Addr != ":9191" {
		t.Errorf("addr = %q, want :9191", cfg.Addr)
	}
	if cfg.DatabaseURL != "postgres://test" {
		t.Errorf("database url = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "" {
		t.Errorf("redis url = %q, want empty", cfg.RedisURL)
	}
}
