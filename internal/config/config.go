package config

import (
	"context"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"ecollect/internal/model"
)

// Key identifies one tunable setting in the three-tier configuration.
type Key string

const (
	// KeyPointRadiusKm is the operating radius of a collection point.
	KeyPointRadiusKm Key = "point.radius_km"
	// KeyAvgSpeedKph is the assumed average vehicle speed for ETA math.
	KeyAvgSpeedKph Key = "route.avg_speed_kph"
	// KeyServiceMinutes is the fixed per-stop service time.
	KeyServiceMinutes Key = "route.service_minutes"
	// KeyWindowSlackMinutes bounds waiting between consecutive stops.
	KeyWindowSlackMinutes Key = "route.window_slack_minutes"
	// KeyLoadThresholdPercent caps bucket fill relative to rated capacity.
	KeyLoadThresholdPercent Key = "route.load_threshold_percent"
)

// Scope narrows a lookup to a company and/or point. Precedence:
// point entry > company entry > global entry > caller default.
type Scope struct {
	CompanyID string
	PointID   string
}

// EntrySource is the narrow store surface Resolve needs.
type EntrySource interface {
	GetConfigEntries(ctx context.Context, key string) ([]model.ConfigEntry, error)
}

// ResolveFloat returns the most specific configured value for key, or def.
func ResolveFloat(ctx context.Context, src EntrySource, key Key, scope Scope, def float64) float64 {
	entries, err := src.GetConfigEntries(ctx, string(key))
	if err != nil {
		log.Printf("config: lookup %s failed: %v", key, err)
		return def
	}
	var companyVal, globalVal *float64
	for _, e := range entries {
		v, perr := strconv.ParseFloat(e.Value, 64)
		if perr != nil {
			continue
		}
		switch {
		case e.PointID != "" && e.PointID == scope.PointID:
			return v
		case e.PointID == "" && e.CompanyID != "" && e.CompanyID == scope.CompanyID:
			companyVal = &v
		case e.PointID == "" && e.CompanyID == "":
			globalVal = &v
		}
	}
	if companyVal != nil {
		return *companyVal
	}
	if globalVal != nil {
		return *globalVal
	}
	return def
}

// Server holds process-level configuration, loaded from an optional YAML
// file and overridden by environment variables.
type Server struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`
	RoutingURL  string `yaml:"routingUrl"`
}

// LoadServer reads CONFIG_FILE if set, then applies env overrides.
func LoadServer() Server {
	cfg := Server{Addr: ":8080"}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: read %s: %v", path, err)
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			log.Printf("config: parse %s: %v", path, err)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("ROUTING_URL"); v != "" {
		cfg.RoutingURL = v
	}
	return cfg
}
