package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ecollect/internal/metrics"
	"ecollect/internal/model"
)

// RoadResult is a resolved road-network distance and travel time.
type RoadResult struct {
	Km      float64 `json:"km"`
	Minutes float64 `json:"minutes"`
}

// ErrInvalidCoords marks coordinates the routing provider rejects (HTTP 422).
// Callers skip the pair instead of retrying.
var ErrInvalidCoords = errors.New("routing provider rejected coordinates")

// matrixBatchMax is the provider-imposed ceiling on destinations per
// matrix request.
const matrixBatchMax = 25

type cacheKey struct {
	aLat, aLng, bLat, bLng float64
}

// Provider resolves road distances through an OSRM-compatible HTTP API with
// an unbounded in-process cache and haversine fallback. Safe for concurrent
// use; concurrent writers for the same key compute the same value.
type Provider struct {
	BaseURL     string
	HTTP        *http.Client
	MaxAttempts int
	Backoff     time.Duration

	limiter *rate.Limiter
	mu      sync.RWMutex
	cache   map[cacheKey]RoadResult
}

// NewProviderFromEnv builds a Provider from ROUTING_URL. An empty URL is
// allowed; every lookup then degrades to haversine.
func NewProviderFromEnv() *Provider {
	return NewProvider(strings.TrimSpace(os.Getenv("ROUTING_URL")))
}

func NewProvider(baseURL string) *Provider {
	return &Provider{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: 5,
		Backoff:     500 * time.Millisecond,
		limiter:     rate.NewLimiter(rate.Limit(10), 5),
		cache:       map[cacheKey]RoadResult{},
	}
}

// round5 limits cache-key precision to ~1m so nearby lookups share entries.
// math.Round keeps the rounding symmetric for southern/western coordinates.
func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

func keyFor(a, b model.GeoPoint) cacheKey {
	return cacheKey{round5(a.Lat), round5(a.Lng), round5(b.Lat), round5(b.Lng)}
}

// RoadDistance returns road km and minutes between two points. On provider
// failure it falls back to the haversine distance with minutes reported as 0.
func (p *Provider) RoadDistance(ctx context.Context, a, b model.GeoPoint) (RoadResult, error) {
	k := keyFor(a, b)
	p.mu.RLock()
	if r, ok := p.cache[k]; ok {
		p.mu.RUnlock()
		metrics.DistanceLookups.WithLabelValues("cache").Inc()
		return r, nil
	}
	p.mu.RUnlock()

	r, err := p.fetchRoute(ctx, a, b)
	if err != nil {
		if errors.Is(err, ErrInvalidCoords) {
			return RoadResult{}, err
		}
		metrics.DistanceLookups.WithLabelValues("fallback").Inc()
		log.Printf("geo: road lookup failed, using haversine: %v", err)
		return RoadResult{Km: HaversineKm(a, b)}, nil
	}

	p.mu.Lock()
	p.cache[k] = r
	p.mu.Unlock()
	metrics.DistanceLookups.WithLabelValues("road").Inc()
	return r, nil
}

type osrmRoute struct {
	DistanceM float64 `json:"distance"`
	DurationS float64 `json:"duration"`
}

type osrmRouteResponse struct {
	Code   string      `json:"code"`
	Routes []osrmRoute `json:"routes"`
}

func (p *Provider) fetchRoute(ctx context.Context, a, b model.GeoPoint) (RoadResult, error) {
	if p.BaseURL == "" {
		return RoadResult{}, errors.New("no routing provider configured")
	}
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		p.BaseURL, a.Lng, a.Lat, b.Lng, b.Lat)
	body, err := p.doWithBackoff(ctx, url)
	if err != nil {
		return RoadResult{}, err
	}
	var rr osrmRouteResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return RoadResult{}, fmt.Errorf("decode route response: %w", err)
	}
	if rr.Code != "Ok" || len(rr.Routes) == 0 {
		return RoadResult{}, fmt.Errorf("route response code %q", rr.Code)
	}
	return RoadResult{
		Km:      rr.Routes[0].DistanceM / 1000.0,
		Minutes: rr.Routes[0].DurationS / 60.0,
	}, nil
}

// doWithBackoff performs a GET with exponential backoff on 429. 422 is a
// non-retryable skip; other failures exhaust the attempt budget.
func (p *Provider) doWithBackoff(ctx context.Context, url string) ([]byte, error) {
	backoff := p.Backoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.HTTP.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, rerr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusOK && rerr == nil:
				return body, nil
			case resp.StatusCode == http.StatusUnprocessableEntity:
				return nil, ErrInvalidCoords
			case resp.StatusCode == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("rate limited (429)")
			default:
				lastErr = fmt.Errorf("routing provider status %d", resp.StatusCode)
			}
		}
		if attempt == p.MaxAttempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

// Dest pairs an opaque id with its coordinates for matrix lookups.
type Dest struct {
	ID    string
	Point model.GeoPoint
}

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Distances [][]*float64 `json:"distances"`
}

// RoadMatrix resolves road km from one origin to many destinations, batching
// at most matrixBatchMax destinations per request. A failed batch does not
// fail the matrix; its entries are simply absent from the result.
func (p *Provider) RoadMatrix(ctx context.Context, origin model.GeoPoint, dests []Dest) map[string]float64 {
	out := make(map[string]float64, len(dests))
	for start := 0; start < len(dests); start += matrixBatchMax {
		end := start + matrixBatchMax
		if end > len(dests) {
			end = len(dests)
		}
		batch := dests[start:end]
		if err := p.fetchTable(ctx, origin, batch, out); err != nil {
			log.Printf("geo: matrix batch of %d failed: %v", len(batch), err)
		}
	}
	return out
}

func (p *Provider) fetchTable(ctx context.Context, origin model.GeoPoint, batch []Dest, out map[string]float64) error {
	if p.BaseURL == "" {
		return errors.New("no routing provider configured")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%f,%f", origin.Lng, origin.Lat)
	for _, d := range batch {
		fmt.Fprintf(&sb, ";%f,%f", d.Point.Lng, d.Point.Lat)
	}
	url := fmt.Sprintf("%s/table/v1/driving/%s?sources=0&annotations=distance",
		p.BaseURL, sb.String())
	body, err := p.doWithBackoff(ctx, url)
	if err != nil {
		return err
	}
	var tr osrmTableResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("decode table response: %w", err)
	}
	if tr.Code != "Ok" || len(tr.Distances) != 1 {
		return fmt.Errorf("table response code %q rows %d", tr.Code, len(tr.Distances))
	}
	row := tr.Distances[0]
	if len(row) != len(batch)+1 {
		return fmt.Errorf("table row length %d, want %d", len(row), len(batch)+1)
	}
	for i, d := range batch {
		cell := row[i+1] // index 0 is the origin itself
		if cell == nil {
			continue
		}
		out[d.ID] = *cell / 1000.0
	}
	return nil
}

// CacheLen reports cache population, for diagnostics.
func (p *Provider) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}
