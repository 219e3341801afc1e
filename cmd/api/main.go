package main

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ecollect/internal/api"
	"ecollect/internal/config"
	"ecollect/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	metrics.RegisterDefault()

	cfg := config.LoadServer()
	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	mux := http.NewServeMux()

	// Items
	mux.HandleFunc("/v1/items", srvDeps.ItemsHandler)
	mux.HandleFunc("/v1/items/import", srvDeps.ItemsImportHandler)
	mux.HandleFunc("/v1/sender-locations", srvDeps.SenderLocationsHandler)
	mux.HandleFunc("/v1/categories", srvDeps.CategoriesHandler)

	// Assignment
	mux.HandleFunc("/v1/assignments", srvDeps.AssignmentsHandler)
	mux.HandleFunc("/v1/assignments/", srvDeps.AssignmentByIDHandler)
	mux.HandleFunc("/v1/preassign", srvDeps.PreassignHandler)

	// Routing
	mux.HandleFunc("/v1/routes/solve", srvDeps.RoutesSolveHandler)
	mux.HandleFunc("/v1/groups", srvDeps.GroupsHandler)

	// Fleet and network
	mux.HandleFunc("/v1/collection-points", srvDeps.CollectionPointsHandler)
	mux.HandleFunc("/v1/collection-points/", srvDeps.CollectionPointByIDHandler)
	mux.HandleFunc("/v1/vehicles", srvDeps.VehiclesHandler)
	mux.HandleFunc("/v1/vehicles/", srvDeps.VehicleByIDHandler)
	mux.HandleFunc("/v1/companies", srvDeps.CompaniesHandler)

	// Jobs: status, SSE stream, websocket
	mux.HandleFunc("/v1/jobs/", srvDeps.JobByIDHandler)
	mux.HandleFunc("/v1/jobs/ws", srvDeps.JobsWSHandler)

	// Notifications
	mux.HandleFunc("/v1/notifications", srvDeps.NotificationsHandler)

	// Admin
	mux.HandleFunc("/v1/admin/config", srvDeps.AdminConfigHandler)
	mux.HandleFunc("/v1/admin/debug", srvDeps.DebugJSON)

	// Health and metrics
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	worker := srvDeps.NewWebhookWorker()
	worker.Start()

	log.Printf("API listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps the websocket upgrade working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, status, dur)
	})
}
