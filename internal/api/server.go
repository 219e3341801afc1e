package api

import (
	"os"
	"strings"

	"ecollect/internal/assign"
	"ecollect/internal/auth"
	"ecollect/internal/config"
	"ecollect/internal/geo"
	"ecollect/internal/jobs"
	"ecollect/internal/notify"
	"ecollect/internal/opt"
	"ecollect/internal/store"
	"ecollect/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Auth     *auth.Verifier
	Broker   EventBroker
	Geo      *geo.Provider
	Engine   *assign.Engine
	Runner   *jobs.Runner
	Pre      *opt.PreAssigner
	Pub      *webhooks.Publisher
	Vehicles *LocationCache
}

// NewServer wires the service from configuration. An empty DatabaseURL
// selects the in-memory store; an empty RedisURL selects the in-process
// broker.
func NewServer(cfg config.Server) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				return nil, err
			}
		}
		st = sp
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	provider := geo.NewProvider(cfg.RoutingURL)
	engine := &assign.Engine{Store: st, Geo: provider}
	pub := webhooks.NewPublisher(os.Getenv("WEBHOOK_URL"), os.Getenv("WEBHOOK_SECRET"))
	notifier := &notify.StoreNotifier{Store: st, Events: broker}
	runner := &jobs.Runner{
		Store:    st,
		Engine:   engine,
		Notifier: notifier,
		Events:   &fanout{broker: broker, pub: pub},
	}

	return &Server{
		Store:    st,
		Auth:     auth.NewVerifierFromEnv(),
		Broker:   broker,
		Geo:      provider,
		Engine:   engine,
		Runner:   runner,
		Pre:      &opt.PreAssigner{Store: st},
		Pub:      pub,
		Vehicles: NewLocationCache(),
	}, nil
}

// fanout mirrors job events onto the live broker and the outbound
// webhook queue.
type fanout struct {
	broker EventBroker
	pub    *webhooks.Publisher
}

func (f *fanout) Publish(topic, kind string, data map[string]any) {
	f.broker.Publish(topic, kind, data)
	f.pub.Emit(kind, map[string]any{"topic": topic, "data": data})
}

// NewWebhookWorker creates the background delivery worker.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Pub)
}
