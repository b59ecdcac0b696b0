package api

import (
	"log"

	"signalhook/internal/config"
	"signalhook/internal/signals"
	"signalhook/internal/store"
	"signalhook/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Engine  *signals.Engine
	Pub     *webhooks.Publisher
	Limiter *RateLimiter
	Broker  EventBroker
}

// NewServer wires the server from config. Store backend selection:
// DATABASE_URL -> Postgres, else DATA_DIR -> JSON files, else in-memory.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	switch {
	case cfg.DatabaseURL != "":
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sp.MigrateDir("db/migrations"); err != nil {
			log.Printf("api: migrations: %v", err)
		}
		s = sp
	case cfg.DataDir != "":
		sf, err := store.NewJSONFile(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		s = sf
	default:
		s = store.NewMemory()
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("api: redis broker unavailable, using in-memory: %v", err)
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	return &Server{
		Cfg:     cfg,
		Store:   s,
		Engine:  signals.NewEngine(s),
		Pub:     webhooks.NewPublisher(s, webhooks.NewDeliverer(cfg.WebhookTimeout())),
		Limiter: NewRateLimiter(cfg.RateRPS, cfg.RateBurst),
		Broker:  broker,
	}, nil
}
