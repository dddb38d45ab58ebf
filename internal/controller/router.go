package controller

import (
	stdlog "log"

	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/config"
	"github.com/cassiomorais/fiscalbridge/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/fiscalbridge/internal/middleware"
	"github.com/cassiomorais/fiscalbridge/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	DB               Pinger
	Redis            Pinger
	ReceiptService   *service.ReceiptService
	IdempotencyStore customMW.IdempotencyStore
	Locker           customMW.KeyLocker
	Idempotency      customMW.IdempotencyConfig
	Metrics          *observability.Metrics
	Server           config.ServerConfig
	JWTSecret        string
	InboxDir         string
	Logger           zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
		Logger:  stdlog.New(observability.Component(deps.Logger, "http"), "", 0),
		NoColor: true,
	}))
	r.Use(chimw.Recoverer)
	if deps.Server.WriteTimeout > 0 {
		r.Use(chimw.Timeout(deps.Server.WriteTimeout))
	}
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMW.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.DB, deps.Redis, deps.InboxDir)
	receiptH := NewReceiptController(deps.ReceiptService, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RateLimit(deps.Server.RateLimitPerMinute))
		if deps.JWTSecret != "" {
			r.Use(customMW.RequireAuth(deps.JWTSecret))
		}

		// Each POST may print; a repeated key replays instead of printing again.
		r.Group(func(r chi.Router) {
			if deps.IdempotencyStore != nil {
				r.Use(customMW.Idempotency(deps.IdempotencyStore, deps.Locker, deps.Idempotency, deps.Logger))
			}
			r.Post("/receipts", receiptH.CreateReceipt)
			r.Post("/reports", receiptH.CreateReport)
		})

		r.Get("/receipts", receiptH.ListReceipts)
		r.Get("/receipts/{id}", receiptH.GetReceipt)
	})

	return r
}
