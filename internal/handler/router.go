// internal/handler/router.go
package handler

import (
	"context"
	"net/http"
	"time"

	"deposit-service/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	JWTSecret      string
	WebhookSecret  string
	AllowedOrigins []string
	RequestTimeout time.Duration

	Redis      redis.Cmdable // nil disables rate limiting
	RateLimit  int
	RateWindow time.Duration
	RateBlock  time.Duration
}

func SetupRoutes(
	walletHandler *WalletHandler,
	depositHandler *DepositHandler,
	store Pinger,
	metricsHandler http.Handler,
	cfg RouterConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger, m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	limiter := RateLimiter(cfg.Redis, cfg.RateLimit, cfg.RateWindow, cfg.RateBlock, "deposit:rl")

	r.Route("/api/v1", func(r chi.Router) {
		// ============================================
		// WEBHOOKS (watch feed)
		// ============================================
		r.Route("/webhooks", func(r chi.Router) {
			if cfg.WebhookSecret != "" {
				r.Use(WebhookSignature(cfg.WebhookSecret, logger))
			}
			r.Post("/deposits", depositHandler.HandleNotification)
		})

		// ============================================
		// CLIENT API
		// ============================================
		r.Group(func(r chi.Router) {
			if cfg.JWTSecret != "" {
				r.Use(BearerAuth([]byte(cfg.JWTSecret), logger))
			}
			r.Use(limiter)

			r.Post("/wallets/generate", walletHandler.Generate)
			r.Get("/wallets/{userId}", walletHandler.Get)
			r.Get("/deposits/{txId}", depositHandler.GetDeposit)
		})
	})

	return r
}
