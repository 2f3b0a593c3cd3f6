package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Manual runs allowed per client per minute
const runsPerMinute = 6

func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)

	handlers := NewHandlers(deps)

	r.Get("/health", handlers.Health)
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(JSONContentType)

		r.Get("/timeline", handlers.Timeline)
		r.Get("/decisions", handlers.Decisions)
		r.Get("/decisions/{id}", handlers.Decision)
		r.Get("/runs", handlers.Runs)
		r.Get("/runs/{id}/events", handlers.RunEvents)

		if deps.Runner != nil {
			limiter := NewRateLimiter(runsPerMinute, time.Minute, deps.Clock)
			r.With(RateLimitMiddleware(limiter)).Post("/runs", handlers.StartRun)
		}
	})

	return r
}
