// Package api serves the deals HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sells-group/deals/internal/ratelimit"
	"github.com/sells-group/deals/internal/store"
)

// MaxBodyBytes caps request bodies on write endpoints.
const MaxBodyBytes = 10 << 20

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store   store.Store
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter rate limits every route under /api.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithClock sets the clock used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server backed by st.
func NewServer(st store.Store, opts ...Option) *Server {
	s := &Server{store: st, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)
	r.Use(recoverer)
	r.Use(permissiveCORS())

	r.NotFound(handle(func(http.ResponseWriter, *http.Request) error {
		return &HTTPError{Status: http.StatusNotFound, Message: "Not Found"}
	}))
	r.MethodNotAllowed(handle(func(http.ResponseWriter, *http.Request) error {
		return &HTTPError{Status: http.StatusMethodNotAllowed, Message: "Method Not Allowed"}
	}))

	r.Get("/", handle(s.health))
	r.Method(http.MethodGet, "/metrics", metricsHandler())

	r.Route("/api", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}
		r.Get("/deals/today", handle(s.currentDeals))
		r.Get("/deals/search", handle(s.searchDeals))
		r.Post("/ingest", handle(s.ingest))
		r.Get("/products/{sku}", handle(s.getProduct))
		r.Post("/aliases", handle(s.createAlias))
		r.Get("/offers/{id}/snapshots", handle(s.listSnapshots))
	})

	return r
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
