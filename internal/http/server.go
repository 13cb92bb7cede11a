package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Clark-Hu/bp-ratings/internal/config"
	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ProducerSyncer refreshes the producer registry on demand.
type ProducerSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// ProducerLister lists the synced producer registry.
type ProducerLister interface {
	List(ctx context.Context) ([]domain.Producer, error)
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	health   HealthChecker
	engine   *ratings.Engine
	syncer   ProducerSyncer
	registry ProducerLister
	gatherer prometheus.Gatherer
	logger   *log.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes. A nil
// gatherer serves the default Prometheus registry.
func New(cfg config.Config, health HealthChecker, engine *ratings.Engine, syncer ProducerSyncer, registry ProducerLister, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if logger == nil {
		logger = log.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		health:   health,
		engine:   engine,
		syncer:   syncer,
		registry: registry,
		gatherer: gatherer,
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/producers", s.handleListProducers)
	s.router.Route("/producers/{producer}", func(r chi.Router) {
		r.Delete("/", s.handleRemoveAllForProducer)
		r.Get("/summary", s.handleGetSummary)
		r.Route("/ratings", func(r chi.Router) {
			r.Get("/", s.handleListRatings)
			r.Post("/", s.handleSubmitRating)
			r.Delete("/", s.handleRemoveRating)
			r.Get("/{rater}", s.handleGetRating)
		})
	})
	s.router.Route("/admin", func(r chi.Router) {
		r.Post("/purge-inactive", s.handlePurgeInactive)
		r.Post("/wipe", s.handleWipe)
		r.Post("/sync-producers", s.handleSyncProducers)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx is done or it fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
