package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kubev2v/ids-validator/internal/config"
	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/kubev2v/ids-validator/internal/store"
	"github.com/kubev2v/ids-validator/internal/validation"
	"github.com/kubev2v/ids-validator/pkg/metrics"
	"github.com/kubev2v/ids-validator/pkg/middleware"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

// Extractor turns raw element records into processed elements. The worker
// pool implements it.
type Extractor interface {
	Process(ctx context.Context, elements []extract.RawElementRecord) ([]extract.ProcessedElement, error)
}

type Server struct {
	cfg       *config.Config
	store     store.Store
	listener  net.Listener
	extractor Extractor
	engine    *validation.Engine
	metrics   *metrics.Middleware
	router    chi.Router
}

// New returns a new instance of the ids-validator API server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
	extractor Extractor,
	engine *validation.Engine,
) (*Server, error) {
	metricMiddleware, err := metrics.NewMiddleware("api_server")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		store:     store,
		listener:  listener,
		extractor: extractor,
		engine:    engine,
		metrics:   metricMiddleware,
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Server) newRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(
		s.metrics.Handler,
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	h := &handler{store: s.store, extractor: s.extractor, engine: s.engine, validator: NewValidator()}
	router.Get("/health", h.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/extract", h.extract)
		r.Post("/validate", h.validate)
		r.Post("/validate/cancel", h.cancel)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})
	return router
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	if err := s.metrics.Register(prometheus.DefaultRegisterer); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
	}

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: s.router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		// a streaming validation observes the request context and stops at its next chunk
		s.engine.Cancel()
		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
