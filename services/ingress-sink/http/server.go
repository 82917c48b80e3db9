package http

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/config"
	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/db"
)

// Store persists accepted readings.
type Store interface {
	SaveReadings(ctx context.Context, readings []db.Reading) error
	LatestReadings(ctx context.Context, limit int) ([]db.Reading, error)
}

// Server bundles router and dependencies for the ingress sink.
type Server struct {
	cfg    config.Config
	store  Store
	engine *gin.Engine
	logger kitlog.Logger

	// failRemaining counts the posts still to be rejected with 503.
	failRemaining atomic.Int64

	registry *prometheus.Registry
	batches  *prometheus.CounterVec
	accepted prometheus.Counter
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store Store, logger kitlog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	server := &Server{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		logger:   kitlog.With(logger, "module", "http"),
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingress_sink",
			Name:      "batches_total",
			Help:      "Batches received, by outcome.",
		}, []string{"outcome"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ingress_sink",
			Name:      "readings_accepted_total",
			Help:      "Readings accepted and stored.",
		}),
	}
	server.failRemaining.Store(int64(cfg.FailFirst))
	server.registry.MustRegister(server.batches, server.accepted)
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	protected := s.engine.Group("/")
	if s.cfg.Username != "" {
		protected.Use(gin.BasicAuth(gin.Accounts{s.cfg.Username: s.cfg.Password}))
	}
	protected.POST(s.cfg.Path, s.handleIngress)
	protected.GET("/readings/latest", s.handleLatest)

	level.Info(s.logger).Log("msg", "routes registered", "ingressPath", s.cfg.Path, "basicAuth", s.cfg.Username != "")
}
