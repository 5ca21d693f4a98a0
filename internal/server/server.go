package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/perimeterd/perimeter/internal/alerts"
	"github.com/perimeterd/perimeter/internal/api/middleware"
	"github.com/perimeterd/perimeter/internal/api/routes"
	"github.com/perimeterd/perimeter/internal/auth"
	"github.com/perimeterd/perimeter/internal/config"
	"github.com/perimeterd/perimeter/internal/enforce"
	"github.com/perimeterd/perimeter/internal/kvstore"
	"github.com/perimeterd/perimeter/internal/logger"
	"github.com/perimeterd/perimeter/internal/metrics"
	"github.com/perimeterd/perimeter/internal/notify"
	"github.com/perimeterd/perimeter/internal/ratelimit"
	"github.com/perimeterd/perimeter/internal/threat"
)

// Sweep and flush cadences for the background scheduler. The jobs call
// exported methods so tests can step them without waiting on wall clocks.
const (
	sweepSchedule = "@every 1m"
	flushSchedule = "@every 30s"
)

// Server wraps the HTTP engine, shared services, and the background
// scheduler that owns periodic sweeps and flushes.
type Server struct {
	Engine *gin.Engine
	cfg    config.Config
	cron   *cron.Cron
	kv     *kvstore.Client
	alerts *alerts.Service
}

// New wires up every enforcement service and registers routes.
func New(db *gorm.DB, cfg config.Config) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	kv := kvstore.New(kvstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	table := ratelimit.DefaultTable()
	if err := table.ApplyOverrides(cfg.RateLimitOverrides); err != nil {
		return nil, fmt.Errorf("rate limit overrides: %w", err)
	}
	limiter := ratelimit.New(kv, ratelimit.NewMemoryLimiter(), table, ratelimit.Options{
		Production:      cfg.IsProduction(),
		FallbackEnabled: cfg.FallbackEnabled,
		FailOpen:        cfg.FailPolicy == config.FailOpen,
	})

	alertSvc := alerts.NewService(db, notify.New(cfg.AlertWebhooks))
	tracker := threat.NewTracker(alertSvc)
	sessions := auth.NewService(db, cfg.JWTSecret)
	pipeline := enforce.New(tracker, limiter, sessions)

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.Recovery(cfg.Environment == "development"),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{IsDevelopment: !cfg.IsProduction()}),
		pipeline.Middleware(),
	)

	if err := routes.Register(router, routes.Deps{
		DB:       db,
		KV:       kv,
		Limiter:  limiter,
		Tracker:  tracker,
		Alerts:   alertSvc,
		Sessions: sessions,
		Registry: registry,
	}); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(sweepSchedule, func() {
		if removed := tracker.Sweep(); removed > 0 {
			logger.WithField("removed", removed).Debug("swept threat tracker")
		}
		limiter.Fallback().Sweep()
	}); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	if _, err := c.AddFunc(flushSchedule, alertSvc.Flush); err != nil {
		return nil, fmt.Errorf("schedule alert flush: %w", err)
	}

	return &Server{Engine: router, cfg: cfg, cron: c, kv: kv, alerts: alertSvc}, nil
}

// Run starts the scheduler and HTTP server with proper shutdown semantics.
// On shutdown the scheduler stops, pending alerts flush, and the backend
// connection closes.
func (s *Server) Run(ctx context.Context) error {
	s.cron.Start()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		s.shutdown()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) shutdown() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.alerts.Flush()
	if err := s.kv.Close(); err != nil {
		logger.WithError(err).Warn("closing kv backend")
	}
}
