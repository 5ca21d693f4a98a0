package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/perimeterd/perimeter/internal/alerts"
	"github.com/perimeterd/perimeter/internal/api/handlers"
	"github.com/perimeterd/perimeter/internal/api/middleware"
	"github.com/perimeterd/perimeter/internal/auth"
	"github.com/perimeterd/perimeter/internal/kvstore"
	"github.com/perimeterd/perimeter/internal/models"
	"github.com/perimeterd/perimeter/internal/ratelimit"
	"github.com/perimeterd/perimeter/internal/threat"
)

// Deps carries the shared services the route handlers depend on.
type Deps struct {
	DB       *gorm.DB
	KV       *kvstore.Client
	Limiter  *ratelimit.Limiter
	Tracker  *threat.Tracker
	Alerts   *alerts.Service
	Sessions *auth.Service
	Registry *prometheus.Registry
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, d Deps) error {
	if err := d.DB.AutoMigrate(
		&models.SecurityAlert{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	router.GET("/api/v1/health", handlers.HealthHandler)
	if d.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(d.Sessions, d.Tracker)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/logout", authHandler.Logout)

	protected := api.Group("/")
	protected.Use(middleware.RequireAuth())
	{
		protected.GET("/auth/me", authHandler.Me)
	}

	// Security operations API. The enforcement pipeline already 404s
	// unauthenticated probes on these paths; RequireAdmin is the
	// handler-level check behind it.
	security := api.Group("/security")
	security.Use(middleware.RequireAdmin())
	{
		alertHandler := handlers.NewAlertHandler(d.Alerts)
		security.GET("/alerts", alertHandler.List)
		security.GET("/alerts/summary", alertHandler.Summary)
		security.POST("/alerts/:uuid/resolve", alertHandler.Resolve)
		security.POST("/alerts/resolve-by-ip", alertHandler.ResolveByIP)

		statusHandler := handlers.NewStatusHandler(d.KV, d.Limiter, d.Tracker)
		security.GET("/status", statusHandler.Status)
	}

	return nil
}
