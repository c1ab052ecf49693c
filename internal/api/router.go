// Package api exposes events, analyses, statistics, notifications and
// settings over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rewired-gh/quakesentinel/internal/auth"
	"github.com/rewired-gh/quakesentinel/internal/logger"
	"github.com/rewired-gh/quakesentinel/internal/models"
	"github.com/rewired-gh/quakesentinel/internal/notify"
	"github.com/rewired-gh/quakesentinel/internal/stats"
	"github.com/rewired-gh/quakesentinel/internal/storage"
)

// Ingester accepts samples into the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, sample models.Sample) (*models.SeismicEvent, error)
}

// Estimator recomputes aftershock analyses on demand.
type Estimator interface {
	Estimate(ctx context.Context, event *models.SeismicEvent, settings models.Settings) (*models.AftershockAnalysis, error)
}

// SettingsService reads and updates the effective settings.
type SettingsService interface {
	Snapshot() models.Settings
	Update(ctx context.Context, key, value string) error
	UpdateContacts(ctx context.Context, contacts []models.Contact) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store     storage.Store
	Ingester  Ingester
	Estimator Estimator
	Stats     *stats.Aggregator
	Settings  SettingsService
	// TestSender delivers admin test messages; nil disables the route.
	TestSender notify.Transport
	// Metrics is served at /metrics when set.
	Metrics   http.Handler
	JWTSecret []byte
}

type handler struct {
	Deps
}

// NewRouter builds the gin engine with all routes.
func NewRouter(deps Deps) *gin.Engine {
	h := &handler{Deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"message":   "quakesentinel is running",
			"timestamp": time.Now().UTC(),
		})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	admin := auth.RequireRole(deps.JWTSecret, auth.RoleAdmin)

	api := r.Group("/api")
	{
		quakes := api.Group("/earthquakes")
		{
			quakes.POST("/event", h.ingestEvent)
			quakes.GET("", h.listEvents)
			quakes.GET("/:id", h.getEvent)
		}

		analysis := api.Group("/analysis")
		{
			analysis.GET("/aftershocks/:id", h.getAftershocks)
			analysis.POST("/aftershocks/:id", admin, h.reanalyze)
			analysis.GET("/stats/general", h.generalStats)
			analysis.GET("/stats/general/export", h.exportGeneralStats)
			analysis.GET("/trends/activity", h.activityTrend)
			analysis.GET("/trends/summary", h.trendSummary)
			analysis.GET("/prediction/simple", h.simplePrediction)
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("/history", h.notificationHistory)
			notifications.GET("/stats", h.notificationStats)
			notifications.POST("/test", admin, h.testNotification)
		}

		cfg := api.Group("/config")
		{
			cfg.GET("", h.getConfig)
			cfg.PUT("/contacts", admin, h.updateContacts)
			cfg.PUT("/:key", admin, h.updateSetting)
		}
	}

	return r
}

// requestLogger logs each request through the service logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		log := logger.Debug
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("[%s] %s %s %d %v %s",
			c.Request.Method,
			path,
			c.ClientIP(),
			status,
			time.Since(start),
			c.Errors.String(),
		)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
