package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kurihiro0119/search-conflict-checker/internal/logger"
	"github.com/kurihiro0119/search-conflict-checker/internal/metrics"
)

// SetupRoutes sets up the API routes. m and g may be nil, which disables
// request metrics and the /metrics endpoint.
func SetupRoutes(handler *Handler, log *logger.Logger, m *metrics.Metrics, g prometheus.Gatherer) *gin.Engine {
	if log == nil {
		log = logger.Discard()
	}

	router := gin.New()

	// Middleware
	router.Use(RequestID())
	router.Use(Logger(log))
	router.Use(Recovery(log))
	router.Use(CORS())
	if m != nil {
		router.Use(Metrics(m))
	}

	// Health check
	router.GET("/health", handler.HealthCheck)

	if g != nil {
		router.GET("/metrics", PrometheusHandler(g))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		checks := v1.Group("/checks")
		{
			checks.POST("", handler.CreateCheck)
			checks.GET("", handler.ListChecks)
			checks.GET("/:id", handler.GetCheck)
		}

		v1.GET("/urls/history", handler.GetURLHistory)
	}

	return router
}
