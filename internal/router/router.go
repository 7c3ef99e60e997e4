package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartmetal/internal/config"
	"smartmetal/internal/handler"
	"smartmetal/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	cfg *config.Config,
	extractionH *handler.ExtractionHandler,
	healthH *handler.HealthHandler,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.BodyLimit(cfg.Server.MaxBodyMB << 20))

	extractions := v1.Group("/extractions")
	extractions.POST("", extractionH.Extract)
	extractions.POST("/from-storage", extractionH.ExtractFromStorage)
	extractions.POST("/export", extractionH.Export)
	extractions.GET("/runs", extractionH.ListRuns)
	extractions.GET("/runs/:id", extractionH.GetRun)

	return r
}
