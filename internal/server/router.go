package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/montignypatrik/facnet-validator-sub009/internal/handlers"
	"github.com/montignypatrik/facnet-validator-sub009/internal/observability"
)

type RouterConfig struct {
	ExtractionHandler *handlers.ExtractionHandler
	StreamHandler     *handlers.StreamHandler
	AllowOrigins      []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(observability.ServiceName))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/extractions", cfg.ExtractionHandler.SubmitExtraction)
		api.GET("/extractions/:id", cfg.ExtractionHandler.GetExtractionStatus)
		api.GET("/extractions/:id/stream", cfg.StreamHandler.StreamExtraction)
		api.GET("/extractions/:id/candidates", cfg.ExtractionHandler.ListCandidates)
		api.POST("/extractions/:id/cancel", cfg.ExtractionHandler.CancelExtraction)
		api.POST("/extractions/:id/export", cfg.ExtractionHandler.ExportExtraction)
		api.POST("/candidates/:id/toggle-exclusion", cfg.ExtractionHandler.ToggleCandidateExclusion)
	}

	return router
}
