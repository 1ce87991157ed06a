package handlers

import (
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/middleware"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/telemetry"
	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires every route onto a gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware(telemetry.ServiceName))
	router.Use(cors.New(corsConfig(h.Config.CORSOrigins)))

	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if h.Config.StorageDriver == "local" {
		// Compiled artifacts are immutable and content addressed.
		artifacts := router.Group("/artifacts", func(c *gin.Context) {
			c.Header("Cache-Control", "public, max-age=31536000, immutable")
			c.Next()
		})
		artifacts.Static("/", h.Config.StorageDir)
	}

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(h.Config.JwtSecret))
	{
		api.GET("/templates", h.ListTemplates)
		api.POST("/rebuilds", h.RebuildFailed)

		projects := api.Group("/projects/:id")
		{
			projects.POST("/turns", h.PostTurn)
			projects.GET("/messages", h.ListMessages)
			projects.GET("/scenes", h.ListScenes)
			projects.POST("/templates", h.InsertTemplate)
			projects.GET("/events", h.ProjectEvents)
		}

		scenes := api.Group("/scenes/:id")
		{
			scenes.GET("", h.GetScene)
			scenes.GET("/component", h.SceneComponent)
			scenes.GET("/iterations", h.SceneIterations)
			scenes.PUT("/code", h.UpdateSceneCode)
			scenes.POST("/rebuild", h.RebuildScene)
		}

		api.GET("/messages/:id/iterations", h.MessageIterations)
		api.POST("/iterations/:id/revert", h.RevertIteration)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"X-Scene-Fallback", "X-Scene-Error-Code"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			// Wildcard origins cannot be combined with credentials.
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
