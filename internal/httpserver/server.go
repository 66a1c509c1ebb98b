package httpserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veilmail/webhook-receiver/internal/config"
	"github.com/veilmail/webhook-receiver/internal/handlers"
	"github.com/veilmail/webhook-receiver/internal/store"
)

// NewRouter wires the three fixed routes to the active storage backend.
//
//	POST /webhook  signed ingestion
//	GET  /events   filtered, paginated retrieval
//	GET  /health   process status, no storage access
//
// Everything else is a 404. The router holds no state of its own; one
// Store instance is shared by all concurrent requests.
func NewRouter(cfg config.Config, st store.Store, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness only: reports which backend is active but never touches
	// its insert/query paths.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  st.Kind(),
		})
	})

	handlers.RegisterWebhookRoutes(r, st, cfg.Secret, logger)
	handlers.RegisterEventRoutes(r, st, logger)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	return r
}
