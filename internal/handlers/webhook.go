package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veilmail/webhook-receiver/internal/auth"
	"github.com/veilmail/webhook-receiver/internal/models"
	"github.com/veilmail/webhook-receiver/internal/store"
)

// RegisterWebhookRoutes registers the ingestion-path endpoint.
//
// POST /webhook
// - Requires a valid X-Veilmail-Signature over the raw body
// - Durable: returns success only after the storage write completes
// - Idempotent: duplicate event ids are silent no-ops in storage
func RegisterWebhookRoutes(r gin.IRoutes, st store.Store, secret string, logger zerolog.Logger) {
	r.POST("/webhook", auth.SignatureMiddleware(secret), func(c *gin.Context) {
		body := auth.RawBody(c)

		// The signature covered the raw bytes; only now do we care
		// whether they decode as a JSON object.
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		ev := models.Normalize(payload, time.Now().UTC())

		if err := st.Insert(c.Request.Context(), ev); err != nil {
			logger.Error().Err(err).Str("event_id", ev.EventID).Msg("event insert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true, "id": ev.ID})
	})
}
