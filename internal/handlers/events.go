package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/veilmail/webhook-receiver/internal/store"
)

// Pagination bounds enforced at the HTTP layer.
const (
	minLimit = 1
	maxLimit = 1000
)

// RegisterEventRoutes registers the serving-path endpoint.
//
// GET /events?type=...&limit=...&offset=...
// - type filters on exact event_type match
// - limit defaults to 50 and is clamped to [1, 1000]
// - offset defaults to 0 and is clamped to >= 0
// - invalid integers fall back to the defaults, never an error
func RegisterEventRoutes(r gin.IRoutes, st store.Store, logger zerolog.Logger) {
	r.GET("/events", func(c *gin.Context) {
		filter := store.QueryFilter{
			Type:   c.Query("type"),
			Limit:  clampQueryInt(c.Query("limit"), store.DefaultLimit, minLimit, maxLimit),
			Offset: clampQueryInt(c.Query("offset"), 0, 0, math.MaxInt),
		}

		events, err := st.Query(c.Request.Context(), filter)
		if err != nil {
			logger.Error().Err(err).Msg("event query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"count":  len(events),
		})
	})
}

// clampQueryInt parses a query-string integer, substituting def when the
// value is missing or malformed, then clamps the result to [min, max].
func clampQueryInt(raw string, def, min, max int) int {
	n, err := strconv.Atoi(raw)
	if raw == "" || err != nil {
		n = def
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}
