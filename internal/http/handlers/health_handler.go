package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse reports the reachability of both storage tiers.
type HealthResponse struct {
	Success          bool `json:"success" example:"true"`
	CacheConnected   bool `json:"cacheConnected"`
	DurableConnected bool `json:"durableConnected"`
}

// Health godoc
// @ID          health
// @Summary     Storage health
// @Description Probes the cache and the durable store concurrently. Always 200; inspect the flags.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.HealthResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	st := h.store.Health(c.Request.Context())
	ok(c, http.StatusOK, HealthResponse{
		Success:          true,
		CacheConnected:   st.CacheConnected,
		DurableConnected: st.DurableConnected,
	})
}
