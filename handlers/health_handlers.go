// api/handlers/health_handlers.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"luminacorp/api/buffer"
	"luminacorp/api/cache"
	"luminacorp/api/store"
)

// HealthHandlers reports liveness of the pipeline: storage reachability,
// buffer depth and cache counters.
type HealthHandlers struct {
	Store  store.Store
	Buffer *buffer.Buffer // nil when batching is disabled
	Cache  *cache.Cache
}

func NewHealthHandlers(st store.Store, buf *buffer.Buffer, ch *cache.Cache) *HealthHandlers {
	return &HealthHandlers{Store: st, Buffer: buf, Cache: ch}
}

func (h *HealthHandlers) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	if err := h.Store.Ping(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["storage"] = string(store.KindOf(err))
	}
	if h.Buffer != nil {
		body["bufferSize"] = h.Buffer.Size()
	}
	if h.Cache != nil {
		body["cache"] = h.Cache.Stats()
	}
	c.JSON(status, body)
}
