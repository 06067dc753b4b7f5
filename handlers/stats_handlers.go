// api/handlers/stats_handlers.go
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"luminacorp/api/cache"
	"luminacorp/api/models"
	"luminacorp/api/query"
	"luminacorp/api/store"
)

// StatsHandlers serves the dashboard query interface. Results go through the
// cache layer unless caching is disabled or the request asks for a bypass.
type StatsHandlers struct {
	Engine       *query.Engine
	Store        store.Store
	Cache        *cache.Cache
	CacheTTL     time.Duration
	CacheEnabled bool
	log          zerolog.Logger
}

func NewStatsHandlers(engine *query.Engine, st store.Store, ch *cache.Cache, ttl time.Duration, enabled bool, log zerolog.Logger) *StatsHandlers {
	return &StatsHandlers{
		Engine:       engine,
		Store:        st,
		Cache:        ch,
		CacheTTL:     ttl,
		CacheEnabled: enabled,
		log:          log,
	}
}

// GetStats dispatches on the type parameter. A failed query returns an
// explicit error body, never an empty result set.
func (h *StatsHandlers) GetStats(c *gin.Context) {
	qtype := c.Query("type")

	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interval := c.DefaultQuery("interval", query.IntervalDay)
	if qtype == "timeseries" && !query.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval must be one of hour, day, week"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	producer := h.producerFor(ctx, qtype, f, interval)
	if producer == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stats type: " + qtype})
		return
	}

	key := cache.BuildKey("stats:"+qtype, filterParams(f, qtype, interval))

	var result any
	var status cache.Status
	switch {
	case !h.CacheEnabled:
		result, err = producer()
	case bypassRequested(c):
		status = cache.Bypassed
		result, err = h.Cache.Bypass(key, h.CacheTTL, producer)
	default:
		result, status, err = h.Cache.CachedQuery(key, h.CacheTTL, producer)
	}
	if err != nil {
		h.log.Error().Err(err).Str("type", qtype).Msg("stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve statistics"})
		return
	}

	// No header when caching is off; the request never touched the cache.
	if status != "" {
		c.Header("X-Cache", string(status))
	}
	c.JSON(http.StatusOK, result)
}

// producerFor returns the computation for the requested stats type, or nil
// when the type is unknown.
func (h *StatsHandlers) producerFor(ctx context.Context, qtype string, f models.Filter, interval string) func() (any, error) {
	switch qtype {
	case "overview":
		return func() (any, error) { return h.Engine.Overview(ctx, f) }
	case "pages":
		return func() (any, error) { return h.Engine.PageViewsByPath(ctx, f) }
	case "sources":
		return func() (any, error) { return h.Engine.TrafficSources(ctx, f) }
	case "pageviews":
		return func() (any, error) { return h.Store.GetPageViews(ctx, f) }
	case "sessions":
		return func() (any, error) { return h.Store.GetSessions(ctx, f) }
	case "system":
		return func() (any, error) { return h.Engine.SystemStats(ctx, f) }
	case "timeseries":
		return func() (any, error) { return h.Engine.TimeSeries(ctx, f, interval) }
	case "browsers":
		return func() (any, error) { return h.Engine.BrowserStats(ctx, f) }
	default:
		return nil
	}
}

// parseFilter reads startDate/endDate (epoch milliseconds, inclusive) and
// path from the query string.
func parseFilter(c *gin.Context) (models.Filter, error) {
	var f models.Filter
	if v := c.Query("startDate"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("startDate must be epoch milliseconds")
		}
		f.StartMs = ms
	}
	if v := c.Query("endDate"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("endDate must be epoch milliseconds")
		}
		f.EndMs = ms
	}
	f.Path = c.Query("path")
	return f, nil
}

func filterParams(f models.Filter, qtype, interval string) map[string]string {
	params := make(map[string]string)
	if f.StartMs != 0 {
		params["startDate"] = strconv.FormatInt(f.StartMs, 10)
	}
	if f.EndMs != 0 {
		params["endDate"] = strconv.FormatInt(f.EndMs, 10)
	}
	if f.Path != "" {
		params["path"] = f.Path
	}
	if qtype == "timeseries" {
		params["interval"] = interval
	}
	return params
}

// bypassRequested honors both the no-cache directive and the explicit query
// parameter.
func bypassRequested(c *gin.Context) bool {
	if c.Query("nocache") == "1" {
		return true
	}
	return strings.Contains(c.GetHeader("Cache-Control"), "no-cache")
}
