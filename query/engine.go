// api/query/engine.go
package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/mssola/useragent"

	"luminacorp/api/models"
)

// Reader is the read-side slice of the storage contract the engine consumes.
type Reader interface {
	GetPageViews(ctx context.Context, f models.Filter) ([]models.PageViewEvent, error)
	GetSessions(ctx context.Context, f models.Filter) ([]models.SessionRecord, error)
	GetSystemMetrics(ctx context.Context, f models.Filter) ([]models.SystemMetricEvent, error)
}

// Engine computes dashboard aggregates from raw events at query time. Nothing
// is memoized here; every call recomputes over the filtered dataset so both
// storage backends share one semantics.
type Engine struct {
	store Reader
}

func NewEngine(store Reader) *Engine {
	return &Engine{store: store}
}

// PathCount is one row of a grouped page-view count.
type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// SourceCount is one row of a grouped referrer count.
type SourceCount struct {
	Source string `json:"source"`
	Count  int64  `json:"count"`
}

// NameCount is a generic name/count pair.
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// SystemStats summarizes system metrics over a filter window. All fields are
// zero-valued when no rows match.
type SystemStats struct {
	TotalRequests       int64            `json:"totalRequests"`
	AverageResponseTime float64          `json:"averageResponseTime"`
	ErrorRate           float64          `json:"errorRate"`
	StatusCodes         map[string]int64 `json:"statusCodes"`
}

// TimeBucket is one point of a sparse time series.
type TimeBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// BrowserStats breaks filtered page views down by browser family and
// operating system, derived from the stored user agent.
type BrowserStats struct {
	Browsers         []NameCount `json:"browsers"`
	OperatingSystems []NameCount `json:"operatingSystems"`
}

// Overview composes the headline dashboard numbers.
type Overview struct {
	TotalViews     int64         `json:"totalViews"`
	UniqueVisitors int           `json:"uniqueVisitors"`
	TopPages       []PathCount   `json:"topPages"`
	TopSources     []SourceCount `json:"topSources"`
}

// Supported time-series intervals.
const (
	IntervalHour = "hour"
	IntervalDay  = "day"
	IntervalWeek = "week"
)

// IsValidInterval reports whether interval names a supported bucket size.
func IsValidInterval(interval string) bool {
	switch interval {
	case IntervalHour, IntervalDay, IntervalWeek:
		return true
	default:
		return false
	}
}

// PageViewsByPath groups filtered page views by path, descending by count.
func (e *Engine) PageViewsByPath(ctx context.Context, f models.Filter) ([]PathCount, error) {
	views, err := e.store.GetPageViews(ctx, f)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, v := range views {
		counts[v.Path]++
	}
	out := make([]PathCount, 0, len(counts))
	for path, n := range counts {
		out = append(out, PathCount{Path: path, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// TrafficSources groups filtered page views by referrer. An empty referrer is
// reported as "Direct".
func (e *Engine) TrafficSources(ctx context.Context, f models.Filter) ([]SourceCount, error) {
	views, err := e.store.GetPageViews(ctx, f)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, v := range views {
		src := v.Referrer
		if src == "" {
			src = "Direct"
		}
		counts[src]++
	}
	out := make([]SourceCount, 0, len(counts))
	for src, n := range counts {
		out = append(out, SourceCount{Source: src, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

// UniqueVisitors counts distinct session ids among filtered page views.
func (e *Engine) UniqueVisitors(ctx context.Context, f models.Filter) (int, error) {
	views, err := e.store.GetPageViews(ctx, f)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, v := range views {
		seen[v.SessionID] = struct{}{}
	}
	return len(seen), nil
}

// SystemStats computes request totals, mean response time, error rate and a
// status-code histogram over filtered system metrics.
func (e *Engine) SystemStats(ctx context.Context, f models.Filter) (SystemStats, error) {
	metrics, err := e.store.GetSystemMetrics(ctx, f)
	if err != nil {
		return SystemStats{}, err
	}
	stats := SystemStats{StatusCodes: make(map[string]int64)}
	if len(metrics) == 0 {
		return stats, nil
	}

	var totalTime int64
	var errorCount int64
	for _, m := range metrics {
		totalTime += m.ResponseTimeMs
		if m.StatusCode >= 400 {
			errorCount++
		}
		stats.StatusCodes[strconv.Itoa(m.StatusCode)]++
	}
	stats.TotalRequests = int64(len(metrics))
	stats.AverageResponseTime = round2(float64(totalTime) / float64(len(metrics)))
	stats.ErrorRate = round2(float64(errorCount) / float64(len(metrics)) * 100)
	return stats, nil
}

// TimeSeries buckets filtered page views into calendar-aligned hour, day or
// week buckets. Buckets with zero events are not emitted; keys sort
// ascending.
func (e *Engine) TimeSeries(ctx context.Context, f models.Filter, interval string) ([]TimeBucket, error) {
	if !IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}
	views, err := e.store.GetPageViews(ctx, f)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, v := range views {
		counts[BucketKey(v.TimestampMs, interval)]++
	}
	out := make([]TimeBucket, 0, len(counts))
	for key, n := range counts {
		out = append(out, TimeBucket{Key: key, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// BucketKey maps a millisecond timestamp onto its calendar-aligned bucket key
// in UTC. Weeks start on Sunday.
func BucketKey(tsMs int64, interval string) string {
	t := time.UnixMilli(tsMs).UTC()
	switch interval {
	case IntervalHour:
		return t.Truncate(time.Hour).Format("2006-01-02 15:04")
	case IntervalWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -int(day.Weekday())).Format("2006-01-02")
	default: // day
		return t.Format("2006-01-02")
	}
}

// BrowserStats classifies filtered page views by browser family and OS using
// the stored user agent. Crawlers are grouped under "Bot", unparsable agents
// under "Unknown".
func (e *Engine) BrowserStats(ctx context.Context, f models.Filter) (BrowserStats, error) {
	views, err := e.store.GetPageViews(ctx, f)
	if err != nil {
		return BrowserStats{}, err
	}
	browsers := make(map[string]int64)
	systems := make(map[string]int64)
	for _, v := range views {
		ua := useragent.New(v.UserAgent)
		name, _ := ua.Browser()
		if ua.Bot() {
			name = "Bot"
		}
		if name == "" {
			name = "Unknown"
		}
		browsers[name]++

		os := ua.OS()
		if os == "" {
			os = "Unknown"
		}
		systems[os]++
	}
	return BrowserStats{
		Browsers:         sortedNameCounts(browsers),
		OperatingSystems: sortedNameCounts(systems),
	}, nil
}

// Overview composes total views, unique visitors, and top-5 pages and
// sources for the dashboard headline.
func (e *Engine) Overview(ctx context.Context, f models.Filter) (Overview, error) {
	views, err := e.store.GetPageViews(ctx, f)
	if err != nil {
		return Overview{}, err
	}
	seen := make(map[string]struct{})
	for _, v := range views {
		seen[v.SessionID] = struct{}{}
	}
	pages, err := e.PageViewsByPath(ctx, f)
	if err != nil {
		return Overview{}, err
	}
	sources, err := e.TrafficSources(ctx, f)
	if err != nil {
		return Overview{}, err
	}
	return Overview{
		TotalViews:     int64(len(views)),
		UniqueVisitors: len(seen),
		TopPages:       topN(pages, 5),
		TopSources:     topN(sources, 5),
	}, nil
}

func topN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func sortedNameCounts(counts map[string]int64) []NameCount {
	out := make([]NameCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, NameCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
