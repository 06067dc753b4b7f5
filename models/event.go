// api/models/event.go
package models

import "unicode/utf8"

// Field length limits enforced at the capture boundary. Over-length values are
// truncated before persistence, never rejected.
const (
	MaxPathLen      = 500
	MaxIPLen        = 45
	MaxUserAgentLen = 500
	MaxReferrerLen  = 500
	MaxSessionIDLen = 255
)

// PageViewEvent is one recorded visit to a path by a session. Immutable once
// stored; ID and TimestampMs are assigned by the storage backend at write time.
type PageViewEvent struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionId"`
	Path         string `json:"path"`
	TimestampMs  int64  `json:"timestampMs"`
	ClientIP     string `json:"clientIp"`
	UserAgent    string `json:"userAgent"`
	Referrer     string `json:"referrer"`
	TimeOnPageMs int64  `json:"timeOnPageMs,omitempty"`
}

// SessionRecord groups consecutive page views from one visitor. The session id
// is a caller-supplied opaque token; it is not validated for authenticity.
type SessionRecord struct {
	ID             string `json:"id"`
	StartTimeMs    int64  `json:"startTimeMs"`
	LastActivityMs int64  `json:"lastActivityMs"`
	PageViewCount  int64  `json:"pageViewCount"`
	ClientIP       string `json:"clientIp"`
	UserAgent      string `json:"userAgent"`
	Referrer       string `json:"referrer"`
}

// SystemMetricEvent is one recorded outcome of a backend request, independent
// of visitor sessions.
type SystemMetricEvent struct {
	ID             string `json:"id"`
	TimestampMs    int64  `json:"timestampMs"`
	Path           string `json:"path"`
	Method         string `json:"method"`
	StatusCode     int    `json:"statusCode"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Error          string `json:"error,omitempty"`
}

// ArchiveRecord is a pre-aggregated daily summary kept after raw page views
// are deleted. One row per (date, path) pair; counts only ever accumulate.
type ArchiveRecord struct {
	Date               string `json:"date"`
	Path               string `json:"path"`
	ViewCount          int64  `json:"viewCount"`
	UniqueSessionCount int64  `json:"uniqueSessionCount"`
}

// PageViewInput is what the capture boundary hands to storage. The backend
// assigns id and timestamp on write.
type PageViewInput struct {
	SessionID    string `json:"sessionId"`
	Path         string `json:"path"`
	ClientIP     string `json:"ip"`
	UserAgent    string `json:"userAgent"`
	Referrer     string `json:"referrer"`
	TimeOnPageMs int64  `json:"timeOnPageMs,omitempty"`
}

// Sanitize truncates over-length fields in place.
func (in *PageViewInput) Sanitize() {
	in.SessionID = truncate(in.SessionID, MaxSessionIDLen)
	in.Path = truncate(in.Path, MaxPathLen)
	in.ClientIP = truncate(in.ClientIP, MaxIPLen)
	in.UserAgent = truncate(in.UserAgent, MaxUserAgentLen)
	in.Referrer = truncate(in.Referrer, MaxReferrerLen)
}

// SystemMetricInput is the write-side shape of a system metric.
type SystemMetricInput struct {
	Path           string `json:"path"`
	Method         string `json:"method"`
	StatusCode     int    `json:"statusCode"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Error          string `json:"error,omitempty"`
}

func (in *SystemMetricInput) Sanitize() {
	in.Path = truncate(in.Path, MaxPathLen)
	in.Error = truncate(in.Error, MaxUserAgentLen)
}

// Filter narrows reads by inclusive timestamp range and exact path. Zero
// values mean "no constraint".
type Filter struct {
	StartMs int64
	EndMs   int64
	Path    string
}

// Matches reports whether a record timestamp and path fall inside the filter.
func (f Filter) Matches(ts int64, path string) bool {
	if f.StartMs != 0 && ts < f.StartMs {
		return false
	}
	if f.EndMs != 0 && ts > f.EndMs {
		return false
	}
	if f.Path != "" && path != f.Path {
		return false
	}
	return true
}

// RetentionPolicy is a pure value object recomputed from configuration
// toggles at call time; it is never persisted.
type RetentionPolicy struct {
	PageViewRetentionDays int
	SessionRetentionDays  int
	MetricRetentionDays   int
}

// truncate cuts s to at most max bytes without splitting a rune; a cut that
// lands mid-sequence backs off to the previous boundary so the result stays
// valid UTF-8 for backends that enforce encoding.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
