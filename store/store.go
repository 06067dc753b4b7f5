// api/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"luminacorp/api/models"
)

// MaxQueryRows caps every read so one dashboard call cannot drag an unbounded
// result set across the wire.
const MaxQueryRows = 10000

// Store is the single persistence contract shared by the ephemeral and
// relational backends. The backend is chosen once at startup; callers never
// learn which one they talk to.
type Store interface {
	RecordPageView(ctx context.Context, in models.PageViewInput) (models.PageViewEvent, error)
	RecordPageViews(ctx context.Context, in []models.PageViewInput) (int, error)
	RecordSystemMetric(ctx context.Context, in models.SystemMetricInput) (models.SystemMetricEvent, error)

	GetPageViews(ctx context.Context, f models.Filter) ([]models.PageViewEvent, error)
	GetSessions(ctx context.Context, f models.Filter) ([]models.SessionRecord, error)
	GetSystemMetrics(ctx context.Context, f models.Filter) ([]models.SystemMetricEvent, error)

	DeletePageViewsOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
	DeleteSessionsOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
	DeleteSystemMetricsOlderThan(ctx context.Context, cutoffMs int64) (int64, error)

	// ArchivePageViews aggregates page views older than the cutoff into daily
	// (date, path) archive rows, skipping pairs already archived. Idempotent.
	ArchivePageViews(ctx context.Context, cutoffMs int64) (int64, error)
	GetArchiveRecords(ctx context.Context) ([]models.ArchiveRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrorKind classifies backend failures so callers can react differently to a
// refused connection than to a missing table.
type ErrorKind string

const (
	KindConnRefused   ErrorKind = "connection_refused"
	KindAuthFailed    ErrorKind = "authentication_failed"
	KindSchemaMissing ErrorKind = "schema_missing"
	KindTimeout       ErrorKind = "timeout"
	KindUnknown       ErrorKind = "unknown"
)

// BackendError wraps a storage failure with its classification and the
// operation that produced it.
type BackendError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("storage %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Classify wraps err as a BackendError, mapping driver and transport errors
// onto the error taxonomy. A nil err returns nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "28000", "28P01": // invalid_authorization_specification, invalid_password
			return KindAuthFailed
		case "3D000", "42P01": // invalid_catalog_name, undefined_table
			return KindSchemaMissing
		case "57014": // query_canceled
			return KindTimeout
		}
		return KindUnknown
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnRefused
	}
	if strings.Contains(err.Error(), "connection refused") {
		return KindConnRefused
	}
	return KindUnknown
}

// KindOf returns the classification of err, or KindUnknown when err is not a
// BackendError.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}
