// api/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"luminacorp/api/models"
)

// DB is the narrow slice of *sql.DB the relational store needs. Tests swap in
// a fake.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
}

// PostgresStore is the relational backend. Every write runs in a transaction
// that upserts the session row alongside the event insert, and every
// statement carries the configured timeout.
type PostgresStore struct {
	db          DB
	stmtTimeout time.Duration
	log         zerolog.Logger
}

func NewPostgresStore(db DB, stmtTimeout time.Duration, log zerolog.Logger) *PostgresStore {
	if stmtTimeout <= 0 {
		stmtTimeout = 10 * time.Second
	}
	return &PostgresStore{db: db, stmtTimeout: stmtTimeout, log: log}
}

// InitSchema creates the four telemetry tables if they do not exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS page_views (
			id UUID PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			path VARCHAR(500) NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			client_ip VARCHAR(45) NOT NULL DEFAULT '',
			user_agent VARCHAR(500) NOT NULL DEFAULT '',
			referrer VARCHAR(500) NOT NULL DEFAULT '',
			time_on_page_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_page_views_timestamp ON page_views (timestamp_ms)`,
		`CREATE TABLE IF NOT EXISTS visitor_sessions (
			id VARCHAR(255) PRIMARY KEY,
			start_time_ms BIGINT NOT NULL,
			last_activity_ms BIGINT NOT NULL,
			page_view_count BIGINT NOT NULL DEFAULT 0,
			client_ip VARCHAR(45) NOT NULL DEFAULT '',
			user_agent VARCHAR(500) NOT NULL DEFAULT '',
			referrer VARCHAR(500) NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS system_metrics (
			id UUID PRIMARY KEY,
			timestamp_ms BIGINT NOT NULL,
			path VARCHAR(500) NOT NULL DEFAULT '',
			method VARCHAR(10) NOT NULL DEFAULT '',
			status_code INT NOT NULL DEFAULT 0,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			error VARCHAR(500) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_metrics_timestamp ON system_metrics (timestamp_ms)`,
		`CREATE TABLE IF NOT EXISTS page_views_archive (
			date VARCHAR(10) NOT NULL,
			path VARCHAR(500) NOT NULL,
			view_count BIGINT NOT NULL DEFAULT 0,
			unique_session_count BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT page_views_archive_date_path_key UNIQUE (date, path)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return Classify("init schema", err)
		}
	}
	return nil
}

const upsertSessionSQL = `
	INSERT INTO visitor_sessions (id, start_time_ms, last_activity_ms, page_view_count, client_ip, user_agent, referrer)
	VALUES ($1, $2, $2, 1, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		last_activity_ms = EXCLUDED.last_activity_ms,
		page_view_count = visitor_sessions.page_view_count + 1`

const insertPageViewSQL = `
	INSERT INTO page_views (id, session_id, path, timestamp_ms, client_ip, user_agent, referrer, time_on_page_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (s *PostgresStore) RecordPageView(ctx context.Context, in models.PageViewInput) (models.PageViewEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ev := models.PageViewEvent{
		ID:           uuid.New().String(),
		SessionID:    in.SessionID,
		Path:         in.Path,
		TimestampMs:  time.Now().UnixMilli(),
		ClientIP:     in.ClientIP,
		UserAgent:    in.UserAgent,
		Referrer:     in.Referrer,
		TimeOnPageMs: in.TimeOnPageMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.PageViewEvent{}, Classify("record page view", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertSessionSQL,
		ev.SessionID, ev.TimestampMs, ev.ClientIP, ev.UserAgent, ev.Referrer); err != nil {
		return models.PageViewEvent{}, Classify("record page view", err)
	}
	if _, err := tx.ExecContext(ctx, insertPageViewSQL,
		ev.ID, ev.SessionID, ev.Path, ev.TimestampMs, ev.ClientIP, ev.UserAgent, ev.Referrer, ev.TimeOnPageMs); err != nil {
		return models.PageViewEvent{}, Classify("record page view", err)
	}
	if err := tx.Commit(); err != nil {
		return models.PageViewEvent{}, Classify("record page view", err)
	}
	return ev, nil
}

// RecordPageViews writes a batch as one transaction: a session upsert per
// event followed by a single multi-row insert for throughput.
func (s *PostgresStore) RecordPageViews(ctx context.Context, in []models.PageViewInput) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, Classify("record page view batch", err)
	}
	defer tx.Rollback()

	query, args := buildBatchInsert(in, now)
	for _, ev := range in {
		if _, err := tx.ExecContext(ctx, upsertSessionSQL,
			ev.SessionID, now, ev.ClientIP, ev.UserAgent, ev.Referrer); err != nil {
			return 0, Classify("record page view batch", err)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, Classify("record page view batch", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, Classify("record page view batch", err)
	}
	return len(in), nil
}

// buildBatchInsert renders a multi-row INSERT ... VALUES ($1,..),($9,..)
// statement with its positional arguments.
func buildBatchInsert(in []models.PageViewInput, tsMs int64) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO page_views (id, session_id, path, timestamp_ms, client_ip, user_agent, referrer, time_on_page_ms) VALUES `)

	args := make([]any, 0, len(in)*8)
	for i, ev := range in {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 8
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, uuid.New().String(), ev.SessionID, ev.Path, tsMs,
			ev.ClientIP, ev.UserAgent, ev.Referrer, ev.TimeOnPageMs)
	}
	return b.String(), args
}

func (s *PostgresStore) RecordSystemMetric(ctx context.Context, in models.SystemMetricInput) (models.SystemMetricEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ev := models.SystemMetricEvent{
		ID:             uuid.New().String(),
		TimestampMs:    time.Now().UnixMilli(),
		Path:           in.Path,
		Method:         in.Method,
		StatusCode:     in.StatusCode,
		ResponseTimeMs: in.ResponseTimeMs,
		Error:          in.Error,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metrics (id, timestamp_ms, path, method, status_code, response_time_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.TimestampMs, ev.Path, ev.Method, ev.StatusCode, ev.ResponseTimeMs, ev.Error)
	if err != nil {
		return models.SystemMetricEvent{}, Classify("record system metric", err)
	}
	return ev, nil
}

// buildFilter renders the WHERE clause for a filter against the given
// timestamp column. Conditions are added incrementally; an empty filter
// yields an empty clause.
func buildFilter(f models.Filter, tsCol string) (string, []any) {
	var conds []string
	var args []any
	if f.StartMs != 0 {
		args = append(args, f.StartMs)
		conds = append(conds, fmt.Sprintf("%s >= $%d", tsCol, len(args)))
	}
	if f.EndMs != 0 {
		args = append(args, f.EndMs)
		conds = append(conds, fmt.Sprintf("%s <= $%d", tsCol, len(args)))
	}
	if f.Path != "" {
		args = append(args, f.Path)
		conds = append(conds, fmt.Sprintf("path = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) GetPageViews(ctx context.Context, f models.Filter) ([]models.PageViewEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where, args := buildFilter(f, "timestamp_ms")
	query := fmt.Sprintf(`
		SELECT id, session_id, path, timestamp_ms, client_ip, user_agent, referrer, time_on_page_ms
		FROM page_views%s
		ORDER BY timestamp_ms ASC
		LIMIT %d`, where, MaxQueryRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("get page views", err)
	}
	defer rows.Close()

	out := make([]models.PageViewEvent, 0)
	for rows.Next() {
		var ev models.PageViewEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Path, &ev.TimestampMs,
			&ev.ClientIP, &ev.UserAgent, &ev.Referrer, &ev.TimeOnPageMs); err != nil {
			return nil, Classify("get page views", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("get page views", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSessions(ctx context.Context, f models.Filter) ([]models.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	f.Path = "" // sessions have no path
	where, args := buildFilter(f, "last_activity_ms")
	query := fmt.Sprintf(`
		SELECT id, start_time_ms, last_activity_ms, page_view_count, client_ip, user_agent, referrer
		FROM visitor_sessions%s
		ORDER BY last_activity_ms ASC
		LIMIT %d`, where, MaxQueryRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("get sessions", err)
	}
	defer rows.Close()

	out := make([]models.SessionRecord, 0)
	for rows.Next() {
		var sess models.SessionRecord
		if err := rows.Scan(&sess.ID, &sess.StartTimeMs, &sess.LastActivityMs,
			&sess.PageViewCount, &sess.ClientIP, &sess.UserAgent, &sess.Referrer); err != nil {
			return nil, Classify("get sessions", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("get sessions", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSystemMetrics(ctx context.Context, f models.Filter) ([]models.SystemMetricEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	where, args := buildFilter(f, "timestamp_ms")
	query := fmt.Sprintf(`
		SELECT id, timestamp_ms, path, method, status_code, response_time_ms, error
		FROM system_metrics%s
		ORDER BY timestamp_ms ASC
		LIMIT %d`, where, MaxQueryRows)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify("get system metrics", err)
	}
	defer rows.Close()

	out := make([]models.SystemMetricEvent, 0)
	for rows.Next() {
		var ev models.SystemMetricEvent
		if err := rows.Scan(&ev.ID, &ev.TimestampMs, &ev.Path, &ev.Method,
			&ev.StatusCode, &ev.ResponseTimeMs, &ev.Error); err != nil {
			return nil, Classify("get system metrics", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("get system metrics", err)
	}
	return out, nil
}

func (s *PostgresStore) DeletePageViewsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	return s.deleteOlderThan(ctx, "page_views", "timestamp_ms", cutoffMs)
}

func (s *PostgresStore) DeleteSessionsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	return s.deleteOlderThan(ctx, "visitor_sessions", "last_activity_ms", cutoffMs)
}

func (s *PostgresStore) DeleteSystemMetricsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	return s.deleteOlderThan(ctx, "system_metrics", "timestamp_ms", cutoffMs)
}

func (s *PostgresStore) deleteOlderThan(ctx context.Context, table, tsCol string, cutoffMs int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s < $1", table, tsCol), cutoffMs)
	if err != nil {
		return 0, Classify("delete "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, Classify("delete "+table, err)
	}
	return n, nil
}

// ArchivePageViews rolls page views older than the cutoff into daily
// (date, path) archive rows. Pairs already archived are left untouched, which
// makes repeated runs over the same window a no-op.
func (s *PostgresStore) ArchivePageViews(ctx context.Context, cutoffMs int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO page_views_archive (date, path, view_count, unique_session_count)
		SELECT to_char(to_timestamp(timestamp_ms / 1000.0) AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS date,
		       path, COUNT(*), COUNT(DISTINCT session_id)
		FROM page_views
		WHERE timestamp_ms < $1
		GROUP BY 1, 2
		ON CONFLICT (date, path) DO NOTHING`, cutoffMs)
	if err != nil {
		return 0, Classify("archive page views", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, Classify("archive page views", err)
	}
	return n, nil
}

func (s *PostgresStore) GetArchiveRecords(ctx context.Context) ([]models.ArchiveRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, path, view_count, unique_session_count
		FROM page_views_archive
		ORDER BY date ASC, path ASC`)
	if err != nil {
		return nil, Classify("get archive records", err)
	}
	defer rows.Close()

	out := make([]models.ArchiveRecord, 0)
	for rows.Next() {
		var rec models.ArchiveRecord
		if err := rows.Scan(&rec.Date, &rec.Path, &rec.ViewCount, &rec.UniqueSessionCount); err != nil {
			return nil, Classify("get archive records", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("get archive records", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return Classify("ping", s.db.PingContext(ctx))
}

// Close is a no-op; the connection pool is owned by database.DBClient.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.stmtTimeout)
}
