package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"luminacorp/api/models"
)

func newTestStore(maxSize int) *MemoryStore {
	return NewMemoryStore(maxSize, nil, false, time.Hour, zerolog.Nop())
}

func pv(session, path string) models.PageViewInput {
	return models.PageViewInput{SessionID: session, Path: path, ClientIP: "10.0.0.1", UserAgent: "ua"}
}

func TestRecordPageView_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(10)

	ev, err := s.RecordPageView(context.Background(), pv("s1", "/about-us"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("expected backend-assigned id")
	}
	if ev.TimestampMs == 0 {
		t.Fatalf("expected backend-assigned timestamp")
	}
}

func TestRecordPageView_CreatesAndUpdatesSession(t *testing.T) {
	s := newTestStore(10)
	ctx := context.Background()

	s.RecordPageView(ctx, pv("s1", "/"))
	s.RecordPageView(ctx, pv("s1", "/about-us"))
	s.RecordPageView(ctx, pv("s2", "/"))

	sessions, err := s.GetSessions(ctx, models.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, sess := range sessions {
		switch sess.ID {
		case "s1":
			if sess.PageViewCount != 2 {
				t.Fatalf("s1: expected pageViewCount=2, got %d", sess.PageViewCount)
			}
			if sess.LastActivityMs < sess.StartTimeMs {
				t.Fatalf("s1: lastActivity before startTime")
			}
		case "s2":
			if sess.PageViewCount != 1 {
				t.Fatalf("s2: expected pageViewCount=1, got %d", sess.PageViewCount)
			}
		default:
			t.Fatalf("unexpected session %s", sess.ID)
		}
	}
}

func TestRecordPageView_FIFOBound(t *testing.T) {
	const maxSize = 5
	s := newTestStore(maxSize)
	ctx := context.Background()

	var first models.PageViewEvent
	for i := 0; i < maxSize+1; i++ {
		ev, _ := s.RecordPageView(ctx, pv("s1", "/page"))
		if i == 0 {
			first = ev
		}
	}

	views, _ := s.GetPageViews(ctx, models.Filter{})
	if len(views) != maxSize {
		t.Fatalf("expected %d retained views, got %d", maxSize, len(views))
	}
	for _, v := range views {
		if v.ID == first.ID {
			t.Fatalf("oldest event should have been evicted")
		}
	}
}

func TestRecordSystemMetric_FIFOBound(t *testing.T) {
	const maxSize = 3
	s := newTestStore(maxSize)
	ctx := context.Background()

	for i := 0; i < maxSize+2; i++ {
		s.RecordSystemMetric(ctx, models.SystemMetricInput{Path: "/api", Method: "GET", StatusCode: 200})
	}

	metrics, _ := s.GetSystemMetrics(ctx, models.Filter{})
	if len(metrics) != maxSize {
		t.Fatalf("expected %d retained metrics, got %d", maxSize, len(metrics))
	}
}

func TestGetPageViews_Filter(t *testing.T) {
	s := newTestStore(10)
	ctx := context.Background()

	a, _ := s.RecordPageView(ctx, pv("s1", "/a"))
	s.RecordPageView(ctx, pv("s1", "/b"))

	byPath, _ := s.GetPageViews(ctx, models.Filter{Path: "/a"})
	if len(byPath) != 1 || byPath[0].Path != "/a" {
		t.Fatalf("path filter failed: %+v", byPath)
	}

	after, _ := s.GetPageViews(ctx, models.Filter{StartMs: a.TimestampMs})
	if len(after) != 2 {
		t.Fatalf("expected 2 views at or after first timestamp, got %d", len(after))
	}

	none, _ := s.GetPageViews(ctx, models.Filter{EndMs: a.TimestampMs - 1})
	if len(none) != 0 {
		t.Fatalf("expected 0 views before first timestamp, got %d", len(none))
	}
}

func TestGetSessions_IgnoresPathFilter(t *testing.T) {
	s := newTestStore(10)
	ctx := context.Background()

	s.RecordPageView(ctx, pv("s1", "/a"))

	sessions, _ := s.GetSessions(ctx, models.Filter{Path: "/does-not-exist"})
	if len(sessions) != 1 {
		t.Fatalf("path must not constrain sessions, got %d", len(sessions))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(10)
	ctx := context.Background()

	s.RecordPageView(ctx, pv("s1", "/a"))
	s.RecordSystemMetric(ctx, models.SystemMetricInput{Path: "/api", Method: "GET", StatusCode: 200})

	cutoff := time.Now().UnixMilli() + 1000

	n, err := s.DeletePageViewsOlderThan(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 page view deleted, got %d err=%v", n, err)
	}
	n, err = s.DeleteSessionsOlderThan(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 session deleted, got %d err=%v", n, err)
	}
	n, err = s.DeleteSystemMetricsOlderThan(ctx, cutoff)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 metric deleted, got %d err=%v", n, err)
	}

	// Second pass has nothing left to remove.
	n, _ = s.DeletePageViewsOlderThan(ctx, cutoff)
	if n != 0 {
		t.Fatalf("expected 0 on second delete, got %d", n)
	}
}

func TestSweep_ArchivesBeforeDeleting(t *testing.T) {
	expired := func() models.RetentionPolicy {
		return models.RetentionPolicy{
			PageViewRetentionDays: -1,
			SessionRetentionDays:  -1,
			MetricRetentionDays:   -1,
		}
	}
	s := NewMemoryStore(10, expired, true, time.Hour, zerolog.Nop())
	ctx := context.Background()

	s.RecordPageView(ctx, pv("s1", "/about-us"))
	s.RecordPageView(ctx, pv("s2", "/about-us"))

	s.sweep()

	views, _ := s.GetPageViews(ctx, models.Filter{})
	if len(views) != 0 {
		t.Fatalf("expected expired views removed, got %d", len(views))
	}
	records, _ := s.GetArchiveRecords(ctx)
	if len(records) != 1 {
		t.Fatalf("expected 1 archive row from the sweep, got %d", len(records))
	}
	if records[0].ViewCount != 2 || records[0].UniqueSessionCount != 2 {
		t.Fatalf("unexpected archive row: %+v", records[0])
	}
}

func TestSweep_NoArchiveWhenDisabled(t *testing.T) {
	expired := func() models.RetentionPolicy {
		return models.RetentionPolicy{PageViewRetentionDays: -1, SessionRetentionDays: -1, MetricRetentionDays: -1}
	}
	s := NewMemoryStore(10, expired, false, time.Hour, zerolog.Nop())
	ctx := context.Background()

	s.RecordPageView(ctx, pv("s1", "/about-us"))
	s.sweep()

	records, _ := s.GetArchiveRecords(ctx)
	if len(records) != 0 {
		t.Fatalf("archival disabled, got %d archive rows", len(records))
	}
}

func TestArchivePageViews_AggregatesAndIsIdempotent(t *testing.T) {
	s := newTestStore(10)
	ctx := context.Background()

	s.RecordPageView(ctx, pv("s1", "/about-us"))
	s.RecordPageView(ctx, pv("s1", "/about-us"))
	s.RecordPageView(ctx, pv("s2", "/about-us"))
	s.RecordPageView(ctx, pv("s2", "/contacts"))

	cutoff := time.Now().UnixMilli() + int64(time.Hour/time.Millisecond)

	n, err := s.ArchivePageViews(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 archive rows, got %d", n)
	}

	records, _ := s.GetArchiveRecords(ctx)
	for _, rec := range records {
		switch rec.Path {
		case "/about-us":
			if rec.ViewCount != 3 || rec.UniqueSessionCount != 2 {
				t.Fatalf("/about-us: got views=%d sessions=%d", rec.ViewCount, rec.UniqueSessionCount)
			}
		case "/contacts":
			if rec.ViewCount != 1 || rec.UniqueSessionCount != 1 {
				t.Fatalf("/contacts: got views=%d sessions=%d", rec.ViewCount, rec.UniqueSessionCount)
			}
		default:
			t.Fatalf("unexpected archive path %s", rec.Path)
		}
	}

	// Re-running over the same window archives nothing new.
	n, err = s.ArchivePageViews(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected idempotent second run, archived %d", n)
	}
}
