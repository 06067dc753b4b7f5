// api/store/memory.go
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"luminacorp/api/models"
)

// PolicyFunc produces the retention policy in force right now. It is invoked
// on every sweep so configuration toggles take effect on the next run.
type PolicyFunc func() models.RetentionPolicy

// MemoryStore keeps everything in bounded process-local collections. Each
// event collection holds at most maxSize entries; inserting past the bound
// evicts the oldest entry first.
type MemoryStore struct {
	mu        sync.RWMutex
	pageViews []models.PageViewEvent
	metrics   []models.SystemMetricEvent
	sessions  map[string]*models.SessionRecord
	archive   map[string]*models.ArchiveRecord

	maxSize int
	lastTs  int64

	policy         PolicyFunc
	archiveOnSweep bool
	sweepInterval  time.Duration
	log            zerolog.Logger
	stop           chan struct{}
	done           chan struct{}
}

// NewMemoryStore builds an empty store bounded at maxSize entries per event
// collection. policy may be nil, in which case the background sweep is a no-op.
// With archiveOnSweep set, the sweep rolls expired page views into the archive
// before deleting them, so rows aged out between retention-manager runs are
// not lost to the aggregates.
func NewMemoryStore(maxSize int, policy PolicyFunc, archiveOnSweep bool, sweepInterval time.Duration, log zerolog.Logger) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &MemoryStore{
		sessions:       make(map[string]*models.SessionRecord),
		archive:        make(map[string]*models.ArchiveRecord),
		maxSize:        maxSize,
		policy:         policy,
		archiveOnSweep: archiveOnSweep,
		sweepInterval:  sweepInterval,
		log:            log,
	}
}

// now returns a per-process monotonically non-decreasing millisecond clock.
// Callers must hold s.mu.
func (s *MemoryStore) now() int64 {
	ts := time.Now().UnixMilli()
	if ts < s.lastTs {
		ts = s.lastTs
	}
	s.lastTs = ts
	return ts
}

func (s *MemoryStore) RecordPageView(ctx context.Context, in models.PageViewInput) (models.PageViewEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordPageViewLocked(in), nil
}

func (s *MemoryStore) RecordPageViews(ctx context.Context, in []models.PageViewInput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range in {
		s.recordPageViewLocked(ev)
	}
	return len(in), nil
}

// recordPageViewLocked inserts the event and upserts its session as one
// mutation under the lock, so a reader never sees an event without a session.
func (s *MemoryStore) recordPageViewLocked(in models.PageViewInput) models.PageViewEvent {
	ts := s.now()
	ev := models.PageViewEvent{
		ID:           uuid.New().String(),
		SessionID:    in.SessionID,
		Path:         in.Path,
		TimestampMs:  ts,
		ClientIP:     in.ClientIP,
		UserAgent:    in.UserAgent,
		Referrer:     in.Referrer,
		TimeOnPageMs: in.TimeOnPageMs,
	}

	if sess, ok := s.sessions[in.SessionID]; ok {
		sess.LastActivityMs = ts
		sess.PageViewCount++
	} else {
		s.sessions[in.SessionID] = &models.SessionRecord{
			ID:             in.SessionID,
			StartTimeMs:    ts,
			LastActivityMs: ts,
			PageViewCount:  1,
			ClientIP:       in.ClientIP,
			UserAgent:      in.UserAgent,
			Referrer:       in.Referrer,
		}
	}

	if len(s.pageViews) >= s.maxSize {
		s.pageViews = s.pageViews[len(s.pageViews)-s.maxSize+1:]
	}
	s.pageViews = append(s.pageViews, ev)
	return ev
}

func (s *MemoryStore) RecordSystemMetric(ctx context.Context, in models.SystemMetricInput) (models.SystemMetricEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := models.SystemMetricEvent{
		ID:             uuid.New().String(),
		TimestampMs:    s.now(),
		Path:           in.Path,
		Method:         in.Method,
		StatusCode:     in.StatusCode,
		ResponseTimeMs: in.ResponseTimeMs,
		Error:          in.Error,
	}
	if len(s.metrics) >= s.maxSize {
		s.metrics = s.metrics[len(s.metrics)-s.maxSize+1:]
	}
	s.metrics = append(s.metrics, ev)
	return ev, nil
}

func (s *MemoryStore) GetPageViews(ctx context.Context, f models.Filter) ([]models.PageViewEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PageViewEvent, 0)
	for _, ev := range s.pageViews {
		if f.Matches(ev.TimestampMs, ev.Path) {
			out = append(out, ev)
			if len(out) >= MaxQueryRows {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) GetSessions(ctx context.Context, f models.Filter) ([]models.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Path does not apply to sessions; match on activity time only.
	f.Path = ""
	out := make([]models.SessionRecord, 0)
	for _, sess := range s.sessions {
		if f.Matches(sess.LastActivityMs, "") {
			out = append(out, *sess)
			if len(out) >= MaxQueryRows {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) GetSystemMetrics(ctx context.Context, f models.Filter) ([]models.SystemMetricEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SystemMetricEvent, 0)
	for _, ev := range s.metrics {
		if f.Matches(ev.TimestampMs, ev.Path) {
			out = append(out, ev)
			if len(out) >= MaxQueryRows {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) DeletePageViewsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pageViews[:0]
	var deleted int64
	for _, ev := range s.pageViews {
		if ev.TimestampMs < cutoffMs {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.pageViews = kept
	return deleted, nil
}

func (s *MemoryStore) DeleteSessionsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, sess := range s.sessions {
		if sess.LastActivityMs < cutoffMs {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) DeleteSystemMetricsOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.metrics[:0]
	var deleted int64
	for _, ev := range s.metrics {
		if ev.TimestampMs < cutoffMs {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.metrics = kept
	return deleted, nil
}

func (s *MemoryStore) ArchivePageViews(ctx context.Context, cutoffMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type agg struct {
		views    int64
		sessions map[string]struct{}
	}
	groups := make(map[string]*agg)
	dates := make(map[string]string)
	paths := make(map[string]string)

	for _, ev := range s.pageViews {
		if ev.TimestampMs >= cutoffMs {
			continue
		}
		date := time.UnixMilli(ev.TimestampMs).UTC().Format("2006-01-02")
		key := date + "|" + ev.Path
		g, ok := groups[key]
		if !ok {
			g = &agg{sessions: make(map[string]struct{})}
			groups[key] = g
			dates[key] = date
			paths[key] = ev.Path
		}
		g.views++
		g.sessions[ev.SessionID] = struct{}{}
	}

	var archived int64
	for key, g := range groups {
		// Pairs already archived are skipped so re-running over the same
		// window archives nothing new.
		if _, exists := s.archive[key]; exists {
			continue
		}
		s.archive[key] = &models.ArchiveRecord{
			Date:               dates[key],
			Path:               paths[key],
			ViewCount:          g.views,
			UniqueSessionCount: int64(len(g.sessions)),
		}
		archived++
	}
	return archived, nil
}

func (s *MemoryStore) GetArchiveRecords(ctx context.Context) ([]models.ArchiveRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ArchiveRecord, 0, len(s.archive))
	for _, rec := range s.archive {
		out = append(out, *rec)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Start launches the periodic retention sweep. The policy is recomputed each
// run, so toggling it takes effect on the next sweep, not retroactively.
func (s *MemoryStore) Start() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	if s.policy == nil {
		return
	}
	p := s.policy()
	now := time.Now().UnixMilli()
	dayMs := int64(24 * time.Hour / time.Millisecond)
	pageViewCutoff := now - int64(p.PageViewRetentionDays)*dayMs

	if s.archiveOnSweep {
		s.ArchivePageViews(context.Background(), pageViewCutoff)
	}
	pv, _ := s.DeletePageViewsOlderThan(context.Background(), pageViewCutoff)
	sess, _ := s.DeleteSessionsOlderThan(context.Background(), now-int64(p.SessionRetentionDays)*dayMs)
	met, _ := s.DeleteSystemMetricsOlderThan(context.Background(), now-int64(p.MetricRetentionDays)*dayMs)
	if pv+sess+met > 0 {
		s.log.Debug().
			Int64("page_views", pv).
			Int64("sessions", sess).
			Int64("metrics", met).
			Msg("memory store sweep removed expired records")
	}
}

// Close stops the sweep. Safe to call when Start was never invoked.
func (s *MemoryStore) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return nil
}
