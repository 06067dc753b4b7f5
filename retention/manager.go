// api/retention/manager.go
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"luminacorp/api/models"
	"luminacorp/api/store"
)

// MetricRetentionDays is fixed and deliberately longer than the configurable
// page-view window; system metrics carry no personal data.
const MetricRetentionDays = 90

// Report summarizes one retention run. Errors are collected per
// sub-operation so a failure in one collection does not hide progress in the
// others.
type Report struct {
	PageViewsDeleted  int64    `json:"pageViewsDeleted"`
	SessionsDeleted   int64    `json:"sessionsDeleted"`
	MetricsDeleted    int64    `json:"metricsDeleted"`
	PageViewsArchived int64    `json:"pageViewsArchived"`
	Errors            []string `json:"errors,omitempty"`
}

// Manager ages out telemetry on a timer. The retention policy is recomputed
// from configuration on every run, so toggles take effect without a restart.
type Manager struct {
	store    store.Store
	policy   store.PolicyFunc
	archive  bool
	interval time.Duration
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewManager(st store.Store, policy store.PolicyFunc, archive bool, interval time.Duration, log zerolog.Logger) *Manager {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Manager{
		store:    st,
		policy:   policy,
		archive:  archive,
		interval: interval,
		log:      log,
	}
}

// EnforceRetention archives then deletes expired records. Archival runs
// first; page views are only deleted once their window has been archived (or
// archival is disabled). Each deletion runs independently and its error is
// collected rather than aborting the run. Safe to re-run on any schedule; a
// second immediate run is a no-op.
func (m *Manager) EnforceRetention(ctx context.Context) Report {
	var rep Report
	p := m.policy()
	now := time.Now().UnixMilli()
	dayMs := int64(24 * time.Hour / time.Millisecond)

	pageViewCutoff := now - int64(p.PageViewRetentionDays)*dayMs
	sessionCutoff := now - int64(p.SessionRetentionDays)*dayMs
	metricCutoff := now - int64(p.MetricRetentionDays)*dayMs

	deletePageViews := true
	if m.archive {
		n, err := m.store.ArchivePageViews(ctx, pageViewCutoff)
		if err != nil {
			rep.Errors = append(rep.Errors, "archive page views: "+err.Error())
			// Raw rows stay until they have been archived.
			deletePageViews = false
		} else {
			rep.PageViewsArchived = n
		}
	}

	if deletePageViews {
		n, err := m.store.DeletePageViewsOlderThan(ctx, pageViewCutoff)
		if err != nil {
			rep.Errors = append(rep.Errors, "delete page views: "+err.Error())
		} else {
			rep.PageViewsDeleted = n
		}
	}

	n, err := m.store.DeleteSessionsOlderThan(ctx, sessionCutoff)
	if err != nil {
		rep.Errors = append(rep.Errors, "delete sessions: "+err.Error())
	} else {
		rep.SessionsDeleted = n
	}

	n, err = m.store.DeleteSystemMetricsOlderThan(ctx, metricCutoff)
	if err != nil {
		rep.Errors = append(rep.Errors, "delete system metrics: "+err.Error())
	} else {
		rep.MetricsDeleted = n
	}

	return rep
}

// Start launches the periodic retention loop.
func (m *Manager) Start() {
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rep := m.EnforceRetention(context.Background())
				evt := m.log.Info()
				if len(rep.Errors) > 0 {
					evt = m.log.Warn().Strs("errors", rep.Errors)
				}
				evt.
					Int64("page_views_deleted", rep.PageViewsDeleted).
					Int64("sessions_deleted", rep.SessionsDeleted).
					Int64("metrics_deleted", rep.MetricsDeleted).
					Int64("page_views_archived", rep.PageViewsArchived).
					Msg("retention run complete")
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the retention loop.
func (m *Manager) Stop() {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
}

// PolicyFromConfig derives the policy in force from the configured retention
// window. Page views and sessions share the configurable window; metrics keep
// the fixed longer one.
func PolicyFromConfig(retentionDays int) models.RetentionPolicy {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return models.RetentionPolicy{
		PageViewRetentionDays: retentionDays,
		SessionRetentionDays:  retentionDays,
		MetricRetentionDays:   MetricRetentionDays,
	}
}
