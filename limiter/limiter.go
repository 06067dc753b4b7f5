// api/limiter/limiter.go
package limiter

import (
	"math"
	"sync"
	"time"
)

// Result is the admission decision for one request.
type Result struct {
	Allowed       bool
	Remaining     int
	ResetAt       time.Time
	RetryAfterSec int
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a per-key fixed-window rate limiter. Each protected endpoint
// class gets its own instance with independent limits.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	max           int
	windowLen     time.Duration
	sweepInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(maxRequests int, windowLen time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 60
	}
	if windowLen <= 0 {
		windowLen = time.Minute
	}
	return &Limiter{
		windows:       make(map[string]*window),
		max:           maxRequests,
		windowLen:     windowLen,
		sweepInterval: windowLen,
	}
}

// Check counts one request against key and decides admission. An expired
// window is replaced, not merged.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record(key)
}

// Peek reports the current decision for key without consuming quota. Used by
// endpoint classes where only failed attempts count.
func (l *Limiter) Peek(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return Result{Allowed: true, Remaining: l.max, ResetAt: now.Add(l.windowLen)}
	}
	if w.count >= l.max {
		return Result{
			Allowed:       false,
			ResetAt:       w.resetAt,
			RetryAfterSec: retryAfter(w.resetAt, now),
		}
	}
	return Result{Allowed: true, Remaining: l.max - w.count, ResetAt: w.resetAt}
}

// RecordFailure counts a failed attempt against key. Endpoints like login
// call Peek on entry and RecordFailure only when the attempt fails, so
// successful requests never consume quota.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(key)
}

// record increments the key's window and decides. Callers hold l.mu.
func (l *Limiter) record(key string) Result {
	now := time.Now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(l.windowLen)}
		l.windows[key] = w
	}
	w.count++
	if w.count > l.max {
		return Result{
			Allowed:       false,
			ResetAt:       w.resetAt,
			RetryAfterSec: retryAfter(w.resetAt, now),
		}
	}
	return Result{Allowed: true, Remaining: l.max - w.count, ResetAt: w.resetAt}
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Start launches the background sweep that drops expired windows, bounding
// memory for one-off keys.
func (l *Limiter) Start() {
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweepExpired()
			case <-l.stop:
				return
			}
		}
	}()
}

func (l *Limiter) sweepExpired() {
	now := time.Now()
	l.mu.Lock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.mu.Unlock()
}

// Stop halts the sweep. Safe to call when Start was never invoked.
func (l *Limiter) Stop() {
	if l.stop != nil {
		close(l.stop)
		<-l.done
		l.stop = nil
	}
}
