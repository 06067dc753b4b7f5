package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCachedQuery_SecondCallIsHit(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	producer := func() (any, error) {
		calls++
		return "result", nil
	}

	v, status, err := c.CachedQuery("k", time.Minute, producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != Miss {
		t.Fatalf("expected MISS on first call, got %s", status)
	}
	if v != "result" {
		t.Fatalf("unexpected value: %v", v)
	}

	v, status, err = c.CachedQuery("k", time.Minute, producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != Hit {
		t.Fatalf("expected HIT on second call, got %s", status)
	}
	if v != "result" {
		t.Fatalf("unexpected value: %v", v)
	}
	if calls != 1 {
		t.Fatalf("producer should run exactly once, ran %d times", calls)
	}
}

func TestCachedQuery_ExpiredEntryIsMiss(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	producer := func() (any, error) {
		calls++
		return calls, nil
	}

	c.CachedQuery("k", 20*time.Millisecond, producer)
	time.Sleep(30 * time.Millisecond)

	v, status, err := c.CachedQuery("k", 20*time.Millisecond, producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != Miss {
		t.Fatalf("expected MISS after expiry, got %s", status)
	}
	if v != 2 {
		t.Fatalf("expected fresh value 2, got %v", v)
	}
}

func TestCachedQuery_ProducerErrorNotCached(t *testing.T) {
	c := New(time.Minute)
	wantErr := errors.New("backend down")
	calls := 0

	_, _, err := c.CachedQuery("k", time.Minute, func() (any, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected producer error to propagate, got %v", err)
	}

	v, status, err := c.CachedQuery("k", time.Minute, func() (any, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != Miss {
		t.Fatalf("failed call must not populate the cache, got %s", status)
	}
	if v != "ok" || calls != 2 {
		t.Fatalf("expected second producer run, calls=%d v=%v", calls, v)
	}
}

func TestBypass_AlwaysProducesAndWarmsCache(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	producer := func() (any, error) {
		calls++
		return calls, nil
	}

	c.CachedQuery("k", time.Minute, producer)

	v, err := c.Bypass("k", time.Minute, producer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2 {
		t.Fatalf("bypass must invoke producer, got %v", v)
	}

	// The bypass result should now serve non-bypass callers.
	v, status, _ := c.CachedQuery("k", time.Minute, producer)
	if status != Hit || v != 2 {
		t.Fatalf("expected HIT with bypass-written value 2, got %s %v", status, v)
	}
	if calls != 2 {
		t.Fatalf("expected 2 producer runs, got %d", calls)
	}
}

func TestBuildKey_ParamOrderIndependent(t *testing.T) {
	a := BuildKey("stats:pages", map[string]string{"startDate": "1", "endDate": "2"})
	b := BuildKey("stats:pages", map[string]string{"endDate": "2", "startDate": "1"})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a != "stats:pages|endDate=2|startDate=1" {
		t.Fatalf("unexpected key shape: %q", a)
	}
}

func TestBuildKey_NoParams(t *testing.T) {
	if got := BuildKey("stats:overview", nil); got != "stats:overview" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestStats_Counters(t *testing.T) {
	c := New(time.Minute)
	producer := func() (any, error) { return 1, nil }

	c.CachedQuery("k", time.Minute, producer) // miss
	c.CachedQuery("k", time.Minute, producer) // hit
	c.Bypass("k", time.Minute, producer)      // bypass

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Bypasses != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.Entries != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Entries)
	}
}

func TestEvictExpired(t *testing.T) {
	c := New(time.Minute)
	c.set("old", 10*time.Millisecond, 1)
	c.set("fresh", time.Minute, 2)

	time.Sleep(20 * time.Millisecond)
	c.evictExpired()

	if _, ok := c.get("old"); ok {
		t.Fatalf("expired entry should be evicted")
	}
	if _, ok := c.get("fresh"); !ok {
		t.Fatalf("fresh entry should survive the sweep")
	}
}
