package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"luminacorp/api/models"
)

// fakeWriter records every batch it receives and can be told to fail.
type fakeWriter struct {
	mu       sync.Mutex
	batches  [][]models.PageViewInput
	failNext int
}

func (f *fakeWriter) RecordPageViews(ctx context.Context, in []models.PageViewInput) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return 0, errors.New("backend unavailable")
	}
	batch := make([]models.PageViewInput, len(in))
	copy(batch, in)
	f.batches = append(f.batches, batch)
	return len(in), nil
}

func (f *fakeWriter) received() [][]models.PageViewInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]models.PageViewInput, len(f.batches))
	copy(out, f.batches)
	return out
}

func event(path string) models.PageViewInput {
	return models.PageViewInput{SessionID: "s1", Path: path}
}

func TestFlush_DrainsInPushOrder(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, 100, time.Hour, zerolog.Nop())

	paths := []string{"/", "/about-us", "/contacts"}
	for _, p := range paths {
		b.Push(event(p))
	}

	n, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 flushed, got %d", n)
	}
	if b.Size() != 0 {
		t.Fatalf("queue should be empty after flush, size=%d", b.Size())
	}

	batches := w.received()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	for i, p := range paths {
		if batches[0][i].Path != p {
			t.Fatalf("batch[%d]: expected %s, got %s", i, p, batches[0][i].Path)
		}
	}
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, 100, time.Hour, zerolog.Nop())

	n, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 flushed from empty queue, got %d", n)
	}
	if len(w.received()) != 0 {
		t.Fatalf("no write should happen for an empty queue")
	}
}

func TestFlush_FailedBatchIsRequeuedInOrder(t *testing.T) {
	w := &fakeWriter{failNext: 1}
	b := New(w, 100, time.Hour, zerolog.Nop())

	b.Push(event("/a"))
	b.Push(event("/b"))

	if _, err := b.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}
	if b.Size() != 2 {
		t.Fatalf("failed batch should be requeued, size=%d", b.Size())
	}

	// Events pushed after the failure line up behind the requeued batch.
	b.Push(event("/c"))

	n, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 flushed on retry, got %d", n)
	}

	batches := w.received()
	want := []string{"/a", "/b", "/c"}
	for i, p := range want {
		if batches[0][i].Path != p {
			t.Fatalf("retry batch[%d]: expected %s, got %s", i, p, batches[0][i].Path)
		}
	}
}

func TestPush_TriggersFlushAtBatchSize(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, 2, time.Hour, zerolog.Nop())

	b.Push(event("/a"))
	b.Push(event("/b"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(w.received()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected automatic flush when batch size reached")
}

func TestStop_FlushesRemainingEvents(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, 100, time.Hour, zerolog.Nop())
	b.Start()

	b.Push(event("/a"))
	b.Stop(context.Background())

	if b.Size() != 0 {
		t.Fatalf("expected queue drained on stop, size=%d", b.Size())
	}
	if len(w.received()) != 1 {
		t.Fatalf("expected final flush to write the batch")
	}
}
