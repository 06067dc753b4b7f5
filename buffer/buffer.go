// api/buffer/buffer.go
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"luminacorp/api/models"
)

// Writer is the slice of the storage contract the buffer needs.
type Writer interface {
	RecordPageViews(ctx context.Context, in []models.PageViewInput) (int, error)
}

// Buffer accumulates page-view events and flushes them as one batch when the
// queue reaches maxBatch or the flush timer fires. Delivery is at-least-once:
// a failed batch is put back at the head of the queue and retried on the next
// flush, so a partial backend failure can produce duplicate inserts.
type Buffer struct {
	mu       sync.Mutex
	queue    []models.PageViewInput
	flushing bool

	store    Writer
	maxBatch int
	interval time.Duration
	log      zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func New(store Writer, maxBatch int, interval time.Duration, log zerolog.Logger) *Buffer {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Buffer{
		store:    store,
		maxBatch: maxBatch,
		interval: interval,
		log:      log,
	}
}

// Push queues an event without blocking on I/O. Reaching the batch size
// triggers an asynchronous flush.
func (b *Buffer) Push(in models.PageViewInput) {
	b.mu.Lock()
	b.queue = append(b.queue, in)
	full := len(b.queue) >= b.maxBatch && !b.flushing
	b.mu.Unlock()

	if full {
		go func() {
			if _, err := b.Flush(context.Background()); err != nil {
				b.log.Warn().Err(err).Msg("buffer flush on batch size failed")
			}
		}()
	}
}

// Size reports the number of queued events not yet handed to storage.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush drains the queue into storage and returns how many events were
// written. It is idempotent: an empty queue or a flush already in progress
// returns 0. The queue swap happens in one critical section before any I/O,
// so events pushed during the write land in the next batch.
func (b *Buffer) Flush(ctx context.Context) (int, error) {
	b.mu.Lock()
	if b.flushing || len(b.queue) == 0 {
		b.mu.Unlock()
		return 0, nil
	}
	b.flushing = true
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	n, err := b.store.RecordPageViews(ctx, batch)

	b.mu.Lock()
	if err != nil {
		// Put the batch back ahead of anything pushed meanwhile so order is
		// preserved and the events are retried rather than lost.
		b.queue = append(batch, b.queue...)
	}
	b.flushing = false
	b.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return n, nil
}

// Start launches the periodic flush timer.
func (b *Buffer) Start() {
	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := b.Flush(context.Background()); err != nil {
					b.log.Warn().Err(err).Msg("periodic buffer flush failed")
				}
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop cancels the flush timer and attempts one final synchronous flush so a
// graceful shutdown does not strand queued events.
func (b *Buffer) Stop(ctx context.Context) {
	if b.stop != nil {
		close(b.stop)
		<-b.done
		b.stop = nil
	}
	if n, err := b.Flush(ctx); err != nil {
		b.log.Warn().Err(err).Int("queued", b.Size()).Msg("final buffer flush failed")
	} else if n > 0 {
		b.log.Info().Int("flushed", n).Msg("final buffer flush complete")
	}
}
