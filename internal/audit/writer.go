package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Writer appends records to a Store without blocking the request hot
// path. Records are queued on a buffered channel and flushed in batches
// by a background goroutine. If the channel fills up, new records are
// dropped and counted in Dropped.
type Writer struct {
	ch        chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	store *Store
}

// NewWriter starts the flush goroutine.
func NewWriter(ctx context.Context, store *Store) (*Writer, error) {
	if ctx == nil {
		return nil, fmt.Errorf("audit: context must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("audit: store must not be nil")
	}

	w := &Writer{
		ch:    make(chan any, channelBuffer),
		done:  make(chan struct{}),
		store: store,
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Write queues a record. Never blocks.
func (w *Writer) Write(record any) {
	select {
	case w.ch <- record:
	default:
		atomic.AddInt64(&w.dropped, 1)
	}
}

// Dropped returns how many records were discarded due to backpressure.
func (w *Writer) Dropped() int64 {
	return atomic.LoadInt64(&w.dropped)
}

// Close drains the queue and stops the flush goroutine.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]any, 0, batchSize)

	flush := func() {
		for _, rec := range batch {
			if err := w.store.Append(rec); err != nil {
				slog.Error("audit_append_failed", slog.String("error", err.Error()))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.ch:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-w.done:
			for {
				select {
				case rec := <-w.ch:
					batch = append(batch, rec)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
