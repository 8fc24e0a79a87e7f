// Package batch buffers accepted records and appends them to a sink in
// whole batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/dedup"
)

// Appender durably appends a batch of records: all of them or none.
type Appender interface {
	Append(ctx context.Context, records []models.Record) error
}

// Writer owns the dedup index and the pending buffer. Both are only touched
// under mu, so keys are claimed at offer time and a second record with the
// same key is dropped even before the first one is flushed.
type Writer struct {
	mu        sync.Mutex
	sink      Appender
	index     *dedup.Index
	threshold int
	buf       []models.Record

	flushes int
	written int
}

// NewWriter returns a writer that flushes whenever threshold records are pending.
func NewWriter(sink Appender, index *dedup.Index, threshold int) (*Writer, error) {
	if sink == nil {
		return nil, errors.New("batch: sink is required")
	}
	if threshold < 1 {
		return nil, fmt.Errorf("batch: threshold must be positive, got %d", threshold)
	}
	if index == nil {
		index = dedup.New()
	}
	return &Writer{
		sink:      sink,
		index:     index,
		threshold: threshold,
		buf:       make([]models.Record, 0, threshold),
	}, nil
}

// Seen reports whether key is already persisted or pending.
func (w *Writer) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index.Contains(key)
}

// Offer buffers rec unless its key was already seen. It reports whether the
// record was accepted. Reaching the threshold flushes before returning.
func (w *Writer) Offer(ctx context.Context, rec models.Record) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.index.Contains(rec.Key) {
		return false, nil
	}
	w.index.Add(rec.Key)
	w.buf = append(w.buf, rec)

	if len(w.buf) >= w.threshold {
		if err := w.flushLocked(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Flush appends every pending record in one operation. An empty buffer is a
// no-op. On error the buffer is kept intact.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.sink.Append(ctx, w.buf); err != nil {
		return fmt.Errorf("flush %d records: %w", len(w.buf), err)
	}
	w.flushes++
	w.written += len(w.buf)
	w.buf = make([]models.Record, 0, w.threshold)
	return nil
}

// Pending is the number of buffered records.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Stats returns the number of flushes and records written so far.
func (w *Writer) Stats() (flushes, written int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes, w.written
}
