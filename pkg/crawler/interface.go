package crawler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/backoff"
)

// PageSource returns the listing page at (category, offset).
type PageSource interface {
	Fetch(ctx context.Context, cat models.Category, offset int) (models.Page, error)
}

// ItemFetcher resolves one raw item into a record, typically with a detail request.
type ItemFetcher func(ctx context.Context, item models.RawItem) (models.Record, error)

// Fallback turns an item whose fetch failed into a degraded record. It
// returns false when the item should be dropped instead.
type Fallback func(item models.RawItem) (models.Record, bool)

// RecordWriter deduplicates and buffers records.
type RecordWriter interface {
	Seen(key string) bool
	Offer(ctx context.Context, rec models.Record) (bool, error)
	Flush(ctx context.Context) error
}

// CheckpointStore persists the crawl position.
type CheckpointStore interface {
	Load() (*models.Checkpoint, error)
	Save(cp models.Checkpoint) error
	Clear() error
}

// Options contains configuration for the engine
type Options struct {
	Dataset    string            // Name used in checkpoints and logs
	Categories []models.Category // Visited in this order
	PageSize   int               // Offset step between pages
	Workers    int               // Concurrent item fetches per page

	Source      PageSource
	Fetch       ItemFetcher // Nil means listing items are already complete records
	Fallback    Fallback    // Optional
	Writer      RecordWriter
	Checkpoints CheckpointStore

	Policy        backoff.Policy
	Logger        zerolog.Logger
	ProgressEvery time.Duration // Zero disables the progress log
}
