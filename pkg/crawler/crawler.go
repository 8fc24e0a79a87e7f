// Package crawler drives a dataset through its categories page by page,
// resuming from the last checkpoint and never persisting an identity key twice.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/backoff"
	"github.com/amosWeiskopf/metalcrawl/pkg/pool"
	"github.com/amosWeiskopf/metalcrawl/pkg/source"
)

var errInterrupted = errors.New("interrupted")

// Result summarizes one run.
type Result struct {
	RunID       string            `json:"run_id"`
	Dataset     string            `json:"dataset"`
	Pages       int64             `json:"pages"`
	Accepted    int64             `json:"accepted"`
	Duplicates  int64             `json:"duplicates"`
	Failures    int64             `json:"failures"`
	Degraded    int64             `json:"degraded"`
	Abandoned   []models.Category `json:"abandoned,omitempty"`
	Interrupted bool              `json:"interrupted"`
	Started     time.Time         `json:"started"`
	Finished    time.Time         `json:"finished"`
}

type counters struct {
	pages      atomic.Int64
	accepted   atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
	degraded   atomic.Int64
}

// Engine crawls one dataset.
type Engine struct {
	opts   Options
	runID  string
	logger zerolog.Logger
	stats  counters
}

// New validates opts and returns an engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("crawler: page source is required")
	case opts.Writer == nil:
		return nil, errors.New("crawler: record writer is required")
	case opts.Checkpoints == nil:
		return nil, errors.New("crawler: checkpoint store is required")
	case opts.PageSize < 1:
		return nil, fmt.Errorf("crawler: page size must be positive, got %d", opts.PageSize)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	runID := uuid.NewString()
	return &Engine{
		opts:   opts,
		runID:  runID,
		logger: opts.Logger.With().Str("dataset", opts.Dataset).Str("run_id", runID).Logger(),
	}, nil
}

// RunID identifies this engine's run in logs and checkpoints.
func (e *Engine) RunID() string { return e.runID }

// Run crawls every category in order.
//
// Cancelling ctx stops the crawl between pages: the page in flight is
// finished, flushed and checkpointed first, and Run returns normally with
// Interrupted set. The returned error is non-nil only for failures no retry
// can fix, such as a sink or checkpoint that cannot be written.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: e.runID, Dataset: e.opts.Dataset, Started: time.Now()}
	defer func() {
		e.fill(res)
		res.Finished = time.Now()
	}()

	cp, err := e.opts.Checkpoints.Load()
	if err != nil {
		return res, err
	}
	start, resumeAt := e.resumePoint(cp)

	// In-flight pages run on a context that the stop signal does not reach.
	work := context.WithoutCancel(ctx)

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	if e.opts.ProgressEvery > 0 {
		go e.trackProgress(progressCtx)
	}

	for i := start; i < len(e.opts.Categories); i++ {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		cat := e.opts.Categories[i]
		offset := 0
		if i == start {
			offset = resumeAt
		}

		err := e.crawlCategory(ctx, work, cat, offset)
		var ce *source.CategoryError
		switch {
		case err == nil:
		case errors.Is(err, errInterrupted):
			res.Interrupted = true
		case errors.As(err, &ce):
			e.logger.Error().Err(ce.Err).
				Str("category", string(ce.Category)).
				Int("offset", ce.Offset).
				Msg("abandoning category")
			res.Abandoned = append(res.Abandoned, cat)
		default:
			return res, err
		}
		if res.Interrupted {
			break
		}
	}

	if res.Interrupted {
		e.logger.Info().Msg("crawl interrupted, checkpoint kept")
		return res, nil
	}
	if err := e.opts.Checkpoints.Clear(); err != nil {
		return res, err
	}
	e.logger.Info().Msg("crawl complete")
	return res, nil
}

// resumePoint returns the category index and offset to start from.
// Categories before the checkpointed one are finished and skipped.
func (e *Engine) resumePoint(cp *models.Checkpoint) (int, int) {
	if cp == nil {
		return 0, 0
	}
	idx := slices.Index(e.opts.Categories, cp.Category)
	if idx < 0 {
		e.logger.Warn().Str("category", string(cp.Category)).Msg("checkpoint category no longer listed, starting over")
		return 0, 0
	}
	e.logger.Info().Str("category", string(cp.Category)).Int("offset", cp.Offset).Msg("resuming from checkpoint")
	return idx, cp.Offset
}

func (e *Engine) crawlCategory(stop, work context.Context, cat models.Category, offset int) error {
	log := e.logger.With().Str("category", string(cat)).Logger()
	log.Info().Int("offset", offset).Msg("crawling category")

	for {
		if stop.Err() != nil {
			return errInterrupted
		}

		page, err := e.fetchPage(stop, work, cat, offset)
		if err != nil {
			return err
		}
		if page.Empty() {
			log.Info().Int("offset", offset).Msg("category done")
			return nil
		}

		if err := e.drain(work, page); err != nil {
			return err
		}
		if err := e.opts.Writer.Flush(work); err != nil {
			return err
		}

		offset += e.opts.PageSize
		cp := models.Checkpoint{
			Dataset:   e.opts.Dataset,
			Category:  cat,
			Offset:    offset,
			RunID:     e.runID,
			UpdatedAt: time.Now().UTC(),
		}
		if err := e.opts.Checkpoints.Save(cp); err != nil {
			return err
		}
		e.stats.pages.Add(1)
		log.Debug().Int("items", len(page.Items)).Int("next_offset", offset).Msg("page done")
	}
}

// fetchPage retries rate-limited listings on the same offset for as long as
// the stop context allows.
func (e *Engine) fetchPage(stop, work context.Context, cat models.Category, offset int) (models.Page, error) {
	for attempt := 0; ; attempt++ {
		page, err := e.opts.Source.Fetch(work, cat, offset)
		if !errors.Is(err, source.ErrRateLimited) {
			return page, err
		}
		delay, _ := e.opts.Policy.NextDelay(attempt, backoff.RateLimited)
		e.logger.Warn().
			Str("category", string(cat)).
			Int("offset", offset).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("rate limited, backing off")
		if err := backoff.Sleep(stop, delay); err != nil {
			return page, errInterrupted
		}
	}
}

// drain offers every item of page to the writer. Items are first filtered
// against known keys, then fetched concurrently; results are checked again
// because two items can resolve to the same record.
func (e *Engine) drain(ctx context.Context, page models.Page) error {
	candidates := make([]models.RawItem, 0, len(page.Items))
	for _, it := range page.Items {
		if it.Key == "" {
			e.logger.Debug().Str("category", string(page.Category)).Msg("skipping item without identity key")
			continue
		}
		if e.opts.Writer.Seen(it.Key) {
			e.stats.duplicates.Add(1)
			continue
		}
		candidates = append(candidates, it)
	}

	if e.opts.Fetch == nil {
		for _, it := range candidates {
			if err := e.offer(ctx, models.Record{Key: it.Key, Values: it.Values}); err != nil {
				return err
			}
		}
		return nil
	}

	for r := range pool.Run(ctx, e.opts.Workers, candidates, e.opts.Fetch) {
		rec := r.Value
		if r.Err != nil {
			e.stats.failures.Add(1)
			e.logger.Warn().Err(r.Err).Str("key", r.Item.Key).Msg("item failed")
			if e.opts.Fallback == nil {
				continue
			}
			var ok bool
			if rec, ok = e.opts.Fallback(r.Item); !ok {
				continue
			}
			e.stats.degraded.Add(1)
		}
		if err := e.offer(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) offer(ctx context.Context, rec models.Record) error {
	accepted, err := e.opts.Writer.Offer(ctx, rec)
	if err != nil {
		return err
	}
	if accepted {
		e.stats.accepted.Add(1)
	} else {
		e.stats.duplicates.Add(1)
	}
	return nil
}

func (e *Engine) fill(res *Result) {
	res.Pages = e.stats.pages.Load()
	res.Accepted = e.stats.accepted.Load()
	res.Duplicates = e.stats.duplicates.Load()
	res.Failures = e.stats.failures.Load()
	res.Degraded = e.stats.degraded.Load()
}

func (e *Engine) trackProgress(ctx context.Context) {
	ticker := time.NewTicker(e.opts.ProgressEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.logger.Info().
				Int64("pages", e.stats.pages.Load()).
				Int64("accepted", e.stats.accepted.Load()).
				Int64("duplicates", e.stats.duplicates.Load()).
				Int64("failures", e.stats.failures.Load()).
				Msg("progress")
		}
	}
}
