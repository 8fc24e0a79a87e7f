package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/metalcrawl/internal/config"
	"github.com/amosWeiskopf/metalcrawl/pkg/backoff"
	"github.com/amosWeiskopf/metalcrawl/pkg/batch"
	"github.com/amosWeiskopf/metalcrawl/pkg/catalog"
	"github.com/amosWeiskopf/metalcrawl/pkg/checkpoint"
	"github.com/amosWeiskopf/metalcrawl/pkg/crawler"
	"github.com/amosWeiskopf/metalcrawl/pkg/dedup"
	"github.com/amosWeiskopf/metalcrawl/pkg/reporter"
	"github.com/amosWeiskopf/metalcrawl/pkg/sink"
	"github.com/amosWeiskopf/metalcrawl/pkg/source"
)

// app wires configuration into crawl pipelines.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	client *catalog.Client
}

func newApp(cfg *config.Config, logger zerolog.Logger) *app {
	return &app{cfg: cfg, logger: logger}
}

func (a *app) policy() backoff.Policy {
	return backoff.Policy{
		RateLimitBase:     a.cfg.Backoff.RateLimitBase,
		MaxDelay:          a.cfg.Backoff.MaxDelay,
		TransientBase:     a.cfg.Backoff.TransientBase,
		TransientAttempts: a.cfg.Backoff.TransientAttempts,
	}
}

func (a *app) catalogClient() (*catalog.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	c, err := catalog.NewClient(catalog.ClientOptions{
		BaseURL:           a.cfg.Crawler.BaseURL,
		UserAgent:         a.cfg.Crawler.UserAgent,
		RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
		Burst:             a.cfg.Crawler.Burst,
		Timeout:           a.cfg.Crawler.Timeout,
		FollowRobotsTxt:   a.cfg.Crawler.FollowRobotsTxt,
		Logger:            a.logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

func (a *app) openSink(ds *catalog.Dataset) (sink.Sink, error) {
	return sink.Open(a.cfg.Storage.Type, a.cfg.Storage.Path, ds.Name, ds.Schema)
}

// openReader reads a dataset's sink without creating or repairing it.
func (a *app) openReader(ds *catalog.Dataset) (sink.Reader, error) {
	return sink.OpenReader(a.cfg.Storage.Type, a.cfg.Storage.Path, ds.Name, ds.Schema)
}

// crawlAll crawls the named datasets in order, stopping at the first error
// or interruption.
func (a *app) crawlAll(ctx context.Context, names []string) ([]*crawler.Result, error) {
	var results []*crawler.Result
	for _, name := range names {
		res, err := a.crawl(ctx, name)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
		if res.Interrupted {
			break
		}
	}
	return results, nil
}

// crawl runs one dataset to completion or until ctx is cancelled.
func (a *app) crawl(ctx context.Context, name string) (res *crawler.Result, err error) {
	ds, err := catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	client, err := a.catalogClient()
	if err != nil {
		return nil, err
	}

	// Local setup reads run to completion; the stop signal is honored between pages.
	setup := context.WithoutCancel(ctx)

	var input dedup.KeyReader
	if ds.Input != "" {
		in, err := catalog.Lookup(ds.Input)
		if err != nil {
			return nil, err
		}
		r, err := a.openReader(in)
		if err != nil {
			return nil, fmt.Errorf("open %s sink: %w", in.Name, err)
		}
		defer r.Close()
		input = r
	}
	cats, err := ds.Categories(setup, input)
	if err != nil {
		return nil, err
	}

	out, err := a.openSink(ds)
	if err != nil {
		return nil, fmt.Errorf("open %s sink: %w", ds.Name, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	index, err := dedup.Load(setup, out)
	if err != nil {
		return nil, err
	}
	writer, err := batch.NewWriter(out, index, a.cfg.Storage.BatchSize)
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.NewStore(a.cfg.Storage.CheckpointDir, ds.Name)
	if err != nil {
		return nil, err
	}

	logger := a.logger.With().Str("component", "crawler").Logger()
	policy := a.policy()
	src, err := source.New(source.Options{
		Lister:    ds.Lister(client),
		Parse:     ds.Parse,
		Paginated: ds.Paginated,
		Policy:    policy,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	opts := crawler.Options{
		Dataset:       ds.Name,
		Categories:    cats,
		PageSize:      ds.PageSize,
		Workers:       a.cfg.Crawler.MaxWorkers,
		Source:        src,
		Writer:        writer,
		Checkpoints:   store,
		Policy:        policy,
		Logger:        logger,
		ProgressEvery: a.cfg.Crawler.ProgressInterval,
	}
	if ds.Enrich != nil {
		detail, err := source.NewDetail(client, ds.Enrich, policy, logger)
		if err != nil {
			return nil, err
		}
		opts.Fetch = detail.Fetch
		opts.Fallback = ds.Fallback
	}

	engine, err := crawler.New(opts)
	if err != nil {
		return nil, err
	}
	a.logger.Info().
		Str("dataset", ds.Name).
		Int("categories", len(cats)).
		Int("known_keys", index.Len()).
		Str("sink", out.Location()).
		Msg("starting crawl")

	res, err = engine.Run(ctx)
	if res != nil {
		flushes, written := writer.Stats()
		a.logger.Info().
			Str("dataset", res.Dataset).
			Str("run_id", res.RunID).
			Int64("pages", res.Pages).
			Int64("accepted", res.Accepted).
			Int64("duplicates", res.Duplicates).
			Int64("failures", res.Failures).
			Int64("degraded", res.Degraded).
			Int("abandoned", len(res.Abandoned)).
			Int("flushes", flushes).
			Int("written", written).
			Bool("interrupted", res.Interrupted).
			Dur("elapsed", res.Finished.Sub(res.Started)).
			Msg("crawl finished")
	}
	return res, err
}

// status builds the status report of the named datasets.
func (a *app) status(ctx context.Context, names []string) (*reporter.Report, error) {
	targets := make([]reporter.Target, 0, len(names))
	for _, name := range names {
		ds, err := catalog.Lookup(name)
		if err != nil {
			return nil, err
		}
		r, err := a.openReader(ds)
		if err != nil {
			return nil, fmt.Errorf("open %s sink: %w", ds.Name, err)
		}
		defer r.Close()
		store, err := checkpoint.NewStore(a.cfg.Storage.CheckpointDir, ds.Name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, reporter.Target{Dataset: ds.Name, Sink: r, Checkpoints: store})
	}
	return reporter.New().Collect(ctx, targets)
}

// reset forgets the crawl position of a dataset. Its records stay.
func (a *app) reset(name string) error {
	ds, err := catalog.Lookup(name)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(a.cfg.Storage.CheckpointDir, ds.Name)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	a.logger.Info().Str("dataset", ds.Name).Str("path", store.Path()).Msg("checkpoint cleared")
	return nil
}
