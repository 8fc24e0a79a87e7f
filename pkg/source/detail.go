package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/backoff"
)

// DetailClient fetches the detail page of one item.
type DetailClient interface {
	FetchDetail(ctx context.Context, url string) (*models.Response, error)
}

// Enricher merges a detail payload into the item's record. Extraction
// problems must resolve to default values, never to an error.
type Enricher func(item models.RawItem, body []byte) models.Record

// Detail resolves items into records with one detail request each.
type Detail struct {
	client DetailClient
	enrich Enricher
	policy backoff.Policy
	logger zerolog.Logger
}

// NewDetail returns a Detail fetcher.
func NewDetail(client DetailClient, enrich Enricher, policy backoff.Policy, logger zerolog.Logger) (*Detail, error) {
	if client == nil || enrich == nil {
		return nil, errors.New("source: detail client and enricher are required")
	}
	return &Detail{client: client, enrich: enrich, policy: policy, logger: logger}, nil
}

// Fetch resolves one item. Transient failures, 5xx statuses and rate limits
// share one bounded retry budget; after that the item fails on its own and
// the returned error is an *ItemError.
func (d *Detail) Fetch(ctx context.Context, item models.RawItem) (models.Record, error) {
	for attempt := 0; ; attempt++ {
		resp, err := d.client.FetchDetail(ctx, item.DetailURL)
		outcome, err := Classify(ctx, resp, err)

		kind := backoff.Transient
		switch {
		case outcome == OK:
			return d.enrich(item, resp.Body), nil
		case outcome == Aborted:
			return models.Record{}, &ItemError{Key: item.Key, Err: err}
		case outcome == RateLimited:
			kind = backoff.RateLimited
		case outcome == Transient, outcome == Fatal && serverError(err):
		default:
			return models.Record{}, &ItemError{Key: item.Key, Err: err}
		}

		if attempt >= d.policy.TransientAttempts {
			return models.Record{}, &ItemError{Key: item.Key, Err: fmt.Errorf("%w: %v", ErrTransientExhausted, err)}
		}
		delay, _ := d.policy.NextDelay(attempt, kind)
		d.logger.Debug().Err(err).
			Str("key", item.Key).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("detail request failed, retrying")
		if err := backoff.Sleep(ctx, delay); err != nil {
			return models.Record{}, &ItemError{Key: item.Key, Err: err}
		}
	}
}
