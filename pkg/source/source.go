// Package source turns raw catalog calls into pages and enriched records,
// applying the retry policy of each failure kind.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
	"github.com/amosWeiskopf/metalcrawl/pkg/backoff"
)

// Lister performs one listing request for (category, offset).
type Lister interface {
	ListPage(ctx context.Context, cat models.Category, offset int) (*models.Response, error)
}

// Parser extracts raw items from a listing payload.
type Parser func(cat models.Category, body []byte) ([]models.RawItem, error)

// Options configures a Source.
type Options struct {
	Lister Lister
	Parse  Parser
	// Paginated is false for endpoints that return everything at offset 0.
	Paginated bool
	Policy    backoff.Policy
	Logger    zerolog.Logger
}

// Source fetches listing pages.
type Source struct {
	lister    Lister
	parse     Parser
	paginated bool
	policy    backoff.Policy
	logger    zerolog.Logger
}

// New returns a Source.
func New(opts Options) (*Source, error) {
	if opts.Lister == nil {
		return nil, errors.New("source: lister is required")
	}
	if opts.Parse == nil {
		return nil, errors.New("source: parser is required")
	}
	return &Source{
		lister:    opts.Lister,
		parse:     opts.Parse,
		paginated: opts.Paginated,
		policy:    opts.Policy,
		logger:    opts.Logger,
	}, nil
}

// Fetch returns the page at (cat, offset).
//
// A rate limit is returned as ErrRateLimited for the caller to back off and
// retry the same offset. Transient failures are retried here up to the
// policy's bound. Everything else comes back as a *CategoryError.
func (s *Source) Fetch(ctx context.Context, cat models.Category, offset int) (models.Page, error) {
	page := models.Page{Category: cat, Offset: offset}
	if !s.paginated && offset > 0 {
		return page, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := s.lister.ListPage(ctx, cat, offset)
		outcome, err := Classify(ctx, resp, err)
		switch outcome {
		case OK:
			items, err := s.parse(cat, resp.Body)
			if err != nil {
				return page, &CategoryError{Category: cat, Offset: offset, Err: fmt.Errorf("parse listing: %w", err)}
			}
			page.Items = items
			return page, nil
		case RateLimited:
			return page, err
		case Transient:
			delay, ok := s.policy.NextDelay(attempt, backoff.Transient)
			if !ok {
				return page, &CategoryError{Category: cat, Offset: offset, Err: fmt.Errorf("%w: %v", ErrTransientExhausted, err)}
			}
			s.logger.Warn().Err(err).
				Str("category", string(cat)).
				Int("offset", offset).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("listing request failed, retrying")
			if err := backoff.Sleep(ctx, delay); err != nil {
				return page, err
			}
		case Aborted:
			return page, err
		default:
			return page, &CategoryError{Category: cat, Offset: offset, Err: err}
		}
	}
}
