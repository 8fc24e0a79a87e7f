package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/amosWeiskopf/metalcrawl/internal/models"
)

var (
	// ErrRateLimited means the catalog asked us to slow down. Retry the same
	// request after a backoff delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrDisallowed means robots.txt forbids the request. Never retried.
	ErrDisallowed = errors.New("disallowed by robots.txt")

	// ErrTransientExhausted means a transient failure outlived its retries.
	ErrTransientExhausted = errors.New("transient retries exhausted")
)

// StatusError is a non-success HTTP status that is not a rate limit.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// CategoryError abandons the rest of a category. The crawl moves on to the
// next one.
type CategoryError struct {
	Category models.Category
	Offset   int
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("category %s at offset %d: %v", e.Category, e.Offset, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

// ItemError is the terminal failure of a single item's detail fetch.
type ItemError struct {
	Key string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s: %v", e.Key, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Outcome is the interpretation of one catalog call.
type Outcome int

const (
	OK Outcome = iota
	RateLimited
	Transient
	Fatal
	// Aborted means the caller's context ended; nothing should be retried.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Classify maps a catalog call result to an outcome and the error that
// describes it. Transport errors are transient unless ctx is done or the
// request was refused locally. HTTP 429 is the only rate limit signal.
func Classify(ctx context.Context, resp *models.Response, err error) (Outcome, error) {
	if err != nil {
		if ctx.Err() != nil {
			return Aborted, ctx.Err()
		}
		if errors.Is(err, ErrDisallowed) {
			return Fatal, err
		}
		return Transient, err
	}
	if resp == nil {
		return Fatal, errors.New("no response")
	}
	switch {
	case resp.Status == http.StatusOK:
		return OK, nil
	case resp.Status == http.StatusTooManyRequests:
		return RateLimited, fmt.Errorf("%w: %s", ErrRateLimited, resp.URL)
	default:
		return Fatal, &StatusError{URL: resp.URL, Status: resp.Status}
	}
}

// serverError reports whether err is a 5xx status, which detail fetches retry.
func serverError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status >= 500
}
