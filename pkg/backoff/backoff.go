// Package backoff decides how long to wait before retrying a failed catalog call.
package backoff

import (
	"context"
	"time"
)

// Kind classifies a failed attempt.
type Kind int

const (
	// RateLimited is an explicit throttling signal from the remote side.
	RateLimited Kind = iota
	// Transient is a connection reset, timeout or similar network failure.
	Transient
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// maxShift keeps base<<attempt inside time.Duration.
const maxShift = 30

// Policy is the retry timing configuration. The zero value is not useful; see Default.
type Policy struct {
	// RateLimitBase is the delay for attempt 0 of a rate-limited call; it doubles per attempt.
	RateLimitBase time.Duration
	// MaxDelay caps any single delay. Zero means uncapped.
	MaxDelay time.Duration
	// TransientBase is the delay for attempt 0 of a transient failure; it doubles per attempt.
	TransientBase time.Duration
	// TransientAttempts is the number of retries allowed for transient failures.
	TransientAttempts int
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		RateLimitBase:     time.Second,
		TransientBase:     500 * time.Millisecond,
		TransientAttempts: 3,
	}
}

// NextDelay returns the delay before retry number attempt (zero-based) and
// whether that retry is allowed at all. Rate-limited retries are always
// allowed; the caller decides when to give up. Transient retries stop after
// TransientAttempts.
func (p Policy) NextDelay(attempt int, kind Kind) (time.Duration, bool) {
	if attempt < 0 {
		attempt = 0
	}
	switch kind {
	case RateLimited:
		return p.grow(p.RateLimitBase, attempt), true
	case Transient:
		if attempt >= p.TransientAttempts {
			return 0, false
		}
		return p.grow(p.TransientBase, attempt), true
	default:
		return 0, false
	}
}

func (p Policy) grow(base time.Duration, attempt int) time.Duration {
	if attempt > maxShift {
		attempt = maxShift
	}
	d := base << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
