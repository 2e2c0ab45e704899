package session

import (
	"time"

	"vitalred_worker/pkg/apperr"
)

// Options control batching and retry of one extraction session.
type Options struct {
	BatchSize   int
	Concurrency int
	RetryCount  int
	BackoffBase time.Duration
	BatchDelay  time.Duration
}

// DefaultOptions keeps concurrency low to stay under the mailbox's
// automation heuristics.
func DefaultOptions() Options {
	return Options{
		BatchSize:   10,
		Concurrency: 2,
		RetryCount:  3,
		BackoffBase: 5 * time.Second,
		BatchDelay:  2 * time.Second,
	}
}

func (o Options) Validate() error {
	switch {
	case o.BatchSize < 1:
		return apperr.InvalidInput("batch_size", "must be at least 1")
	case o.Concurrency < 1:
		return apperr.InvalidInput("concurrency", "must be at least 1")
	case o.RetryCount < 1:
		return apperr.InvalidInput("retry_count", "must be at least 1")
	case o.BackoffBase < 0:
		return apperr.InvalidInput("backoff_base", "must not be negative")
	case o.BatchDelay < 0:
		return apperr.InvalidInput("batch_delay", "must not be negative")
	}
	return nil
}

// MaxBackoff caps a single retry wait.
const MaxBackoff = 10 * time.Minute

const maxBackoffShift = 20

// Backoff returns the wait after the given failed attempt (1-based):
// base, 2*base, 4*base, ... capped at MaxBackoff.
func (o Options) Backoff(attempt int) time.Duration {
	if o.BackoffBase <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxBackoffShift+1 {
		attempt = maxBackoffShift + 1
	}
	d := o.BackoffBase << (attempt - 1)
	if d <= 0 || d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
