// Package worker holds the polling and reporting plumbing shared by the
// three job-processing binaries (cmd/a11y-worker, cmd/ocr-worker,
// cmd/redact-worker): claim-with-backoff against internal/queue, and the
// error-metadata-then-finalize-to-error contract spec.md §7 requires of
// a worker that fails partway through.
package worker

import (
	"time"

	"github.com/cognusion/pdfqueue/internal/queue"
)

// Backoff tracks the exponential poll interval a worker sleeps between
// empty ClaimNext calls, grounded on the pack's ferret-scan
// resilience.RetryManager idiom of doubling a delay within [min, max].
type Backoff struct {
	min, max, cur time.Duration
}

// NewBackoff returns a Backoff starting at min, capped at max.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, cur: min}
}

// Reset restores the interval to min, called after a successful claim.
func (b *Backoff) Reset() { b.cur = b.min }

// Sleep blocks for the current interval, then doubles it toward max.
func (b *Backoff) Sleep(stop <-chan struct{}) bool {
	t := time.NewTimer(b.cur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
		return false
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return true
}

// ClaimResult is one successful claim handed back to a worker's
// processing loop.
type ClaimResult struct {
	UUID  string
	State queue.State
}

// ClaimLoop polls ClaimNext until it gets a job, backing off between
// empty results, and returns false if stop fires first or ClaimNext fails
// with anything other than not_found. The worker binaries call it from a
// single loop and hand each claim to their worker pool.
func ClaimLoop(root string, preferPriority bool, b *Backoff, stop <-chan struct{}) (ClaimResult, bool) {
	for {
		select {
		case <-stop:
			return ClaimResult{}, false
		default:
		}

		uuid, state, err := queue.ClaimNext(root, preferPriority)
		if err == nil {
			b.Reset()
			return ClaimResult{UUID: uuid, State: state}, true
		}
		if !queue.IsNotFound(err) {
			// A non-not_found claim error (io, invalid_argument) is not
			// going to resolve itself by retrying at the same root.
			return ClaimResult{}, false
		}
		if !b.Sleep(stop) {
			return ClaimResult{}, false
		}
	}
}
