package worker

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before the next retry attempt: exponential in
// the attempt count, capped at Max, with ±20% jitter so a burst of failures
// does not re-lease in lockstep. Pure function of its inputs; no state.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// NextDelay returns the delay after the attempt-th failed attempt
// (attempt counts from 1).
func (b Backoff) NextDelay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Minute
	}

	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	// ±20% jitter
	if span := int64(delay / 5); span > 0 {
		delay += time.Duration(rand.Int63n(2*span+1) - span)
	}

	return delay
}
