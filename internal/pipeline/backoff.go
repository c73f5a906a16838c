package pipeline

import "time"

// Backoff computes the idle wait between cycles. A clean cycle waits Base;
// each consecutive failed cycle doubles the wait up to Max.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	failures int
}

func (b *Backoff) Success() time.Duration {
	b.failures = 0
	return b.Base
}

func (b *Backoff) Failure() time.Duration {
	b.failures++
	return b.Delay(b.failures)
}

func (b *Backoff) Failures() int {
	return b.failures
}

// Delay is the wait after the given number of consecutive failures.
func (b *Backoff) Delay(failures int) time.Duration {
	d := b.Base
	limit := b.Max
	if limit < d {
		limit = d
	}
	for i := 1; i < failures && d < limit; i++ {
		if d > limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}
