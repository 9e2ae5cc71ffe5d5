package sync

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff defaults: 2s, 4s, 8s, ... capped at 5 minutes.
const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffCap  = 5 * time.Minute
)

// backoffPolicy computes the delay inserted before retry attempt n of a
// failing message. Exponential in the attempt number with a fixed cap.
type backoffPolicy struct {
	base time.Duration
	cap  time.Duration
}

func newBackoffPolicy(base, cap time.Duration) backoffPolicy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	return backoffPolicy{base: base, cap: cap}
}

// delay returns the wait before the attempt-th retry (attempt >= 1).
func (p backoffPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := retry.WithCappedDuration(p.cap, retry.NewExponential(p.base))
	d := p.base
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		d = next
	}
	return d
}
