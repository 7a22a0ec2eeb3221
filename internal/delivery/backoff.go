package delivery

import (
	"math/rand"
	"time"
)

// backoffBase computes the un-jittered delay before the next attempt:
// base doubled per prior attempt, capped at max. attempt is the number
// of attempts already made (1 after the first failure).
func backoffBase(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Backoff adds +/- jitterPct of random jitter so retries from a burst
// of failures do not land on the provider at the same instant.
func Backoff(attempt int, base, max time.Duration, jitterPct float64) time.Duration {
	d := backoffBase(attempt, base, max)
	if jitterPct <= 0 {
		return d
	}
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(d) * j)
}
