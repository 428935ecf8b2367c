package engine

import (
	"math"
	"math/rand"
	"time"
)

// maxJitter keeps retry times spread out without delaying far beyond the
// exponential term.
const maxJitter = time.Second

// Backoff returns the delay before retry attempt n (1-based):
// min(max, base*2^(n-1)) plus uniform jitter capped at min(1s, 20% of the
// term). Jitter avoids herds of simultaneously-failing jobs waking up in
// lockstep.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	exp := float64(base) * math.Pow(2, float64(n-1))
	if exp > float64(max) {
		exp = float64(max)
	}
	jitter := exp * 0.2
	if jitter > float64(maxJitter) {
		jitter = float64(maxJitter)
	}
	return time.Duration(exp) + time.Duration(rand.Float64()*jitter)
}
