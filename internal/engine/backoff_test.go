package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsUntilCap(t *testing.T) {
	t.Parallel()

	base := 30 * time.Second
	max := time.Hour

	var prevFloor time.Duration
	for n := 1; n <= 12; n++ {
		floor := base * (1 << (n - 1))
		if floor > max {
			floor = max
		}

		d := Backoff(n, base, max)
		assert.GreaterOrEqual(t, d, floor, "attempt %d below exponential floor", n)
		assert.LessOrEqual(t, d, floor+time.Second, "attempt %d above floor plus jitter bound", n)
		assert.GreaterOrEqual(t, floor, prevFloor, "floor must be non-decreasing")
		prevFloor = floor
	}
}

func TestBackoffNeverExceedsCapPlusJitter(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		d := Backoff(50, 30*time.Second, time.Hour)
		assert.LessOrEqual(t, d, time.Hour+time.Second)
		assert.GreaterOrEqual(t, d, time.Hour)
	}
}

func TestBackoffJitterBoundForSmallTerms(t *testing.T) {
	t.Parallel()

	// 20% of a 1s term is 200ms, well under the 1s jitter cap.
	for i := 0; i < 100; i++ {
		d := Backoff(1, time.Second, time.Hour)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Second+200*time.Millisecond)
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	t.Parallel()

	d := Backoff(0, time.Second, time.Hour)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.LessOrEqual(t, d, time.Second+200*time.Millisecond)
}
