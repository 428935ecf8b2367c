package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAllowedSendInsideDaytimeWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got := NextAllowedSend(now, "09:00", "17:00", "UTC")
	assert.Equal(t, time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), got)
}

func TestNextAllowedSendOutsideWindowPassesThrough(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 18, 30, 0, 0, time.UTC)
	got := NextAllowedSend(now, "09:00", "17:00", "UTC")
	assert.Equal(t, now, got)
}

func TestNextAllowedSendWrapsMidnight(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 23:00 local sits inside a 22:00-07:00 window; sending resumes at
	// 07:00 local the next day.
	now := time.Date(2026, 1, 15, 23, 0, 0, 0, loc)
	got := NextAllowedSend(now, "22:00", "07:00", "Europe/Berlin")
	assert.Equal(t, time.Date(2026, 1, 16, 7, 0, 0, 0, loc).Unix(), got.Unix())

	// 01:30 local is still inside the same window; resumes 07:00 today.
	now = time.Date(2026, 1, 16, 1, 30, 0, 0, loc)
	got = NextAllowedSend(now, "22:00", "07:00", "Europe/Berlin")
	assert.Equal(t, time.Date(2026, 1, 16, 7, 0, 0, 0, loc).Unix(), got.Unix())
}

func TestNextAllowedSendWrapWindowDaytimeIsClear(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, loc)
	got := NextAllowedSend(now, "22:00", "07:00", "Europe/Berlin")
	assert.Equal(t, now, got)
}

func TestNextAllowedSendDisabledOrMalformedWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now, NextAllowedSend(now, "", "", "UTC"))
	assert.Equal(t, now, NextAllowedSend(now, "9am", "5pm", "UTC"))
	assert.Equal(t, now, NextAllowedSend(now, "25:00", "17:00", "UTC"))
	// Identical boundaries mean no window at all.
	assert.Equal(t, now, NextAllowedSend(now, "09:00", "09:00", "UTC"))
}

func TestNextAllowedSendUnknownTimezoneFallsBackToUTC(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	got := NextAllowedSend(now, "09:00", "17:00", "Not/AZone")
	assert.Equal(t, time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC), got)
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	v, ok := parseHHMM("22:45")
	assert.True(t, ok)
	assert.Equal(t, 22*60+45, v)

	for _, bad := range []string{"", "7:00", "0700", "24:00", "12:60", "ab:cd"} {
		_, ok := parseHHMM(bad)
		assert.False(t, ok, "expected %q to be rejected", bad)
	}
}
