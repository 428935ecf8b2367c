package notify

import (
	"strconv"
	"time"
)

// NextAllowedSend resolves the quiet-hours gate: the earliest instant at
// or after now that falls outside the recipient's window, in their
// timezone. Windows may wrap past midnight (22:00-07:00). A missing or
// malformed window never defers; an unknown timezone falls back to UTC.
func NextAllowedSend(now time.Time, startHHMM, endHHMM, tz string) time.Time {
	start, okS := parseHHMM(startHHMM)
	end, okE := parseHHMM(endHHMM)
	if !okS || !okE || start == end {
		return now
	}

	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	var inWindow bool
	if start < end {
		inWindow = cur >= start && cur < end
	} else { // wraps midnight
		inWindow = cur >= start || cur < end
	}
	if !inWindow {
		return now
	}

	// The window closes at its end boundary, today or tomorrow.
	endAt := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !endAt.After(local) {
		endAt = endAt.AddDate(0, 0, 1)
	}
	return endAt
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err1 := strconv.Atoi(s[:2])
	m, err2 := strconv.Atoi(s[3:])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
