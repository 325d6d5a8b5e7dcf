package timeutil

import (
	"fmt"
	"time"
)

// MostRecent returns the most recent Time of ts.
func MostRecent(ts ...time.Time) time.Time {
	var latest time.Time
	for _, t := range ts {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}

// InfiniteTimeLeft is displayed when a remaining time cannot be estimated.
const InfiniteTimeLeft = "∞"

// FormatTimeLeft renders a remaining duration as HH:MM:SS, prefixed with the
// number of days when nonzero, e.g. "2.03:25:40".
func FormatTimeLeft(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	s := fmt.Sprintf("%02d:%02d:%02d", secs/3600%24, secs/60%60, secs%60)
	if days := secs / 86400; days > 0 {
		s = fmt.Sprintf("%d.%s", days, s)
	}
	return s
}
