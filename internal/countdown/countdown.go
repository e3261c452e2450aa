// Package countdown derives the match clock's remaining time from wall-clock
// time. While running the absolute end is authoritative; while paused the
// frozen duration is.
package countdown

import (
	"math"
	"time"

	"github.com/gdscore/scoreboard-server/internal/model"
)

// Remaining returns the whole seconds left on the clock at now, or nil when
// the session has no clock value to report.
func Remaining(s model.Session, now time.Time) *int {
	if s.Paused {
		if s.RemainingSeconds == nil {
			return nil
		}
		v := *s.RemainingSeconds
		return &v
	}

	if s.ClockEnd == nil {
		return nil
	}
	v := Until(*s.ClockEnd, now)
	if v < 0 {
		v = 0
	}
	return &v
}

// Until is floor((end - now) / 1s). The result is negative once end has passed.
func Until(end, now time.Time) int {
	d := end.Sub(now)
	secs := d / time.Second
	if d < 0 && d%time.Second != 0 {
		secs--
	}
	return int(secs)
}

// MaxSeconds is the longest countdown representable as a time.Duration.
const MaxSeconds = math.MaxInt64 / int64(time.Second)

// ValidSeconds reports whether seconds can be stored as a countdown and read
// back unchanged.
func ValidSeconds(seconds int) bool {
	return seconds >= 0 && int64(seconds) <= MaxSeconds
}

// EndAt is the absolute instant a countdown of seconds started at now hits zero.
func EndAt(now time.Time, seconds int) time.Time {
	return now.Add(time.Duration(seconds) * time.Second)
}

// Snapshot renders the client-facing view of s. The absolute clock end is
// replaced by the relative remaining duration.
func Snapshot(s model.Session, now time.Time) model.Snapshot {
	mode := s.Mode
	if mode == "" {
		mode = model.ModeOff
	}

	return model.Snapshot{
		Revision:     s.Revision,
		HomeScore:    s.HomeScore,
		AwayScore:    s.AwayScore,
		HomeTeamName: s.HomeTeamName,
		AwayTeamName: s.AwayTeamName,
		Period:       s.Period,
		Paused:       s.Paused,
		Remaining:    Remaining(s, now),
		Mode:         mode,
	}
}
