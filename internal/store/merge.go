package store

import (
	"time"

	"github.com/gdscore/scoreboard-server/internal/countdown"
	"github.com/gdscore/scoreboard-server/internal/model"
)

// apply is a shallow field replacement plus the clock derivation rules:
//   - a new remaining duration restarts the clock end from now;
//   - otherwise a running -> paused transition freezes what is left;
//   - a bare paused -> running transition re-anchors the end on the frozen value.
func apply(cur model.Session, p model.Patch, now time.Time) model.Session {
	next := clone(cur)

	if p.HomeScore != nil {
		next.HomeScore = *p.HomeScore
	}
	if p.AwayScore != nil {
		next.AwayScore = *p.AwayScore
	}
	if p.HomeTeamName != nil {
		next.HomeTeamName = *p.HomeTeamName
	}
	if p.AwayTeamName != nil {
		next.AwayTeamName = *p.AwayTeamName
	}
	if p.Period != nil {
		next.Period = *p.Period
	}
	if p.Paused != nil {
		next.Paused = *p.Paused
	}
	if p.Mode != nil {
		next.Mode = *p.Mode
	}

	switch {
	case p.RemainingSeconds != nil:
		seconds := *p.RemainingSeconds
		end := countdown.EndAt(now, seconds)
		next.ClockEnd = &end
		next.RemainingSeconds = &seconds

	case p.Paused != nil && *p.Paused && !cur.Paused && cur.ClockEnd != nil:
		left := countdown.Until(*cur.ClockEnd, now)
		if left < 0 {
			left = 0
		}
		next.RemainingSeconds = &left

	case p.Paused != nil && !*p.Paused && cur.Paused && cur.RemainingSeconds != nil:
		end := countdown.EndAt(now, *cur.RemainingSeconds)
		next.ClockEnd = &end
	}

	return next
}
