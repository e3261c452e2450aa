package model

import "time"

// Session is the authoritative state of one scoreboard. Exactly one of ClockEnd
// (running) or RemainingSeconds (paused) is meaningful at a time.
type Session struct {
	ID               string
	Revision         string
	HomeScore        int
	AwayScore        int
	HomeTeamName     string
	AwayTeamName     string
	Period           string
	Paused           bool
	ClockEnd         *time.Time
	RemainingSeconds *int
	Mode             Mode
}

// Versioned reports whether at least one update has been committed.
func (s Session) Versioned() bool {
	return s.Revision != ""
}

type SessionDefaults struct {
	HomeTeamName string
	AwayTeamName string
	Period       string
}

// Patch carries the fields of an update proposal. Nil fields are left untouched.
type Patch struct {
	HomeScore        *int    `json:"home,omitempty"`
	AwayScore        *int    `json:"away,omitempty"`
	HomeTeamName     *string `json:"homeTeam,omitempty"`
	AwayTeamName     *string `json:"awayTeam,omitempty"`
	Period           *string `json:"period,omitempty"`
	Paused           *bool   `json:"paused,omitempty"`
	RemainingSeconds *int    `json:"remaining,omitempty"`
	Mode             *Mode   `json:"mode,omitempty"`
}

// UpdateRequest is the payload of an "update" event.
type UpdateRequest struct {
	BaseRevision string `json:"rev,omitempty"`
	Patch
}

// UpdateEvent is what every registered connection receives after a commit.
type UpdateEvent struct {
	Timestamp int64  `json:"ts"`
	Revision  string `json:"rev"`
	Patch
}

// Snapshot is the read-only, time-reconciled view handed to clients. It never
// carries the absolute clock end.
type Snapshot struct {
	Revision     string `json:"rev,omitempty"`
	HomeScore    int    `json:"home"`
	AwayScore    int    `json:"away"`
	HomeTeamName string `json:"homeTeam,omitempty"`
	AwayTeamName string `json:"awayTeam,omitempty"`
	Period       string `json:"period,omitempty"`
	Paused       bool   `json:"paused"`
	Remaining    *int   `json:"remaining,omitempty"`
	Mode         Mode   `json:"mode"`
}

// PowerRequest is the payload of a "power" event. Mode takes precedence over the
// legacy TurnOn/TurnOff flags.
type PowerRequest struct {
	Mode    Mode `json:"mode,omitempty"`
	TurnOn  bool `json:"turnOn,omitempty"`
	TurnOff bool `json:"turnOff,omitempty"`
}

// Actions maps the request onto the side effects it triggers.
func (r PowerRequest) Actions() []PowerAction {
	if r.Mode != "" {
		switch r.Mode {
		case ModeScore:
			return []PowerAction{PowerActionOn}
		case ModeOff:
			return []PowerAction{PowerActionOff}
		case ModeSignage:
			return []PowerAction{PowerActionSignage}
		default:
			return nil
		}
	}

	var actions []PowerAction
	if r.TurnOn {
		actions = append(actions, PowerActionOn)
	}
	if r.TurnOff {
		actions = append(actions, PowerActionOff)
	}
	return actions
}
