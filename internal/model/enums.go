package model

type Mode string

const (
	ModeScore   Mode = "score"
	ModeSignage Mode = "signage"
	ModeOff     Mode = "off"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeScore, ModeSignage, ModeOff:
		return true
	default:
		return false
	}
}

type PowerAction string

const (
	PowerActionOn      PowerAction = "POWER_ON"
	PowerActionOff     PowerAction = "POWER_OFF"
	PowerActionSignage PowerAction = "SIGNAGE"
)
