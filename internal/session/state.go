package session

// TimerInfinite marks a state that only ends on an explicit trigger.
const TimerInfinite = -1

type State int

const (
	StateWarmupSystem State = iota
	StateWarmupUser
	StateCountdownRoundStart
	StateCountdownUnpause
	StatePaused
	StateRunning
	StateMatchEnd
	StateRoundEnd
)

func (s State) String() string {
	switch s {
	case StateWarmupSystem:
		return "warmup_system"
	case StateWarmupUser:
		return "warmup_user"
	case StateCountdownRoundStart:
		return "countdown_round_start"
	case StateCountdownUnpause:
		return "countdown_unpause"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateMatchEnd:
		return "match_end"
	case StateRoundEnd:
		return "round_end"
	default:
		return "unknown"
	}
}

func (s State) Warmup() bool {
	return s == StateWarmupSystem || s == StateWarmupUser
}
