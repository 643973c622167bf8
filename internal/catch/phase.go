package catch

// CompetitiveMinPlayers is the active population at which wins and losses
// start being recorded.
const CompetitiveMinPlayers = 10

type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseRunning
	PhaseCompetitive
	PhaseRelease
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting_for_players"
	case PhaseRunning:
		return "running"
	case PhaseCompetitive:
		return "running_competitive"
	case PhaseRelease:
		return "release_game"
	default:
		return "unknown"
	}
}

// Running reports whether captures are tracked in this phase.
func (p Phase) Running() bool {
	return p == PhaseRunning || p == PhaseCompetitive
}

// NextPhase derives the phase from the active population. It depends only
// on its arguments, so applying it twice with the same count is a no-op.
func NextPhase(active int, current Phase, minPlayers int, release bool) Phase {
	if release {
		return PhaseRelease
	}
	if current == PhaseRelease {
		current = PhaseWaiting
	}

	switch {
	case active >= CompetitiveMinPlayers:
		return PhaseCompetitive
	case current == PhaseWaiting && active >= minPlayers:
		return PhaseRunning
	case current == PhaseCompetitive:
		return PhaseRunning
	}
	return current
}

func phaseMessage(from, to Phase) string {
	switch {
	case to == PhaseCompetitive:
		return "Enough players connected. Starting competitive game!"
	case to == PhaseRunning && from == PhaseCompetitive:
		return "Not enough players connected anymore. Starting casual game!"
	case to == PhaseRunning:
		return "Enough players connected. Starting game!"
	case to == PhaseRelease:
		return "This is a release game."
	}
	return ""
}
