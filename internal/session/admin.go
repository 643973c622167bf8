package session

import (
	"fmt"
	"time"

	"github.com/siohaza/catchd/internal/gamemode"
)

// Warmup starts an operator warmup. A negative duration waits until
// AbortWarmup, zero skips straight to the countdown.
func (s *Session) Warmup(seconds int) {
	if seconds < 0 {
		s.sink.Broadcast("Warmup started.")
	} else if seconds > 0 {
		s.sink.Broadcast(fmt.Sprintf("Warmup started (%d seconds).", seconds))
	}
	s.setState(StateWarmupUser, s.seconds(seconds))
}

// AbortWarmup ends a warmup that has a finite timer.
func (s *Session) AbortWarmup() bool {
	if !s.state.Warmup() || s.timer == TimerInfinite {
		return false
	}
	s.setState(StateCountdownRoundStart, s.seconds(s.cfg.CountdownSeconds))
	return true
}

// TogglePause pauses a running round or starts the unpause countdown.
func (s *Session) TogglePause() bool {
	switch s.state {
	case StateRunning, StateCountdownUnpause:
		s.pauseStart = s.cfg.Now()
		s.setState(StatePaused, TimerInfinite)
		s.sink.Broadcast("Game paused.")
		return true
	case StatePaused:
		s.pausedTotal += s.cfg.Now().Sub(s.pauseStart)
		s.pauseStart = time.Time{}
		s.sink.Broadcast("Game resumes shortly.")
		s.setState(StateCountdownUnpause, s.seconds(s.cfg.CountdownSeconds))
		return true
	}
	return false
}

// ChangeMap closes the current round without a winner and starts a new
// match on mapName.
func (s *Session) ChangeMap(mapName string) {
	if s.state == StateRunning || s.state == StatePaused || s.state == StateCountdownUnpause {
		s.mode.OnRoundEnd(gamemode.NoWinner())
	}
	s.mapName = mapName
	s.logger.Info("map changed", "map", mapName, "match", s.matchID)
	s.sink.Broadcast(fmt.Sprintf("Map changed to %s.", mapName))
	s.startMatch()
}
