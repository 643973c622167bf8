// Package session drives the match lifecycle: warmup, countdowns, rounds,
// pauses and match end. All methods must be called from the tick loop.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/siohaza/catchd/internal/gamemode"
	"github.com/siohaza/catchd/internal/notify"
	"github.com/siohaza/catchd/internal/player"
)

var ErrUnknownParticipant = errors.New("unknown participant")

// minActive is the population below which a running round falls back to warmup.
const minActive = 2

type Config struct {
	TickSpeed        int
	MaxPlayers       int
	CountdownSeconds int
	RoundEndSeconds  int
	MatchEndSeconds  int
	// WarmupSeconds is applied when a match starts: 0 skips warmup and
	// a negative value waits for an operator.
	WarmupSeconds  int
	RoundsPerMatch int
	ScoreLimit     int
	Logger         *slog.Logger
	Now            func() time.Time
}

type Session struct {
	cfg     Config
	mode    gamemode.Mode
	players *player.Registry
	sink    notify.Sink
	logger  *slog.Logger

	tick           int64
	state          State
	timer          int
	round          int
	teamScore      [2]int
	roundStartTick int64
	pauseStart     time.Time
	pausedTotal    time.Duration
	matchID        uuid.UUID
	mapName        string
}

var _ gamemode.Host = (*Session)(nil)

func New(cfg Config, mode gamemode.Mode, sink notify.Sink) *Session {
	if cfg.TickSpeed <= 0 {
		cfg.TickSpeed = 50
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Session{
		cfg:     cfg,
		mode:    mode,
		players: player.NewRegistry(cfg.MaxPlayers),
		sink:    sink,
		logger:  cfg.Logger,
		matchID: uuid.New(),
		round:   1,
	}
	mode.Attach(s)
	s.setState(StateWarmupSystem, TimerInfinite)
	return s
}

func (s *Session) Tick() int64 {
	return s.tick
}

func (s *Session) TickSpeed() int {
	return s.cfg.TickSpeed
}

func (s *Session) Players() *player.Registry {
	return s.players
}

func (s *Session) Notifier() notify.Sink {
	return s.sink
}

func (s *Session) Mode() gamemode.Mode {
	return s.mode
}

func (s *Session) AddTeamScore(team player.Team, n int) {
	if team == player.TeamRed || team == player.TeamBlue {
		s.teamScore[team] += n
	}
}

func (s *Session) RoundEnded() bool {
	return s.state == StateRoundEnd || s.state == StateMatchEnd
}

func (s *Session) State() State {
	return s.state
}

// Timer returns the remaining ticks of the current state or TimerInfinite.
func (s *Session) Timer() int {
	return s.timer
}

func (s *Session) Round() int {
	return s.round
}

func (s *Session) TeamScore(team player.Team) int {
	if team == player.TeamRed || team == player.TeamBlue {
		return s.teamScore[team]
	}
	return 0
}

func (s *Session) RoundStartTick() int64 {
	return s.roundStartTick
}

func (s *Session) MatchID() uuid.UUID {
	return s.matchID
}

func (s *Session) MapName() string {
	return s.mapName
}

// Paused reports whether the game is paused and since when.
func (s *Session) Paused() (time.Time, bool) {
	return s.pauseStart, !s.pauseStart.IsZero()
}

// PausedFor is the total pause time of the current match.
func (s *Session) PausedFor() time.Duration {
	total := s.pausedTotal
	if !s.pauseStart.IsZero() {
		total += s.cfg.Now().Sub(s.pauseStart)
	}
	return total
}

func (s *Session) seconds(n int) int {
	if n < 0 {
		return TimerInfinite
	}
	return n * s.cfg.TickSpeed
}

func (s *Session) enoughPlayers() bool {
	return s.players.NumActive() >= minActive
}

// setState enters state with the given timer, collapsing zero-length
// warmups and countdowns into their successor.
func (s *Session) setState(state State, timer int) {
	prev := s.state

	switch state {
	case StateWarmupSystem, StateWarmupUser:
		if timer == 0 {
			s.setState(StateCountdownRoundStart, s.seconds(s.cfg.CountdownSeconds))
			return
		}
	case StateCountdownRoundStart:
		if timer == 0 {
			s.startRound()
			return
		}
	case StateCountdownUnpause:
		if timer == 0 {
			s.resume()
			return
		}
	case StatePaused, StateRunning:
		timer = TimerInfinite
	}

	s.state = state
	s.timer = timer
	if prev != state {
		s.logger.Debug("session state changed", "from", prev, "to", state, "timer", timer, "round", s.round)
	}
}

func (s *Session) startRound() {
	s.roundStartTick = s.tick
	s.state = StateRunning
	s.timer = TimerInfinite
	s.mode.OnRoundStart()
	s.players.ForEach(func(p *player.Participant) {
		p.Stats.Flush()
	})
	s.logger.Info("round started", "round", s.round, "match", s.matchID, "players", s.players.Count())
}

func (s *Session) resume() {
	s.state = StateRunning
	s.timer = TimerInfinite
	s.logger.Info("game resumed", "paused_for", s.PausedFor())
}

// Step advances the session by one tick.
func (s *Session) Step() {
	s.tick++
	s.mode.Tick()

	if s.timer > 0 {
		s.timer--
		if s.timer == 0 {
			s.timerElapsed()
		}
	}

	switch s.state {
	case StateWarmupSystem:
		if s.timer == TimerInfinite && s.enoughPlayers() {
			s.setState(StateCountdownRoundStart, s.seconds(s.cfg.CountdownSeconds))
		}
	case StateRunning:
		if !s.enoughPlayers() {
			s.sink.Broadcast("Waiting for more players.")
			s.setState(StateWarmupSystem, TimerInfinite)
			return
		}
		if result, done := s.mode.CheckRoundWin(); done {
			s.endRound(result)
		}
	}
}

func (s *Session) timerElapsed() {
	switch s.state {
	case StateWarmupSystem, StateWarmupUser:
		s.setState(StateCountdownRoundStart, s.seconds(s.cfg.CountdownSeconds))
	case StateCountdownRoundStart:
		s.startRound()
	case StateCountdownUnpause:
		s.resume()
	case StateRoundEnd:
		s.round++
		s.setState(StateCountdownRoundStart, s.seconds(s.cfg.CountdownSeconds))
	case StateMatchEnd:
		s.startMatch()
	}
}

// endRound attributes the result and then moves to round or match end.
func (s *Session) endRound(result gamemode.RoundResult) {
	s.mode.OnRoundEnd(result)
	s.logger.Info("round ended", "round", s.round, "winner", int(result.Winner), "points", result.Points,
		"duration_ticks", s.tick-s.roundStartTick)

	if s.matchComplete() {
		s.EndMatch()
		return
	}
	s.setState(StateRoundEnd, s.seconds(s.cfg.RoundEndSeconds))
}

func (s *Session) matchComplete() bool {
	if s.cfg.RoundsPerMatch > 0 && s.round >= s.cfg.RoundsPerMatch {
		return true
	}
	if s.cfg.ScoreLimit > 0 {
		for _, score := range s.teamScore {
			if score >= s.cfg.ScoreLimit {
				return true
			}
		}
	}
	return false
}

// EndMatch enters match end. Calling it again while the match is already
// over does nothing.
func (s *Session) EndMatch() {
	if s.state == StateMatchEnd {
		return
	}
	s.sink.Broadcast(fmt.Sprintf("Match over after %d rounds.", s.round))
	s.logger.Info("match ended", "match", s.matchID, "rounds", s.round, "red", s.teamScore[player.TeamRed], "blue", s.teamScore[player.TeamBlue])
	s.setState(StateMatchEnd, s.seconds(s.cfg.MatchEndSeconds))
}

func (s *Session) startMatch() {
	s.round = 1
	s.teamScore = [2]int{}
	s.pausedTotal = 0
	s.pauseStart = time.Time{}
	s.matchID = uuid.New()

	if s.cfg.WarmupSeconds != 0 {
		s.setState(StateWarmupUser, s.seconds(s.cfg.WarmupSeconds))
		return
	}
	if !s.enoughPlayers() {
		s.setState(StateWarmupSystem, TimerInfinite)
		return
	}
	s.setState(StateCountdownRoundStart, s.seconds(s.cfg.CountdownSeconds))
}
