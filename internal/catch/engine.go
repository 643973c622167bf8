// Package catch implements the catch game mode: eliminated participants
// spectate the one who caught them until that participant dies or releases
// them, and the last one standing wins the round.
package catch

import (
	"fmt"
	"log/slog"

	"github.com/siohaza/catchd/internal/gamemode"
	"github.com/siohaza/catchd/internal/persist"
	"github.com/siohaza/catchd/internal/player"
	"github.com/siohaza/catchd/internal/stats"
)

const DefaultTable = "zcatch"

// Submitter is the part of the persistence queue the engine uses.
type Submitter interface {
	SubmitWrite(req persist.WriteRequest) (*persist.Result, error)
	SubmitRead(req persist.ReadRequest) (*persist.Result, error)
}

type Config struct {
	MinPlayers  int
	ReleaseGame bool
	Tournament  bool
	Table       string
	Logger      *slog.Logger
}

// Columns the catch mode persists on top of stats.BaseSchema.
var Columns = []stats.Column{stats.PointsColumn, stats.TicksInGameColumn, stats.TicksCaughtColumn}

type Engine struct {
	gamemode.BaseMode

	cfg     Config
	phase   Phase
	schema  stats.Schema
	queue   Submitter
	logger  *slog.Logger
	pending []pending
}

var _ gamemode.Mode = (*Engine)(nil)

// New builds the engine. queue may be nil, in which case nothing is persisted.
func New(cfg Config, queue Submitter) (*Engine, error) {
	if cfg.MinPlayers < 2 {
		cfg.MinPlayers = 2
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	schema, err := stats.BaseSchema.With(Columns...)
	if err != nil {
		return nil, fmt.Errorf("failed to build catch schema: %w", err)
	}

	e := &Engine{
		BaseMode: gamemode.NewBaseMode("catch"),
		cfg:      cfg,
		phase:    PhaseWaiting,
		schema:   schema,
		queue:    queue,
		logger:   cfg.Logger,
	}
	if cfg.ReleaseGame {
		e.phase = PhaseRelease
	}
	return e, nil
}

func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) Schema() stats.Schema {
	return e.schema.Clone()
}

func (e *Engine) Table() string {
	return e.cfg.Table
}

func (e *Engine) players() *player.Registry {
	return e.Host().Players()
}

func (e *Engine) send(to player.ID, format string, args ...any) {
	e.Host().Notifier().SendText(to, fmt.Sprintf(format, args...))
}

func (e *Engine) broadcast(format string, args ...any) {
	e.Host().Notifier().Broadcast(fmt.Sprintf(format, args...))
}

func (e *Engine) name(id player.ID) string {
	if p, ok := e.players().Get(id); ok {
		return p.Name
	}
	return "(unknown)"
}

func (e *Engine) ReleaseGame() bool {
	return e.cfg.ReleaseGame
}

// SetReleaseGame toggles the operator override. Existing capture chains are
// left alone; only future captures are affected.
func (e *Engine) SetReleaseGame(on bool) {
	e.cfg.ReleaseGame = on
	e.CheckGameState()
}

// CheckGameState moves the phase according to the active population.
func (e *Engine) CheckGameState() {
	next := NextPhase(e.players().NumActive(), e.phase, e.cfg.MinPlayers, e.cfg.ReleaseGame)
	if next == e.phase {
		return
	}
	if msg := phaseMessage(e.phase, next); msg != "" {
		e.broadcast("%s", msg)
	}
	e.logger.Info("catch phase changed", "from", e.phase, "to", next)
	e.phase = next
}

// settleTicks books the ticks since the last team change as caught or in
// game time and restarts the measurement.
func (e *Engine) settleTicks(p *player.Participant) {
	now := e.Host().Tick()
	ticks := now - p.LastTeamChangeTick
	switch {
	case p.Dead:
		p.Stats.AddTicksCaught(ticks)
	case !p.IsSpectator():
		p.Stats.AddTicksInGame(ticks)
	}
	p.LastTeamChangeTick = now
}

func (e *Engine) setTeam(p *player.Participant, team player.Team) {
	e.settleTicks(p)
	p.Team = team
	if team == player.TeamSpectators {
		p.Spawned = false
	}
}

func (e *Engine) release(p *player.Participant, msg string) {
	if msg != "" {
		e.send(p.ID, "%s", msg)
	}
	e.settleTicks(p)
	p.Dead = false
	p.EliminatorID = player.NoID

	if p.WantsSpectate {
		p.WantsSpectate = false
		p.Team = player.TeamSpectators
		return
	}
	p.Team = player.TeamRed
}

// releaseCapturedBy frees everyone whose eliminator is dying. Only direct
// captives are released.
func (e *Engine) releaseCapturedBy(dying *player.Participant) int {
	released := 0
	e.players().ForEach(func(p *player.Participant) {
		if p.ID == dying.ID || !p.Dead || p.EliminatorID != dying.ID {
			return
		}
		e.release(p, fmt.Sprintf("You respawned because '%s' died", dying.Name))
		released++
	})
	dying.ClearCaptives()
	return released
}

// capture binds victim to killer. It reports false when the killer cannot
// hold captives.
func (e *Engine) capture(victim, killer *player.Participant) bool {
	if !killer.Spawned || killer.IsSpectator() {
		e.logger.Warn("elimination by an absent participant ignored", "victim", victim.Name, "killer", killer.Name,
			"spawned", killer.Spawned, "team", killer.Team)
		return false
	}
	if killer.Dead {
		e.logger.Warn("elimination by a caught participant ignored", "victim", victim.Name, "killer", killer.Name)
		return false
	}

	e.send(victim.ID, "You are spectator until '%s' dies", killer.Name)

	e.settleTicks(victim)
	victim.Dead = true
	victim.Spawned = false
	victim.EliminatorID = killer.ID
	victim.Team = player.TeamSpectators

	killer.PushCaptive(victim.ID)
	killer.Stats.ObserveSpree(killer.Spree())
	return true
}

func (e *Engine) onCaught(victim, killer *player.Participant) {
	switch e.phase {
	case PhaseWaiting:
		if !killer.GotRespawnInfo {
			e.send(killer.ID, "Kill respawned because there are not enough players.")
		}
		killer.GotRespawnInfo = true
		return
	case PhaseRelease:
		if !killer.GotRespawnInfo {
			e.send(killer.ID, "Kill respawned because this is a release game.")
		}
		killer.GotRespawnInfo = true
		return
	}

	if e.capture(victim, killer) {
		killer.Stats.AddKill()
		victim.Stats.AddDeath()
	}
}

func (e *Engine) OnEliminate(victim *player.Participant, killer player.ID, cause gamemode.Cause) gamemode.Outcome {
	if victim.Dead {
		e.logger.Warn("elimination of a caught participant ignored", "victim", victim.Name, "cause", cause)
		return gamemode.HandledSuppressDefault
	}
	victim.Spawned = false

	// the winner leaving during round end must not free anyone
	if e.Host().RoundEnded() {
		return gamemode.HandledSuppressDefault
	}

	if k, ok := e.players().Get(killer); ok && k.ID != victim.ID {
		e.onCaught(victim, k)
	}

	e.releaseCapturedBy(victim)
	return gamemode.HandledSuppressDefault
}

// OnSelfKill releases the most recent captive instead of killing p. With no
// captive left the default self kill goes ahead.
func (e *Engine) OnSelfKill(p *player.Participant) gamemode.Outcome {
	if p.Dead {
		return gamemode.HandledSuppressDefault
	}
	for {
		id, ok := p.PopCaptive()
		if !ok {
			return gamemode.NotHandled
		}
		victim, ok := e.players().Get(id)
		if !ok || !victim.Dead || victim.EliminatorID != p.ID {
			continue
		}
		e.release(victim, fmt.Sprintf("You were released by '%s'", p.Name))
		e.send(p.ID, "You released '%s' (%d players left)", victim.Name, p.Spree())
		return gamemode.HandledSuppressDefault
	}
}

func (e *Engine) OnSpawn(p *player.Participant) gamemode.Outcome {
	if p.Dead {
		e.logger.Warn("spawn of a caught participant refused", "player", p.Name)
		return gamemode.HandledSuppressDefault
	}
	if p.IsSpectator() {
		return gamemode.HandledSuppressDefault
	}
	return gamemode.NotHandled
}

// OnEntity drops pickups; every weapon is the spawn weapon.
func (e *Engine) OnEntity(ent gamemode.Entity) gamemode.Outcome {
	switch ent.Kind {
	case "health", "armor", "shotgun", "grenade", "laser", "ninja":
		return gamemode.HandledSuppressDefault
	}
	return gamemode.NotHandled
}

func (e *Engine) TeamPolicy(p *player.Participant, team player.Team) gamemode.Outcome {
	if p.Dead {
		killer := e.name(p.EliminatorID)
		switch {
		case team == player.TeamSpectators:
			p.WantsSpectate = !p.WantsSpectate
			if p.WantsSpectate {
				e.send(p.ID, "You will join the spectators once '%s' dies", killer)
			} else {
				e.send(p.ID, "You will join the game once '%s' dies", killer)
			}
		case p.WantsSpectate:
			p.WantsSpectate = false
			e.send(p.ID, "You will join the game once '%s' dies", killer)
		default:
			e.send(p.ID, "Wait until '%s' dies", killer)
		}
		return gamemode.HandledSuppressDefault
	}

	if team == p.Team {
		return gamemode.HandledSuppressDefault
	}

	// leaving the game kills the character, which frees its captives
	if p.Spawned || p.Spree() > 0 {
		e.releaseCapturedBy(p)
	}
	e.setTeam(p, team)
	e.CheckGameState()
	return gamemode.HandledSuppressDefault
}

// highestSpree returns the participant holding the most captives, lowest
// slot first on ties.
func (e *Engine) highestSpree() (*player.Participant, bool) {
	var best *player.Participant
	e.players().ForEach(func(p *player.Participant) {
		if p.Dead || p.IsSpectator() || p.Spree() == 0 {
			return
		}
		if best == nil || p.Spree() > best.Spree() {
			best = p
		}
	})
	return best, best != nil
}

func (e *Engine) OnConnect(p *player.Participant) {
	p.LastTeamChangeTick = e.Host().Tick()
	e.CheckGameState()

	bound := false
	if e.phase.Running() {
		if killer, ok := e.highestSpree(); ok {
			p.Team = player.TeamSpectators
			if e.capture(p, killer) {
				e.send(killer.ID, "'%s' is now spectating you (selfkill to release them)", p.Name)
				bound = true
			}
		}
	}
	if !bound && !e.cfg.Tournament && p.IsSpectator() {
		e.setTeam(p, player.TeamRed)
	}
	e.CheckGameState()

	switch e.phase {
	case PhaseWaiting:
		e.send(p.ID, "Waiting for more players to start the round.")
	case PhaseRelease:
		e.send(p.ID, "This is a release game.")
	}
}

func (e *Engine) OnDisconnect(p *player.Participant, reason string) {
	e.settleTicks(p)

	// quitting while caught in a competitive round counts as a loss
	if e.phase == PhaseCompetitive && p.Dead {
		p.Stats.AddLoss()
	}

	if !e.Host().RoundEnded() {
		e.releaseCapturedBy(p)
	}
	e.players().ForEach(func(other *player.Participant) {
		other.RemoveCaptive(p.ID)
		if other.EliminatorID == p.ID {
			e.release(other, "")
		}
	})

	e.flush(p)
	p.Stats.Reset()
	e.CheckGameState()

	e.logger.Debug("participant left catch", "player", p.Name, "reason", reason)
}

func (e *Engine) CheckRoundWin() (gamemode.RoundResult, bool) {
	if !e.phase.Running() || e.players().NumNonDeadActive() > 1 {
		return gamemode.NoWinner(), false
	}

	result := gamemode.NoWinner()
	e.players().ForEach(func(p *player.Participant) {
		if result.Winner.Valid() || p.Dead || p.IsSpectator() {
			return
		}
		result.Winner = p.ID
		result.Team = p.Team
		result.Points = PointsForWin(p)
	})
	return result, true
}

// PointsForWin is two points per captive held at round end.
func PointsForWin(p *player.Participant) int {
	return p.Spree() * 2
}

// isWinner decides whether a round win is recorded and returns the notice
// for the winner.
func (e *Engine) isWinner(p *player.Participant) (bool, string) {
	if p.IsSpectator() || p.Dead || p.Spree() == 0 || !e.phase.Running() {
		return false, ""
	}
	if e.phase != PhaseCompetitive {
		return false, "The win did not count because the round was started with less than 10 players."
	}
	return true, "+1 win was saved on your name (see /rank_wins)."
}

func (e *Engine) isLoser(p *player.Participant) bool {
	return e.phase == PhaseCompetitive && p.Dead
}

func (e *Engine) OnRoundEnd(result gamemode.RoundResult) {
	if winner, ok := e.players().Get(result.Winner); ok {
		counted, notice := e.isWinner(winner)
		points := PointsForWin(winner)
		winner.Stats.AddPoints(points)
		if points > 0 {
			e.Host().AddTeamScore(winner.Team, points)
		}
		if counted {
			winner.Stats.AddWin()
		}
		if notice != "" {
			e.send(winner.ID, "%s", notice)
		}

		if points > 0 {
			e.broadcast("'%s' won the round and gained %d points.", winner.Name, points)
		} else {
			e.broadcast("'%s' won the round.", winner.Name)
		}
		e.logger.Info("round won", "player", winner.Name, "points", points, "counted", counted, "phase", e.phase)
	}

	e.players().ForEach(func(p *player.Participant) {
		if e.isLoser(p) {
			p.Stats.AddLoss()
		}
		e.settleTicks(p)
		e.flush(p)
	})

	// only participants that were caught, not every spectator
	e.players().ForEach(func(p *player.Participant) {
		if p.Dead {
			e.revive(p)
		}
	})
}

// revive returns a caught participant to the active team for the next
// round. A pending spectate request is kept for the next release.
func (e *Engine) revive(p *player.Participant) {
	e.settleTicks(p)
	p.Dead = false
	p.EliminatorID = player.NoID
	p.Team = player.TeamRed
}

func (e *Engine) OnRoundStart() {
	if e.players().NumActive() < e.cfg.MinPlayers && e.phase != PhaseRelease {
		e.broadcast("Not enough players to start a round")
		e.phase = PhaseWaiting
	}

	e.players().ForEach(func(p *player.Participant) {
		if p.Dead {
			e.release(p, "")
		}
		p.GotRespawnInfo = false
		p.ClearCaptives()
		p.EliminatorID = player.NoID
		e.settleTicks(p)
		e.flush(p)
	})
}
