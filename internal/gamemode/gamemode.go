package gamemode

import (
	"github.com/siohaza/catchd/internal/notify"
	"github.com/siohaza/catchd/internal/player"
)

// Outcome tells the session what to do after a mode hook ran.
type Outcome int

const (
	NotHandled Outcome = iota
	Handled
	HandledSuppressDefault
)

func (o Outcome) String() string {
	switch o {
	case NotHandled:
		return "not_handled"
	case Handled:
		return "handled"
	case HandledSuppressDefault:
		return "handled_suppress_default"
	default:
		return "unknown"
	}
}

func (o Outcome) SuppressDefault() bool {
	return o == HandledSuppressDefault
}

type Cause int

const (
	CauseWeapon Cause = iota
	CauseSelfKill
	CauseWorld
	CauseTeamChange
	CauseDisconnect
)

func (c Cause) String() string {
	switch c {
	case CauseWeapon:
		return "weapon"
	case CauseSelfKill:
		return "selfkill"
	case CauseWorld:
		return "world"
	case CauseTeamChange:
		return "team_change"
	case CauseDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Entity is a map entity offered to the mode before it is placed.
type Entity struct {
	Kind string
	Team player.Team
	X, Y float64
}

// RoundResult is what a round win-check reports.
type RoundResult struct {
	Winner player.ID
	Team   player.Team
	Points int
}

func NoWinner() RoundResult {
	return RoundResult{Winner: player.NoID, Team: player.TeamSpectators}
}

// Host is the part of the session a mode may use.
type Host interface {
	Tick() int64
	TickSpeed() int
	Players() *player.Registry
	Notifier() notify.Sink
	AddTeamScore(team player.Team, n int)
	// RoundEnded is true between a round win and the next round start.
	RoundEnded() bool
}

type Mode interface {
	Name() string
	Attach(h Host)
	Tick()

	OnConnect(p *player.Participant)
	// OnDisconnect runs after p has been removed from the registry.
	OnDisconnect(p *player.Participant, reason string)
	OnSpawn(p *player.Participant) Outcome
	OnEliminate(victim *player.Participant, killer player.ID, cause Cause) Outcome
	OnSelfKill(p *player.Participant) Outcome
	OnEntity(e Entity) Outcome
	TeamPolicy(p *player.Participant, team player.Team) Outcome

	CheckRoundWin() (RoundResult, bool)
	OnRoundStart()
	OnRoundEnd(result RoundResult)
}

// BaseMode gives every hook a no-op default.
type BaseMode struct {
	name string
	host Host
}

func NewBaseMode(name string) BaseMode {
	return BaseMode{name: name}
}

func (b *BaseMode) Name() string {
	return b.name
}

func (b *BaseMode) Attach(h Host) {
	b.host = h
}

func (b *BaseMode) Host() Host {
	return b.host
}

func (b *BaseMode) Tick() {}

func (b *BaseMode) OnConnect(p *player.Participant) {}

func (b *BaseMode) OnDisconnect(p *player.Participant, reason string) {}

func (b *BaseMode) OnSpawn(p *player.Participant) Outcome {
	return NotHandled
}

func (b *BaseMode) OnEliminate(victim *player.Participant, killer player.ID, cause Cause) Outcome {
	return NotHandled
}

func (b *BaseMode) OnSelfKill(p *player.Participant) Outcome {
	return NotHandled
}

func (b *BaseMode) OnEntity(e Entity) Outcome {
	return NotHandled
}

func (b *BaseMode) TeamPolicy(p *player.Participant, team player.Team) Outcome {
	return NotHandled
}

func (b *BaseMode) CheckRoundWin() (RoundResult, bool) {
	return NoWinner(), false
}

func (b *BaseMode) OnRoundStart() {}

func (b *BaseMode) OnRoundEnd(result RoundResult) {}
