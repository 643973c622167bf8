package gamemode

import (
	"fmt"
	"log/slog"

	golua "github.com/Shopify/go-lua"

	"github.com/siohaza/catchd/internal/player"
	"github.com/siohaza/catchd/pkg/lua"
)

// LuaMode forwards hooks to global functions of a script. Missing globals
// fall back to the BaseMode behaviour. Hooks that return an Outcome accept
// "handled" or "suppress" from the script; anything else is NotHandled.
type LuaMode struct {
	BaseMode
	vm     *lua.VM
	logger *slog.Logger
}

// NewLuaMode loads the script at path.
func NewLuaMode(path string, logger *slog.Logger) (*LuaMode, error) {
	return newLuaMode(logger, func(vm *lua.VM) error {
		return vm.LoadFile(path)
	})
}

// NewLuaModeFromString loads a script from source text.
func NewLuaModeFromString(code string, logger *slog.Logger) (*LuaMode, error) {
	return newLuaMode(logger, func(vm *lua.VM) error {
		return vm.LoadString(code)
	})
}

func newLuaMode(logger *slog.Logger, load func(*lua.VM) error) (*LuaMode, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &LuaMode{vm: lua.NewVM(), logger: logger}
	m.registerHostAPI()

	if err := load(m.vm); err != nil {
		m.vm.Close()
		return nil, fmt.Errorf("failed to load gamemode script: %w", err)
	}

	name, err := m.vm.GetGlobalString("name")
	if err != nil {
		name = "lua"
	}
	m.BaseMode = NewBaseMode(name)
	return m, nil
}

func (m *LuaMode) Attach(h Host) {
	m.BaseMode.Attach(h)
	m.call("on_init")
}

func (m *LuaMode) Close() {
	m.vm.Close()
}

func (m *LuaMode) Tick() {
	if m.host == nil {
		return
	}
	if err := m.vm.Advance(m.host.Tick()); err != nil {
		m.logger.Error("lua gamemode timer error", "mode", m.name, "error", err)
	}
}

func (m *LuaMode) call(fn string, args ...interface{}) {
	if !m.vm.HasFunction(fn) {
		return
	}
	if err := m.vm.CallFunction(fn, args...); err != nil {
		m.logger.Error("lua gamemode hook error", "mode", m.name, "hook", fn, "error", err)
	}
}

func (m *LuaMode) outcome(fn string, args ...interface{}) Outcome {
	if !m.vm.HasFunction(fn) {
		return NotHandled
	}
	results, err := m.vm.CallFunctionWithReturn(fn, 1, args...)
	if err != nil {
		m.logger.Error("lua gamemode hook error", "mode", m.name, "hook", fn, "error", err)
		return NotHandled
	}
	switch results[0] {
	case "handled":
		return Handled
	case "suppress":
		return HandledSuppressDefault
	default:
		return NotHandled
	}
}

func (m *LuaMode) OnConnect(p *player.Participant) {
	m.call("on_connect", int(p.ID))
}

// OnDisconnect passes the name as well since the slot is already free.
func (m *LuaMode) OnDisconnect(p *player.Participant, reason string) {
	m.call("on_disconnect", int(p.ID), p.Name, reason)
}

func (m *LuaMode) OnSpawn(p *player.Participant) Outcome {
	return m.outcome("on_spawn", int(p.ID))
}

func (m *LuaMode) OnEliminate(victim *player.Participant, killer player.ID, cause Cause) Outcome {
	return m.outcome("on_eliminate", int(victim.ID), int(killer), cause.String())
}

func (m *LuaMode) OnSelfKill(p *player.Participant) Outcome {
	return m.outcome("on_selfkill", int(p.ID))
}

func (m *LuaMode) OnEntity(e Entity) Outcome {
	return m.outcome("on_entity", e.Kind, int(e.Team))
}

func (m *LuaMode) TeamPolicy(p *player.Participant, team player.Team) Outcome {
	return m.outcome("team_policy", int(p.ID), int(team))
}

// CheckRoundWin expects check_round_win to return done, winner id and points.
func (m *LuaMode) CheckRoundWin() (RoundResult, bool) {
	if !m.vm.HasFunction("check_round_win") {
		return NoWinner(), false
	}
	results, err := m.vm.CallFunctionWithReturn("check_round_win", 3)
	if err != nil {
		m.logger.Error("lua gamemode hook error", "mode", m.name, "hook", "check_round_win", "error", err)
		return NoWinner(), false
	}

	done, _ := results[0].(bool)
	if !done {
		return NoWinner(), false
	}

	result := NoWinner()
	if id, ok := results[1].(float64); ok && m.host != nil {
		if p, found := m.host.Players().Get(player.ID(id)); found {
			result.Winner = p.ID
			result.Team = p.Team
		}
	}
	if points, ok := results[2].(float64); ok {
		result.Points = int(points)
	}
	return result, true
}

func (m *LuaMode) OnRoundStart() {
	m.call("on_round_start")
}

func (m *LuaMode) OnRoundEnd(result RoundResult) {
	m.call("on_round_end", int(result.Winner), result.Points)
}

func (m *LuaMode) participant(state *golua.State, index int) (*player.Participant, bool) {
	if m.host == nil {
		return nil, false
	}
	id, ok := state.ToInteger(index)
	if !ok {
		return nil, false
	}
	return m.host.Players().Get(player.ID(id))
}

func (m *LuaMode) registerHostAPI() {
	vm := m.vm

	vm.RegisterFunction("send_text", func(state *golua.State) int {
		id, _ := state.ToInteger(1)
		msg, _ := state.ToString(2)
		if m.host != nil {
			m.host.Notifier().SendText(player.ID(id), msg)
		}
		return 0
	})

	vm.RegisterFunction("broadcast", func(state *golua.State) int {
		msg, _ := state.ToString(1)
		if m.host != nil {
			m.host.Notifier().Broadcast(msg)
		}
		return 0
	})

	vm.RegisterFunction("active_count", func(state *golua.State) int {
		n := 0
		if m.host != nil {
			n = m.host.Players().NumActive()
		}
		state.PushInteger(n)
		return 1
	})

	vm.RegisterFunction("alive_count", func(state *golua.State) int {
		n := 0
		if m.host != nil {
			n = m.host.Players().NumNonDeadActive()
		}
		state.PushInteger(n)
		return 1
	})

	vm.RegisterFunction("players", func(state *golua.State) int {
		state.NewTable()
		if m.host == nil {
			return 1
		}
		i := 1
		m.host.Players().ForEach(func(p *player.Participant) {
			state.PushInteger(int(p.ID))
			state.RawSetInt(-2, i)
			i++
		})
		return 1
	})

	vm.RegisterFunction("player_name", func(state *golua.State) int {
		p, ok := m.participant(state, 1)
		if !ok {
			state.PushNil()
			return 1
		}
		state.PushString(p.Name)
		return 1
	})

	vm.RegisterFunction("player_team", func(state *golua.State) int {
		p, ok := m.participant(state, 1)
		if !ok {
			state.PushInteger(int(player.TeamSpectators))
			return 1
		}
		state.PushInteger(int(p.Team))
		return 1
	})

	vm.RegisterFunction("set_team", func(state *golua.State) int {
		p, ok := m.participant(state, 1)
		team, _ := state.ToInteger(2)
		if ok && team >= int(player.TeamSpectators) && team <= int(player.TeamBlue) {
			p.Team = player.Team(team)
			p.LastTeamChangeTick = m.host.Tick()
		}
		return 0
	})

	vm.RegisterFunction("is_dead", func(state *golua.State) int {
		p, ok := m.participant(state, 1)
		state.PushBoolean(ok && p.Dead)
		return 1
	})

	vm.RegisterFunction("set_dead", func(state *golua.State) int {
		p, ok := m.participant(state, 1)
		if ok {
			p.Dead = state.ToBoolean(2)
			if p.Dead {
				p.Spawned = false
			}
		}
		return 0
	})

	vm.RegisterFunction("add_points", func(state *golua.State) int {
		p, ok := m.participant(state, 1)
		n, _ := state.ToInteger(2)
		if ok {
			p.Stats.AddPoints(n)
		}
		return 0
	})

	vm.RegisterFunction("add_win", func(state *golua.State) int {
		if p, ok := m.participant(state, 1); ok {
			p.Stats.AddWin()
		}
		return 0
	})

	vm.RegisterFunction("add_team_score", func(state *golua.State) int {
		team, _ := state.ToInteger(1)
		n, _ := state.ToInteger(2)
		if m.host != nil {
			m.host.AddTeamScore(player.Team(team), n)
		}
		return 0
	})

	vm.RegisterFunction("tick", func(state *golua.State) int {
		var tick int64
		if m.host != nil {
			tick = m.host.Tick()
		}
		state.PushInteger(int(tick))
		return 1
	})

	vm.RegisterFunction("schedule", func(state *golua.State) int {
		callback, _ := state.ToString(1)
		seconds, _ := state.ToNumber(2)
		repeat := state.ToBoolean(3)
		speed := 50
		if m.host != nil {
			speed = m.host.TickSpeed()
		}
		id := vm.RegisterTimer(callback, int64(seconds*float64(speed)), repeat)
		state.PushInteger(id)
		return 1
	})

	vm.RegisterFunction("cancel", func(state *golua.State) int {
		id, _ := state.ToInteger(1)
		vm.CancelTimer(id)
		return 0
	})
}
