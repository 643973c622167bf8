package session

import (
	"fmt"

	"github.com/siohaza/catchd/internal/gamemode"
	"github.com/siohaza/catchd/internal/player"
)

func (s *Session) participant(id player.ID) (*player.Participant, error) {
	p, ok := s.players.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	return p, nil
}

// Connect registers a new participant and hands it to the mode.
func (s *Session) Connect(name string) (*player.Participant, error) {
	p, err := s.players.Add(name, s.tick)
	if err != nil {
		return nil, fmt.Errorf("failed to add participant %q: %w", name, err)
	}
	s.logger.Info("participant connected", "id", int(p.ID), "player", name)
	s.mode.OnConnect(p)
	return p, nil
}

// Disconnect frees the participant's slot before the mode clears references
// to it.
func (s *Session) Disconnect(id player.ID, reason string) error {
	p, ok := s.players.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownParticipant, id)
	}
	s.mode.OnDisconnect(p, reason)
	s.logger.Info("participant disconnected", "id", int(id), "player", p.Name, "reason", reason)
	return nil
}

// Spawn reports whether the participant may enter the world.
func (s *Session) Spawn(id player.ID) (bool, error) {
	p, err := s.participant(id)
	if err != nil {
		return false, err
	}
	if s.state == StatePaused {
		return false, nil
	}
	if s.mode.OnSpawn(p).SuppressDefault() || p.IsSpectator() {
		return false, nil
	}
	p.Spawned = true
	return true, nil
}

// Eliminate records the death of victim. killer is player.NoID for deaths
// nobody caused.
func (s *Session) Eliminate(victim, killer player.ID, cause gamemode.Cause) error {
	p, err := s.participant(victim)
	if err != nil {
		return err
	}
	if s.mode.OnEliminate(p, killer, cause).SuppressDefault() {
		return nil
	}

	p.Spawned = false
	p.Stats.AddDeath()
	if k, ok := s.players.Get(killer); ok && k.ID != p.ID {
		k.Stats.AddKill()
	}
	return nil
}

// SelfKill lets the mode intercept a self kill; otherwise it is an
// elimination without killer.
func (s *Session) SelfKill(id player.ID) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if s.mode.OnSelfKill(p).SuppressDefault() {
		return nil
	}
	return s.Eliminate(id, player.NoID, gamemode.CauseSelfKill)
}

func (s *Session) RequestTeam(id player.ID, team player.Team) error {
	p, err := s.participant(id)
	if err != nil {
		return err
	}
	if s.mode.TeamPolicy(p, team).SuppressDefault() {
		return nil
	}
	if p.Team == team {
		return nil
	}

	p.Team = team
	p.LastTeamChangeTick = s.tick
	if team == player.TeamSpectators {
		p.Spawned = false
	}
	return nil
}

// PlaceEntity reports whether a map entity should be created.
func (s *Session) PlaceEntity(e gamemode.Entity) bool {
	return !s.mode.OnEntity(e).SuppressDefault()
}
