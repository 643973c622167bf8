package player

import (
	"errors"
	"fmt"
	"strings"

	"github.com/siohaza/catchd/internal/stats"
)

// ID indexes a slot in the Registry. Cross references between participants
// are always IDs, never pointers.
type ID int

const NoID ID = -1

func (id ID) Valid() bool {
	return id >= 0
}

type Team int

const (
	TeamSpectators Team = -1
	TeamRed        Team = 0
	TeamBlue       Team = 1
)

func (t Team) String() string {
	switch t {
	case TeamSpectators:
		return "spectators"
	case TeamRed:
		return "red"
	case TeamBlue:
		return "blue"
	default:
		return fmt.Sprintf("team(%d)", int(t))
	}
}

func ParseTeam(s string) (Team, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spectators", "spec", "-1":
		return TeamSpectators, nil
	case "red", "0":
		return TeamRed, nil
	case "blue", "1":
		return TeamBlue, nil
	default:
		return 0, fmt.Errorf("unknown team %q", s)
	}
}

var ErrRegistryFull = errors.New("participant registry is full")

type Participant struct {
	ID     ID
	Name   string
	Team   Team
	Serial uint64

	// Dead is set while the participant is caught and waiting for release.
	Dead bool
	// Spawned is true while the participant has a character in the world.
	Spawned bool

	EliminatorID  ID
	Captives      []ID
	WantsSpectate bool

	LastTeamChangeTick int64
	GotRespawnInfo     bool

	Stats stats.Accumulator
}

func (p *Participant) Spree() int {
	return len(p.Captives)
}

func (p *Participant) IsSpectator() bool {
	return p.Team == TeamSpectators
}

// IsActive counts caught participants too: they are still part of the round.
func (p *Participant) IsActive() bool {
	return p.Team != TeamSpectators || p.Dead
}

func (p *Participant) Holds(id ID) bool {
	for _, c := range p.Captives {
		if c == id {
			return true
		}
	}
	return false
}

// PushCaptive adds id on top of the capture stack unless it is already held.
func (p *Participant) PushCaptive(id ID) bool {
	if p.Holds(id) {
		return false
	}
	p.Captives = append(p.Captives, id)
	return true
}

func (p *Participant) PopCaptive() (ID, bool) {
	n := len(p.Captives)
	if n == 0 {
		return NoID, false
	}
	id := p.Captives[n-1]
	p.Captives = p.Captives[:n-1]
	return id, true
}

func (p *Participant) RemoveCaptive(id ID) bool {
	for i, c := range p.Captives {
		if c == id {
			p.Captives = append(p.Captives[:i], p.Captives[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Participant) ClearCaptives() {
	p.Captives = p.Captives[:0]
}

// Registry is a fixed-capacity arena of participant slots. It is owned by
// the tick loop and is not safe for concurrent use.
type Registry struct {
	slots  []*Participant
	serial uint64
	count  int
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 1
	}
	return &Registry{slots: make([]*Participant, capacity)}
}

func (r *Registry) Capacity() int {
	return len(r.slots)
}

func (r *Registry) Count() int {
	return r.count
}

// Add places a new participant in the lowest free slot.
func (r *Registry) Add(name string, tick int64) (*Participant, error) {
	for i, slot := range r.slots {
		if slot != nil {
			continue
		}
		r.serial++
		p := &Participant{
			ID:                 ID(i),
			Name:               name,
			Team:               TeamSpectators,
			Serial:             r.serial,
			EliminatorID:       NoID,
			LastTeamChangeTick: tick,
		}
		r.slots[i] = p
		r.count++
		return p, nil
	}
	return nil, ErrRegistryFull
}

// Remove clears the slot. Back references held by other participants are
// left for the caller to sweep.
func (r *Registry) Remove(id ID) (*Participant, bool) {
	p, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	r.slots[id] = nil
	r.count--
	return p, true
}

func (r *Registry) Get(id ID) (*Participant, bool) {
	if id < 0 || int(id) >= len(r.slots) {
		return nil, false
	}
	p := r.slots[id]
	return p, p != nil
}

// Current reports whether the connection identified by id and serial is
// still the one occupying the slot.
func (r *Registry) Current(id ID, serial uint64) (*Participant, bool) {
	p, ok := r.Get(id)
	if !ok || p.Serial != serial {
		return nil, false
	}
	return p, true
}

func (r *Registry) FindByName(name string) (*Participant, bool) {
	key := stats.NormalizeName(name)
	for _, p := range r.slots {
		if p != nil && stats.NormalizeName(p.Name) == key {
			return p, true
		}
	}
	return nil, false
}

// ForEach visits participants in slot order.
func (r *Registry) ForEach(fn func(*Participant)) {
	for _, p := range r.slots {
		if p != nil {
			fn(p)
		}
	}
}

func (r *Registry) NumActive() int {
	n := 0
	r.ForEach(func(p *Participant) {
		if p.IsActive() {
			n++
		}
	})
	return n
}

func (r *Registry) NumNonDeadActive() int {
	n := 0
	r.ForEach(func(p *Participant) {
		if !p.IsSpectator() && !p.Dead {
			n++
		}
	})
	return n
}
