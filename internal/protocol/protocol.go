package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	MaxNameLen    = 16
	MaxMessageLen = 255

	// NoTarget marks a broadcast Text packet or an elimination without killer.
	NoTarget int8 = -1
)

type PacketType uint8

const (
	PacketTypeHello       PacketType = 1
	PacketTypeSpawn       PacketType = 2
	PacketTypeEliminated  PacketType = 3
	PacketTypeSelfKill    PacketType = 4
	PacketTypeSetTeam     PacketType = 5
	PacketTypeStatsQuery  PacketType = 6
	PacketTypeAdmin       PacketType = 7
	PacketTypeEntityQuery PacketType = 8

	PacketTypeText          PacketType = 16
	PacketTypeState         PacketType = 17
	PacketTypeSpawnVerdict  PacketType = 18
	PacketTypeEntityVerdict PacketType = 19
	PacketTypeWelcome       PacketType = 20
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeHello:
		return "hello"
	case PacketTypeSpawn:
		return "spawn"
	case PacketTypeEliminated:
		return "eliminated"
	case PacketTypeSelfKill:
		return "selfkill"
	case PacketTypeSetTeam:
		return "set_team"
	case PacketTypeStatsQuery:
		return "stats_query"
	case PacketTypeAdmin:
		return "admin"
	case PacketTypeEntityQuery:
		return "entity_query"
	case PacketTypeText:
		return "text"
	case PacketTypeState:
		return "state"
	case PacketTypeSpawnVerdict:
		return "spawn_verdict"
	case PacketTypeEntityVerdict:
		return "entity_verdict"
	case PacketTypeWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// Cause mirrors the reasons a collaborator reports for an elimination.
type Cause uint8

const (
	CauseWeapon     Cause = 0
	CauseSelfKill   Cause = 1
	CauseWorld      Cause = 2
	CauseTeamChange Cause = 3
)

type AdminCommand uint8

const (
	AdminWarmup      AdminCommand = 0
	AdminAbortWarmup AdminCommand = 1
	AdminPause       AdminCommand = 2
	AdminMap         AdminCommand = 3
	AdminRelease     AdminCommand = 4
	AdminEndMatch    AdminCommand = 5
)

func (c AdminCommand) String() string {
	switch c {
	case AdminWarmup:
		return "warmup"
	case AdminAbortWarmup:
		return "abort_warmup"
	case AdminPause:
		return "pause"
	case AdminMap:
		return "map"
	case AdminRelease:
		return "release"
	case AdminEndMatch:
		return "end_match"
	default:
		return "unknown"
	}
}

type PacketHello struct {
	Name string
}

type PacketSpawn struct{}

type PacketEliminated struct {
	Killer int8
	Cause  Cause
}

type PacketSelfKill struct{}

type PacketSetTeam struct {
	Team int8
}

type PacketStatsQuery struct {
	Name string
}

type PacketAdmin struct {
	Command AdminCommand
	Arg     string
}

type PacketEntityQuery struct {
	Team int8
	X, Y float32
	Kind string
}

type PacketText struct {
	Target  int8
	Message string
}

type PacketState struct {
	State uint8
	Phase uint8
	Round uint16
	Red   uint16
	Blue  uint16
}

// PacketWelcome tells a collaborator the participant id it was given.
type PacketWelcome struct {
	ID int8
}

type PacketSpawnVerdict struct {
	Allowed bool
}

type PacketEntityVerdict struct {
	Allowed bool
}

var cp437Decoder = charmap.CodePage437.NewDecoder()

// StringToCP437 encodes s, replacing characters CP437 cannot represent.
func StringToCP437(s string) ([]byte, error) {
	return encoding.ReplaceUnsupported(charmap.CodePage437.NewEncoder()).Bytes([]byte(s))
}

func CP437ToString(b []byte) (string, error) {
	trimmed := bytes.TrimRight(b, "\x00")
	decoded, err := cp437Decoder.Bytes(trimmed)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func ReadPacketType(data []byte) (PacketType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("packet too small")
	}
	return PacketType(data[0]), nil
}

func writeText(buf *bytes.Buffer, s string, limit int) error {
	encoded, err := StringToCP437(s)
	if err != nil {
		return err
	}
	if len(encoded) > limit {
		encoded = encoded[:limit]
	}
	buf.Write(encoded)
	return nil
}

func readText(data []byte, limit int) (string, error) {
	if len(data) > limit {
		data = data[:limit]
	}
	return CP437ToString(data)
}

func (p *PacketHello) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(uint8(PacketTypeHello))
	if err := writeText(&buf, p.Name, MaxNameLen); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *PacketHello) Read(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("hello packet too small")
	}
	name, err := readText(data[1:], MaxNameLen)
	if err != nil {
		return fmt.Errorf("failed to decode name: %w", err)
	}
	p.Name = name
	return nil
}

func (p *PacketSpawn) Write(w io.Writer) error {
	_, err := w.Write([]byte{uint8(PacketTypeSpawn)})
	return err
}

func (p *PacketSelfKill) Write(w io.Writer) error {
	_, err := w.Write([]byte{uint8(PacketTypeSelfKill)})
	return err
}

func (p *PacketEliminated) Write(w io.Writer) error {
	_, err := w.Write([]byte{uint8(PacketTypeEliminated), uint8(p.Killer), uint8(p.Cause)})
	return err
}

func (p *PacketEliminated) Read(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("eliminated packet too small")
	}
	p.Killer = int8(data[1])
	p.Cause = Cause(data[2])
	return nil
}

func (p *PacketSetTeam) Write(w io.Writer) error {
	_, err := w.Write([]byte{uint8(PacketTypeSetTeam), uint8(p.Team)})
	return err
}

func (p *PacketSetTeam) Read(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("set team packet too small")
	}
	p.Team = int8(data[1])
	return nil
}

func (p *PacketStatsQuery) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(uint8(PacketTypeStatsQuery))
	if err := writeText(&buf, p.Name, MaxNameLen); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Read accepts an empty name, which asks for the sender's own stats.
func (p *PacketStatsQuery) Read(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("stats query packet too small")
	}
	name, err := readText(data[1:], MaxNameLen)
	if err != nil {
		return fmt.Errorf("failed to decode name: %w", err)
	}
	p.Name = name
	return nil
}

func (p *PacketAdmin) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(uint8(PacketTypeAdmin))
	buf.WriteByte(uint8(p.Command))
	if err := writeText(&buf, p.Arg, MaxMessageLen); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *PacketAdmin) Read(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("admin packet too small")
	}
	p.Command = AdminCommand(data[1])
	arg, err := readText(data[2:], MaxMessageLen)
	if err != nil {
		return fmt.Errorf("failed to decode argument: %w", err)
	}
	p.Arg = arg
	return nil
}

func (p *PacketEntityQuery) Write(w io.Writer) error {
	buf := make([]byte, 10, 10+len(p.Kind))
	buf[0] = uint8(PacketTypeEntityQuery)
	buf[1] = uint8(p.Team)
	binary.LittleEndian.PutUint32(buf[2:6], math.Float32bits(p.X))
	binary.LittleEndian.PutUint32(buf[6:10], math.Float32bits(p.Y))
	kind, err := StringToCP437(p.Kind)
	if err != nil {
		return err
	}
	buf = append(buf, kind...)
	_, err = w.Write(buf)
	return err
}

func (p *PacketEntityQuery) Read(data []byte) error {
	if len(data) < 10 {
		return fmt.Errorf("entity query packet too small")
	}
	p.Team = int8(data[1])
	p.X = math.Float32frombits(binary.LittleEndian.Uint32(data[2:6]))
	p.Y = math.Float32frombits(binary.LittleEndian.Uint32(data[6:10]))
	kind, err := readText(data[10:], MaxNameLen)
	if err != nil {
		return fmt.Errorf("failed to decode entity kind: %w", err)
	}
	p.Kind = kind
	return nil
}

func (p *PacketText) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte(uint8(PacketTypeText))
	buf.WriteByte(uint8(p.Target))
	if err := writeText(&buf, p.Message, MaxMessageLen); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *PacketText) Read(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("text packet too small")
	}
	p.Target = int8(data[1])
	msg, err := readText(data[2:], MaxMessageLen)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	p.Message = msg
	return nil
}

func (p *PacketState) Write(w io.Writer) error {
	buf := make([]byte, 9)
	buf[0] = uint8(PacketTypeState)
	buf[1] = p.State
	buf[2] = p.Phase
	binary.LittleEndian.PutUint16(buf[3:5], p.Round)
	binary.LittleEndian.PutUint16(buf[5:7], p.Red)
	binary.LittleEndian.PutUint16(buf[7:9], p.Blue)
	_, err := w.Write(buf)
	return err
}

func (p *PacketState) Read(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("state packet too small")
	}
	p.State = data[1]
	p.Phase = data[2]
	p.Round = binary.LittleEndian.Uint16(data[3:5])
	p.Red = binary.LittleEndian.Uint16(data[5:7])
	p.Blue = binary.LittleEndian.Uint16(data[7:9])
	return nil
}

func (p *PacketWelcome) Write(w io.Writer) error {
	_, err := w.Write([]byte{uint8(PacketTypeWelcome), uint8(p.ID)})
	return err
}

func (p *PacketWelcome) Read(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("welcome packet too small")
	}
	p.ID = int8(data[1])
	return nil
}

func writeVerdict(w io.Writer, t PacketType, allowed bool) error {
	var v uint8
	if allowed {
		v = 1
	}
	_, err := w.Write([]byte{uint8(t), v})
	return err
}

func readVerdict(data []byte) (bool, error) {
	if len(data) < 2 {
		return false, fmt.Errorf("verdict packet too small")
	}
	return data[1] != 0, nil
}

func (p *PacketSpawnVerdict) Write(w io.Writer) error {
	return writeVerdict(w, PacketTypeSpawnVerdict, p.Allowed)
}

func (p *PacketSpawnVerdict) Read(data []byte) (err error) {
	p.Allowed, err = readVerdict(data)
	return err
}

func (p *PacketEntityVerdict) Write(w io.Writer) error {
	return writeVerdict(w, PacketTypeEntityVerdict, p.Allowed)
}

func (p *PacketEntityVerdict) Read(data []byte) (err error) {
	p.Allowed, err = readVerdict(data)
	return err
}

// Encode serialises any packet with a Write method.
func Encode(packet interface{ Write(io.Writer) error }) ([]byte, error) {
	var buf bytes.Buffer
	if err := packet.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
