package server

import (
	"io"
	"strconv"
	"strings"

	"github.com/siohaza/catchd/internal/network"
	"github.com/siohaza/catchd/internal/player"
	"github.com/siohaza/catchd/internal/protocol"
	"github.com/siohaza/catchd/internal/telemetry"
)

type packet interface {
	Write(w io.Writer) error
}

// SendText delivers a server message to the connection owning to. Messages
// for participants without a connection are dropped.
func (s *Server) SendText(to player.ID, msg string) {
	conn, ok := s.owners[to]
	if !ok {
		return
	}
	s.send(conn, &protocol.PacketText{Target: int8(to), Message: msg})
}

func (s *Server) Broadcast(msg string) {
	s.broadcast(&protocol.PacketText{Target: protocol.NoTarget, Message: msg})
}

func (s *Server) send(conn network.ConnID, p packet) {
	data, err := protocol.Encode(p)
	if err != nil {
		s.logger.Error("failed to encode packet", "error", err)
		return
	}
	if err := s.network.Send(conn, data, true); err != nil {
		s.logger.Warn("failed to send packet", "conn", conn, "error", err)
		return
	}
	telemetry.PacketsTotal.WithLabelValues("out", protocol.PacketType(data[0]).String()).Inc()
}

func (s *Server) broadcast(p packet) {
	data, err := protocol.Encode(p)
	if err != nil {
		s.logger.Error("failed to encode packet", "error", err)
		return
	}
	if err := s.network.Broadcast(data, true); err != nil {
		s.logger.Warn("failed to broadcast packet", "error", err)
		return
	}
	telemetry.PacketsTotal.WithLabelValues("out", protocol.PacketType(data[0]).String()).Inc()
}

func (s *Server) handleAdmin(id player.ID, data []byte) {
	var packet protocol.PacketAdmin
	if err := packet.Read(data); err != nil {
		s.logger.Warn("invalid admin packet", "id", int(id), "error", err)
		return
	}

	arg := strings.TrimSpace(packet.Arg)
	s.logger.Info("admin command", "id", int(id), "command", packet.Command, "arg", arg)

	switch packet.Command {
	case protocol.AdminWarmup:
		seconds := -1
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil || n < -1 {
				s.SendText(id, "Usage: warmup [seconds]")
				return
			}
			seconds = n
		}
		s.session.Warmup(seconds)

	case protocol.AdminAbortWarmup:
		if !s.session.AbortWarmup() {
			s.SendText(id, "There is no warmup to abort.")
		}

	case protocol.AdminPause:
		if !s.session.TogglePause() {
			s.SendText(id, "There is no round to pause.")
		}

	case protocol.AdminMap:
		if arg == "" {
			s.SendText(id, "Current map: "+s.session.MapName())
			return
		}
		s.session.ChangeMap(arg)

	case protocol.AdminRelease:
		s.handleRelease(id, arg)

	case protocol.AdminEndMatch:
		s.session.EndMatch()

	default:
		s.SendText(id, "Unknown admin command.")
	}
}

func (s *Server) handleRelease(id player.ID, arg string) {
	if s.engine == nil {
		s.SendText(id, "Release game is only available in catch mode.")
		return
	}

	on := !s.engine.ReleaseGame()
	switch strings.ToLower(arg) {
	case "", "toggle":
	case "on", "1", "true":
		on = true
	case "off", "0", "false":
		on = false
	default:
		s.SendText(id, "Usage: release [on|off]")
		return
	}

	s.engine.SetReleaseGame(on)
	if on {
		s.Broadcast("Release game enabled.")
	} else {
		s.Broadcast("Release game disabled.")
	}
}
