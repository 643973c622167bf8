package network

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/codecat/go-enet"
)

// ConnID identifies one collaborator connection for its lifetime.
type ConnID uint32

type Server struct {
	host     enet.Host
	port     uint16
	maxPeers int
	logger   *slog.Logger

	nextID ConnID
	conns  map[enet.Peer]ConnID
	peers  map[ConnID]enet.Peer
}

type Event struct {
	Type      EventType
	Conn      ConnID
	Address   string
	Data      []byte
	ChannelID uint8
}

type EventType int

const (
	EventTypeNone EventType = iota
	EventTypeConnect
	EventTypeDisconnect
	EventTypeReceive
)

func NewServer(port int, maxPeers int, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", port)
	}

	return &Server{
		port:     uint16(port),
		maxPeers: maxPeers,
		logger:   logger,
		conns:    make(map[enet.Peer]ConnID),
		peers:    make(map[ConnID]enet.Peer),
	}, nil
}

func (s *Server) Start() error {
	address := enet.NewListenAddress(s.port)

	var err error
	s.host, err = enet.NewHost(address, uint64(s.maxPeers), 1, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to create ENet host: %w", err)
	}

	if err := s.host.CompressWithRangeCoder(); err != nil {
		return fmt.Errorf("failed to setup range coder compression: %w", err)
	}

	s.logger.Info("listening for collaborators", "port", s.port, "max_peers", s.maxPeers)
	return nil
}

func (s *Server) Stop() {
	if s.host == nil {
		return
	}
	for id, peer := range s.peers {
		peer.DisconnectNow(0)
		delete(s.peers, id)
		delete(s.conns, peer)
	}
	s.host.Destroy()
	s.host = nil
	s.logger.Info("network stopped")
}

// Service waits up to timeout for one event. A zero timeout polls.
func (s *Server) Service(timeout time.Duration) (*Event, error) {
	if s.host == nil {
		return nil, fmt.Errorf("server not started")
	}

	enetEvent := s.host.Service(uint32(timeout.Milliseconds()))
	if enetEvent == nil || enetEvent.GetType() == enet.EventNone {
		return &Event{Type: EventTypeNone}, nil
	}

	peer := enetEvent.GetPeer()
	event := &Event{}
	if peer != nil {
		event.Address = peer.GetAddress().String()
	}

	switch enetEvent.GetType() {
	case enet.EventConnect:
		s.nextID++
		s.conns[peer] = s.nextID
		s.peers[s.nextID] = peer
		event.Type = EventTypeConnect
		event.Conn = s.nextID
		s.logger.Debug("peer connected", "conn", event.Conn, "peer", event.Address)

	case enet.EventDisconnect:
		event.Type = EventTypeDisconnect
		event.Conn = s.conns[peer]
		delete(s.conns, peer)
		delete(s.peers, event.Conn)
		s.logger.Debug("peer disconnected", "conn", event.Conn, "peer", event.Address)

	case enet.EventReceive:
		event.Type = EventTypeReceive
		event.Conn = s.conns[peer]
		packet := enetEvent.GetPacket()
		if packet != nil {
			event.Data = append([]byte(nil), packet.GetData()...)
			event.ChannelID = enetEvent.GetChannelID()
			packet.Destroy()
		}
	}

	return event, nil
}

func (s *Server) Send(conn ConnID, data []byte, reliable bool) error {
	peer, ok := s.peers[conn]
	if !ok {
		return fmt.Errorf("unknown connection %d", conn)
	}

	flags := enet.PacketFlagUnsequenced
	if reliable {
		flags = enet.PacketFlagReliable
	}

	packet, err := enet.NewPacket(data, flags)
	if err != nil {
		return fmt.Errorf("failed to create packet: %w", err)
	}

	if err := peer.SendPacket(packet, 0); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	return nil
}

func (s *Server) Broadcast(data []byte, reliable bool) error {
	if s.host == nil {
		return fmt.Errorf("server not started")
	}

	flags := enet.PacketFlagUnsequenced
	if reliable {
		flags = enet.PacketFlagReliable
	}

	if err := s.host.BroadcastBytes(data, 0, flags); err != nil {
		return fmt.Errorf("failed to broadcast: %w", err)
	}

	return nil
}

// Disconnect asks the peer to leave; the disconnect event follows from
// Service.
func (s *Server) Disconnect(conn ConnID, reason uint32) {
	if peer, ok := s.peers[conn]; ok {
		peer.Disconnect(reason)
	}
}

func (s *Server) PeerCount() int {
	return len(s.peers)
}
