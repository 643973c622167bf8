package network

import (
	"testing"
	"time"
)

func TestNewServerRejectsBadPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		if _, err := NewServer(port, 8, nil); err == nil {
			t.Fatalf("NewServer(%d) succeeded", port)
		}
	}
}

func TestUnstartedServer(t *testing.T) {
	s, err := NewServer(32887, 8, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if _, err := s.Service(time.Millisecond); err == nil {
		t.Fatalf("Service() before Start succeeded")
	}
	if err := s.Send(1, []byte{1}, true); err == nil {
		t.Fatalf("Send() to unknown connection succeeded")
	}
	if err := s.Broadcast([]byte{1}, true); err == nil {
		t.Fatalf("Broadcast() before Start succeeded")
	}
	if s.PeerCount() != 0 {
		t.Fatalf("PeerCount() = %d", s.PeerCount())
	}
	s.Disconnect(1, 0)
	s.Stop()
}
