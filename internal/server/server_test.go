package server

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/siohaza/catchd/internal/network"
	"github.com/siohaza/catchd/internal/player"
	"github.com/siohaza/catchd/internal/protocol"
	"github.com/siohaza/catchd/internal/session"
	"github.com/siohaza/catchd/internal/storage/sqlite"
	"github.com/siohaza/catchd/pkg/config"
)

type sent struct {
	conn      network.ConnID
	broadcast bool
	data      []byte
}

type fakeTransport struct {
	mu      sync.Mutex
	events  []*network.Event
	sent    []sent
	dropped []network.ConnID
	started bool
	stopped bool
}

func (f *fakeTransport) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTransport) Service(timeout time.Duration) (*network.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return &network.Event{Type: network.EventTypeNone}, nil
	}
	event := f.events[0]
	f.events = f.events[1:]
	return event, nil
}

func (f *fakeTransport) Send(conn network.ConnID, data []byte, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{conn: conn, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) Broadcast(data []byte, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{broadcast: true, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) Disconnect(conn network.ConnID, reason uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, conn)
}

func (f *fakeTransport) push(event *network.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

// texts returns the messages of Text packets addressed to conn.
func (f *fakeTransport) texts(conn network.ConnID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.broadcast || s.conn != conn || protocol.PacketType(s.data[0]) != protocol.PacketTypeText {
			continue
		}
		var text protocol.PacketText
		if err := text.Read(s.data); err == nil {
			out = append(out, text.Message)
		}
	}
	return out
}

func (f *fakeTransport) packets(conn network.ConnID, packetType protocol.PacketType) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, s := range f.sent {
		if !s.broadcast && s.conn == conn && protocol.PacketType(s.data[0]) == packetType {
			out = append(out, s.data)
		}
	}
	return out
}

func contains(msgs []string, want string) bool {
	for _, msg := range msgs {
		if msg == want {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServer(t *testing.T, cfg *config.Config) (*Server, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	srv, err := newServer(cfg, testLogger(), transport, nil)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return srv, transport
}

func encode(t *testing.T, p packet) []byte {
	t.Helper()
	data, err := protocol.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func hello(t *testing.T, srv *Server, conn network.ConnID, name string) player.ID {
	t.Helper()
	srv.handlePacket(conn, encode(t, &protocol.PacketHello{Name: name}))
	id, ok := srv.conns[conn]
	if !ok {
		t.Fatalf("hello from %q was not accepted", name)
	}
	return id
}

func TestHelloRegistersParticipant(t *testing.T) {
	srv, transport := testServer(t, config.Default())

	id := hello(t, srv, 7, "alice")

	p, ok := srv.Session().Players().Get(id)
	if !ok || p.Name != "alice" {
		t.Fatalf("participant not registered: %+v", p)
	}

	welcomes := transport.packets(7, protocol.PacketTypeWelcome)
	if len(welcomes) != 1 {
		t.Fatalf("expected one welcome, got %d", len(welcomes))
	}
	var welcome protocol.PacketWelcome
	if err := welcome.Read(welcomes[0]); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if player.ID(welcome.ID) != id {
		t.Fatalf("expected welcome id %d, got %d", id, welcome.ID)
	}
	if len(transport.packets(7, protocol.PacketTypeState)) != 1 {
		t.Fatalf("expected state snapshot after welcome")
	}

	// A repeated hello on the same connection is ignored.
	srv.handlePacket(7, encode(t, &protocol.PacketHello{Name: "alice2"}))
	if srv.Session().Players().Count() != 1 {
		t.Fatalf("expected one participant, got %d", srv.Session().Players().Count())
	}
}

func TestHelloRejectedWhenFull(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxPlayers = 2
	srv, transport := testServer(t, cfg)

	hello(t, srv, 1, "a")
	hello(t, srv, 2, "b")
	srv.handlePacket(3, encode(t, &protocol.PacketHello{Name: "c"}))

	if _, ok := srv.conns[3]; ok {
		t.Fatalf("third connection should be rejected")
	}
	if len(transport.dropped) != 1 || transport.dropped[0] != 3 {
		t.Fatalf("expected conn 3 to be dropped, got %v", transport.dropped)
	}
}

func TestPacketBeforeHelloIgnored(t *testing.T) {
	srv, transport := testServer(t, config.Default())

	srv.handlePacket(4, encode(t, &protocol.PacketSpawn{}))

	if len(transport.sent) != 0 {
		t.Fatalf("expected no reply, got %d packets", len(transport.sent))
	}
}

func TestSpawnVerdict(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketSpawn{}))

	verdicts := transport.packets(1, protocol.PacketTypeSpawnVerdict)
	if len(verdicts) != 1 {
		t.Fatalf("expected one spawn verdict, got %d", len(verdicts))
	}
	var verdict protocol.PacketSpawnVerdict
	if err := verdict.Read(verdicts[0]); err != nil {
		t.Fatalf("read verdict: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected spawn to be allowed during warmup")
	}
}

func TestStatsQueryWithoutStore(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketStatsQuery{Name: "a"}))

	if !contains(transport.texts(1), "Stats are disabled on this server.") {
		t.Fatalf("expected disabled notice, got %v", transport.texts(1))
	}
}

func TestRoundStatsQuery(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketStatsQuery{Name: "round"}))

	if !contains(transport.texts(1), "~~~ round stats for 'a' ~~~") {
		t.Fatalf("expected round stats header, got %v", transport.texts(1))
	}
}

func TestAdminReleaseToggle(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminRelease}))
	if !srv.engine.ReleaseGame() {
		t.Fatalf("expected release game to be enabled")
	}

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminRelease, Arg: "off"}))
	if srv.engine.ReleaseGame() {
		t.Fatalf("expected release game to be disabled")
	}

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminRelease, Arg: "maybe"}))
	if !contains(transport.texts(1), "Usage: release [on|off]") {
		t.Fatalf("expected usage text, got %v", transport.texts(1))
	}
}

func TestAdminWarmupAndAbort(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminWarmup, Arg: "30"}))
	if srv.Session().State() != session.StateWarmupUser {
		t.Fatalf("expected user warmup, got %s", srv.Session().State())
	}

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminAbortWarmup}))
	if srv.Session().State() != session.StateCountdownRoundStart {
		t.Fatalf("expected countdown, got %s", srv.Session().State())
	}

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminWarmup, Arg: "soon"}))
	if !contains(transport.texts(1), "Usage: warmup [seconds]") {
		t.Fatalf("expected usage text, got %v", transport.texts(1))
	}
}

func TestAdminPauseOutsideRound(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminPause}))

	if !contains(transport.texts(1), "There is no round to pause.") {
		t.Fatalf("expected pause refusal, got %v", transport.texts(1))
	}
}

func TestAdminMap(t *testing.T) {
	srv, transport := testServer(t, config.Default())
	hello(t, srv, 1, "a")

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminMap}))
	if !contains(transport.texts(1), "Current map: default") {
		t.Fatalf("expected current map, got %v", transport.texts(1))
	}

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminMap, Arg: "arena"}))
	if srv.Session().MapName() != "arena" {
		t.Fatalf("expected map arena, got %q", srv.Session().MapName())
	}
}

func TestDisconnectEventRemovesParticipant(t *testing.T) {
	srv, _ := testServer(t, config.Default())
	id := hello(t, srv, 1, "a")

	srv.handleEvent(&network.Event{Type: network.EventTypeDisconnect, Conn: 1})

	if _, ok := srv.Session().Players().Get(id); ok {
		t.Fatalf("participant should be gone")
	}
	if _, ok := srv.owners[id]; ok {
		t.Fatalf("owner mapping should be gone")
	}

	// Unknown connections are ignored.
	srv.handleEvent(&network.Event{Type: network.EventTypeDisconnect, Conn: 99})
}

func TestStateBroadcastOnChange(t *testing.T) {
	srv, transport := testServer(t, config.Default())

	srv.update()
	srv.update()

	var states int
	for _, s := range transport.sent {
		if s.broadcast && protocol.PacketType(s.data[0]) == protocol.PacketTypeState {
			states++
		}
	}
	if states != 0 {
		t.Fatalf("unchanged warmup state should not be broadcast, got %d", states)
	}

	hello(t, srv, 1, "a")
	hello(t, srv, 2, "b")
	srv.update()

	for _, s := range transport.sent {
		if s.broadcast && protocol.PacketType(s.data[0]) == protocol.PacketTypeState {
			states++
		}
	}
	if states != 1 {
		t.Fatalf("expected one state broadcast after countdown started, got %d", states)
	}
}

func TestLuaModeServer(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Gamemode = config.GamemodeLua
	cfg.Server.Script = "../../scripts/gamemodes/lms.lua"
	cfg.Stats.Enabled = true
	srv, transport := testServer(t, cfg)
	defer srv.closer()

	if srv.engine != nil {
		t.Fatalf("lua mode should not create a catch engine")
	}
	if srv.Session().Mode().Name() != "lms" {
		t.Fatalf("expected lms mode, got %q", srv.Session().Mode().Name())
	}

	hello(t, srv, 1, "a")
	srv.handlePacket(1, encode(t, &protocol.PacketStatsQuery{}))
	if !contains(transport.texts(1), "Stats are disabled on this server.") {
		t.Fatalf("expected disabled notice, got %v", transport.texts(1))
	}

	srv.handlePacket(1, encode(t, &protocol.PacketAdmin{Command: protocol.AdminRelease}))
	if !contains(transport.texts(1), "Release game is only available in catch mode.") {
		t.Fatalf("expected release refusal, got %v", transport.texts(1))
	}
}

func TestRunServesStatsLookup(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	cfg := config.Default()
	cfg.Stats.Enabled = true
	cfg.Stats.Workers = 2
	transport := &fakeTransport{}
	srv, err := newServer(cfg, testLogger(), transport, store)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	srv.store = store

	transport.push(&network.Event{Type: network.EventTypeConnect, Conn: 1})
	transport.push(&network.Event{Type: network.EventTypeReceive, Conn: 1, Data: encode(t, &protocol.PacketHello{Name: "alice"})})
	transport.push(&network.Event{Type: network.EventTypeReceive, Conn: 1, Data: encode(t, &protocol.PacketStatsQuery{Name: "nobody"})})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	want := "'nobody' has no stats yet."
	deadline := time.Now().Add(5 * time.Second)
	for !contains(transport.texts(1), want) {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("lookup answer not delivered, got %v", transport.texts(1))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	transport.mu.Lock()
	started, stopped := transport.started, transport.stopped
	transport.mu.Unlock()
	if !started || !stopped {
		t.Fatalf("expected transport to be started and stopped: started=%v stopped=%v", started, stopped)
	}
	if srv.Session().Players().Count() != 0 {
		t.Fatalf("participants should be disconnected on shutdown")
	}
}
