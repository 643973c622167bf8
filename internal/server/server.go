package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/siohaza/catchd/internal/catch"
	"github.com/siohaza/catchd/internal/gamemode"
	"github.com/siohaza/catchd/internal/network"
	"github.com/siohaza/catchd/internal/notify"
	"github.com/siohaza/catchd/internal/persist"
	"github.com/siohaza/catchd/internal/player"
	"github.com/siohaza/catchd/internal/protocol"
	"github.com/siohaza/catchd/internal/session"
	"github.com/siohaza/catchd/internal/storage/sqlite"
	"github.com/siohaza/catchd/internal/telemetry"
	"github.com/siohaza/catchd/pkg/config"
)

// statsStartupTimeout bounds the wait for the stats table before the
// server accepts collaborators.
const statsStartupTimeout = 10 * time.Second

// Transport is the collaborator link. *network.Server implements it.
type Transport interface {
	Start() error
	Stop()
	Service(timeout time.Duration) (*network.Event, error)
	Send(conn network.ConnID, data []byte, reliable bool) error
	Broadcast(data []byte, reliable bool) error
	Disconnect(conn network.ConnID, reason uint32)
}

type Server struct {
	config    *config.Config
	network   Transport
	logger    *slog.Logger
	tickRate  time.Duration
	startTime time.Time

	session *session.Session
	mode    gamemode.Mode
	engine  *catch.Engine
	sink    *notify.Chain

	store  *sqlite.Store
	queue  *persist.Queue
	closer func()

	conns  map[network.ConnID]player.ID
	owners map[player.ID]network.ConnID

	lastState protocol.PacketState
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	transport, err := network.NewServer(cfg.Server.Port, cfg.Server.MaxPlayers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create network server: %w", err)
	}

	var store *sqlite.Store
	if cfg.Stats.Enabled && cfg.Server.Gamemode == config.GamemodeCatch {
		store, err = sqlite.Open(cfg.Stats.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open stats store: %w", err)
		}
	}

	var backend persist.Store
	if store != nil {
		backend = store
	}
	srv, err := newServer(cfg, logger, transport, backend)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	srv.store = store
	return srv, nil
}

// newServer wires the session, mode and persistence queue. A nil store
// disables stats.
func newServer(cfg *config.Config, logger *slog.Logger, transport Transport, store persist.Store) (*Server, error) {
	s := &Server{
		config:   cfg,
		network:  transport,
		logger:   logger,
		tickRate: time.Second / time.Duration(cfg.Server.TickRate),
		conns:    make(map[network.ConnID]player.ID),
		owners:   make(map[player.ID]network.ConnID),
	}
	s.sink = notify.NewChain(notify.NewLogSink(logger), s)

	if store != nil {
		s.queue = persist.New(store, persist.Config{
			Workers:   cfg.Stats.Workers,
			QueueSize: cfg.Stats.QueueSize,
			Logger:    logger,
		})
	}

	switch cfg.Server.Gamemode {
	case config.GamemodeLua:
		luaMode, err := gamemode.NewLuaMode(cfg.Server.Script, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load Lua gamemode: %w", err)
		}
		s.mode = luaMode
		s.closer = luaMode.Close
		s.logger.Info("loaded Lua game mode", "path", cfg.Server.Script, "mode", luaMode.Name())

	default:
		var submitter catch.Submitter
		if s.queue != nil {
			submitter = s.queue
		}
		engine, err := catch.New(catch.Config{
			MinPlayers:  cfg.Catch.MinPlayers,
			ReleaseGame: cfg.Catch.ReleaseGame,
			Tournament:  cfg.Catch.Tournament,
			Table:       cfg.Catch.StatsTable,
			Logger:      logger,
		}, submitter)
		if err != nil {
			return nil, fmt.Errorf("failed to create catch mode: %w", err)
		}
		s.mode = engine
		s.engine = engine
	}

	s.session = session.New(session.Config{
		TickSpeed:        cfg.Server.TickRate,
		MaxPlayers:       cfg.Server.MaxPlayers,
		CountdownSeconds: cfg.Timers.Countdown,
		RoundEndSeconds:  cfg.Timers.RoundEnd,
		MatchEndSeconds:  cfg.Timers.MatchEnd,
		WarmupSeconds:    cfg.Timers.Warmup,
		RoundsPerMatch:   cfg.Match.Rounds,
		ScoreLimit:       cfg.Match.ScoreLimit,
		Logger:           logger,
	}, s.mode, s.sink)
	s.session.ChangeMap(cfg.Server.Map)
	s.lastState = *s.statePacket()

	return s, nil
}

func (s *Server) Session() *session.Session {
	return s.session
}

// Run serves collaborators until ctx is cancelled, then disconnects every
// participant so their stats are written before the queue drains.
func (s *Server) Run(ctx context.Context) error {
	if s.queue != nil {
		s.queue.Start(ctx)
		if err := s.prepareStats(ctx); err != nil {
			s.queue.Stop()
			s.closeStore()
			return err
		}
	}

	if err := s.network.Start(); err != nil {
		if s.queue != nil {
			s.queue.Stop()
		}
		s.closeStore()
		return fmt.Errorf("failed to start network: %w", err)
	}

	s.startTime = time.Now()
	s.logger.Info("server started", "name", s.config.Server.Name, "mode", s.mode.Name(), "tick_rate", s.config.Server.TickRate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.run(gctx)
	})
	if addr := s.config.Server.MetricsAddr; addr != "" {
		g.Go(func() error {
			return telemetry.ServeMetrics(gctx, addr, s.logger)
		})
	}
	if s.queue != nil {
		g.Go(func() error {
			s.drainErrors(gctx)
			return nil
		})
	}

	err := g.Wait()
	s.shutdown()
	return err
}

func (s *Server) prepareStats(ctx context.Context) error {
	res, err := s.queue.SubmitCreate(s.engine.Table(), s.engine.Schema())
	if err != nil {
		return fmt.Errorf("failed to submit stats table creation: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, statsStartupTimeout)
	defer cancel()
	if err := res.Wait(waitCtx); err != nil {
		return fmt.Errorf("failed to create stats table: %w", err)
	}
	s.logger.Info("stats table ready", "table", s.engine.Table(), "columns", s.engine.Schema().Len())
	return nil
}

func (s *Server) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reqErr := <-s.queue.Errors():
			s.logger.Warn("stats request failed", "op", reqErr.Op, "player", reqErr.Name, "step", reqErr.Step)
		}
	}
}

func (s *Server) run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server context cancelled, exiting run loop")
			return nil

		case <-ticker.C:
			start := time.Now()
			s.update()
			telemetry.TickDuration.Observe(time.Since(start).Seconds())
		}

		s.handleNetworkEvents()
	}
}

func (s *Server) update() {
	s.session.Step()
	s.broadcastStateIfChanged()
	telemetry.Participants.Set(float64(s.session.Players().Count()))
}

func (s *Server) shutdown() {
	s.logger.Info("stopping server", "uptime", time.Since(s.startTime).Round(time.Second))

	for id := range s.owners {
		if err := s.session.Disconnect(id, "server shutdown"); err != nil {
			s.logger.Warn("failed to disconnect participant", "id", int(id), "error", err)
		}
	}
	s.conns = make(map[network.ConnID]player.ID)
	s.owners = make(map[player.ID]network.ConnID)

	s.network.Stop()

	if s.queue != nil {
		s.queue.Stop()
	}
	s.closeStore()
	if s.closer != nil {
		s.closer()
	}

	s.logger.Info("server stopped")
}

func (s *Server) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close stats store", "error", err)
	}
	s.store = nil
}

func (s *Server) handleNetworkEvents() {
	for i := 0; i < 100; i++ {
		event, err := s.network.Service(0)
		if err != nil {
			s.logger.Error("network service error", "error", err)
			return
		}

		if event.Type == network.EventTypeNone {
			return
		}

		s.handleEvent(event)
	}
}

func (s *Server) handleEvent(event *network.Event) {
	switch event.Type {
	case network.EventTypeConnect:
		s.logger.Debug("collaborator connected", "conn", event.Conn, "address", event.Address)

	case network.EventTypeDisconnect:
		s.handleDisconnect(event.Conn)

	case network.EventTypeReceive:
		s.handlePacket(event.Conn, event.Data)
	}
}

func (s *Server) handleDisconnect(conn network.ConnID) {
	id, ok := s.conns[conn]
	if !ok {
		return
	}
	delete(s.conns, conn)
	delete(s.owners, id)

	if err := s.session.Disconnect(id, "disconnected"); err != nil {
		s.logger.Warn("disconnect of unknown participant", "id", int(id), "error", err)
	}
}

func (s *Server) handlePacket(conn network.ConnID, data []byte) {
	packetType, err := protocol.ReadPacketType(data)
	if err != nil {
		return
	}
	telemetry.PacketsTotal.WithLabelValues("in", packetType.String()).Inc()

	if packetType == protocol.PacketTypeHello {
		s.handleHello(conn, data)
		return
	}

	id, ok := s.conns[conn]
	if !ok {
		s.logger.Debug("packet before hello", "conn", conn, "type", packetType)
		return
	}

	switch packetType {
	case protocol.PacketTypeSpawn:
		s.handleSpawn(conn, id)

	case protocol.PacketTypeEliminated:
		s.handleEliminated(id, data)

	case protocol.PacketTypeSelfKill:
		if err := s.session.SelfKill(id); err != nil {
			s.logger.Warn("self kill failed", "id", int(id), "error", err)
		}

	case protocol.PacketTypeSetTeam:
		s.handleSetTeam(id, data)

	case protocol.PacketTypeStatsQuery:
		s.handleStatsQuery(id, data)

	case protocol.PacketTypeAdmin:
		s.handleAdmin(id, data)

	case protocol.PacketTypeEntityQuery:
		s.handleEntityQuery(conn, data)

	default:
		s.logger.Warn("received unhandled packet", "type", packetType, "len", len(data))
	}
}

func (s *Server) handleHello(conn network.ConnID, data []byte) {
	if _, ok := s.conns[conn]; ok {
		return
	}

	var hello protocol.PacketHello
	if err := hello.Read(data); err != nil {
		s.logger.Warn("invalid hello", "conn", conn, "error", err)
		s.network.Disconnect(conn, 0)
		return
	}

	p, err := s.session.Connect(hello.Name)
	if err != nil {
		s.logger.Warn("rejecting collaborator", "conn", conn, "name", hello.Name, "error", err)
		s.network.Disconnect(conn, 0)
		return
	}
	s.conns[conn] = p.ID
	s.owners[p.ID] = conn

	s.send(conn, &protocol.PacketWelcome{ID: int8(p.ID)})
	s.send(conn, s.statePacket())
}

func (s *Server) handleSpawn(conn network.ConnID, id player.ID) {
	allowed, err := s.session.Spawn(id)
	if err != nil {
		s.logger.Warn("spawn failed", "id", int(id), "error", err)
		return
	}
	s.send(conn, &protocol.PacketSpawnVerdict{Allowed: allowed})
}

func (s *Server) handleEliminated(id player.ID, data []byte) {
	var packet protocol.PacketEliminated
	if err := packet.Read(data); err != nil {
		s.logger.Warn("invalid eliminated packet", "id", int(id), "error", err)
		return
	}

	killer := player.NoID
	if packet.Killer >= 0 {
		killer = player.ID(packet.Killer)
	}
	if err := s.session.Eliminate(id, killer, toCause(packet.Cause)); err != nil {
		s.logger.Warn("elimination failed", "id", int(id), "error", err)
	}
}

func toCause(c protocol.Cause) gamemode.Cause {
	switch c {
	case protocol.CauseSelfKill:
		return gamemode.CauseSelfKill
	case protocol.CauseWorld:
		return gamemode.CauseWorld
	case protocol.CauseTeamChange:
		return gamemode.CauseTeamChange
	default:
		return gamemode.CauseWeapon
	}
}

func (s *Server) handleSetTeam(id player.ID, data []byte) {
	var packet protocol.PacketSetTeam
	if err := packet.Read(data); err != nil {
		return
	}

	team := player.Team(packet.Team)
	if team != player.TeamSpectators && team != player.TeamRed && team != player.TeamBlue {
		s.logger.Warn("invalid team requested", "id", int(id), "team", packet.Team)
		return
	}
	if err := s.session.RequestTeam(id, team); err != nil {
		s.logger.Warn("team change failed", "id", int(id), "error", err)
	}
}

func (s *Server) handleStatsQuery(id player.ID, data []byte) {
	var packet protocol.PacketStatsQuery
	if err := packet.Read(data); err != nil {
		return
	}

	if s.engine == nil {
		s.SendText(id, "Stats are disabled on this server.")
		return
	}
	if packet.Name == "round" {
		s.engine.RoundStats(id)
		return
	}
	if err := s.engine.RequestStats(id, packet.Name); err != nil {
		s.logger.Warn("stats lookup not queued", "id", int(id), "error", err)
	}
}

func (s *Server) handleEntityQuery(conn network.ConnID, data []byte) {
	var packet protocol.PacketEntityQuery
	if err := packet.Read(data); err != nil {
		return
	}

	allowed := s.session.PlaceEntity(gamemode.Entity{
		Kind: packet.Kind,
		Team: player.Team(packet.Team),
		X:    float64(packet.X),
		Y:    float64(packet.Y),
	})
	s.send(conn, &protocol.PacketEntityVerdict{Allowed: allowed})
}

func (s *Server) statePacket() *protocol.PacketState {
	packet := &protocol.PacketState{
		State: uint8(s.session.State()),
		Round: uint16(s.session.Round()),
		Red:   uint16(s.session.TeamScore(player.TeamRed)),
		Blue:  uint16(s.session.TeamScore(player.TeamBlue)),
	}
	if s.engine != nil {
		packet.Phase = uint8(s.engine.Phase())
	}
	return packet
}

func (s *Server) broadcastStateIfChanged() {
	packet := s.statePacket()
	if *packet == s.lastState {
		return
	}

	prev := session.State(s.lastState.State)
	s.lastState = *packet
	if state := session.State(packet.State); state != prev {
		switch state {
		case session.StateRoundEnd:
			telemetry.RoundsTotal.Inc()
		case session.StateMatchEnd:
			if prev == session.StateRunning {
				telemetry.RoundsTotal.Inc()
			}
			telemetry.MatchesTotal.Inc()
		}
	}

	s.broadcast(packet)
}
