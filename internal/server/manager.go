package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/network"
	"github.com/alphacraft-project/alphacraft/internal/player"
	"github.com/alphacraft-project/alphacraft/internal/session"
)

// ErrPlayerNotOnline is returned when a command targets an absent player.
var ErrPlayerNotOnline = errors.New("player not online")

// Manager owns the shared server state and creates a session for every
// accepted connection.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	state    *State

	registry     *player.Registry
	allocator    *player.EntityIDAllocator
	connRegistry *network.ConnectionRegistry
}

// NewManager creates the server state and subscribes to control events.
func NewManager(cfg *config.Config, eventBus *events.EventBus) (*Manager, error) {
	if cfg == nil || eventBus == nil {
		return nil, fmt.Errorf("config and event bus are required")
	}

	mgr := &Manager{
		cfg:          cfg,
		eventBus:     eventBus,
		state:        NewState(),
		registry:     player.NewRegistry(),
		allocator:    player.NewEntityIDAllocator(),
		connRegistry: network.NewConnectionRegistry(),
	}

	mgr.subscribeEvents()
	return mgr, nil
}

// subscribeEvents registers all event handlers on the EventBus.
func (m *Manager) subscribeEvents() {
	bus := m.eventBus

	bus.Subscribe(events.EventPlayerJoin, "manager.playerJoin", m.onPlayerJoin)
	bus.Subscribe(events.EventKickPlayer, "manager.kickPlayer", m.onCmdKickPlayer)
	bus.Subscribe(events.EventConfigChanged, "manager.configChanged", m.onConfigChanged)
	bus.Subscribe(events.EventShutdown, "manager.shutdown", m.onShutdown)

	log.Debug().Msg("manager event subscriptions registered")
}

// GetConnectionRegistry implements network.SessionManager.
func (m *Manager) GetConnectionRegistry() *network.ConnectionRegistry {
	return m.connRegistry
}

// ServeConnection implements network.SessionManager. It runs one session
// over conn until the client leaves.
func (m *Manager) ServeConnection(ctx context.Context, conn *network.Connection) error {
	srv := m.cfg.GetServer()
	logger := conn.Logger()

	opts := session.Options{
		ID:              conn.ID(),
		Remote:          conn.RemoteAddr(),
		ProtocolVersion: uint32(srv.ProtocolVersion),
		MaxPlayers:      srv.MaxPlayers,
		SpawnX:          srv.SpawnX,
		SpawnY:          srv.SpawnY,
		SpawnZ:          srv.SpawnZ,
		SpawnStance:     srv.SpawnStance,
		SpawnChunkX:     srv.SpawnChunkX,
		SpawnChunkZ:     srv.SpawnChunkZ,
		OnLogin: func(p player.Player) {
			conn.SetUsername(p.Username)
		},
		Logger: &logger,
	}

	s := session.New(conn, session.Deps{
		Registry:  m.registry,
		Allocator: m.allocator,
		Bus:       m.eventBus,
	}, opts)

	err := s.Run(ctx)
	m.state.RecordSession(err != nil)
	return err
}

// Kick closes the named player's connection. The session notices the
// closed socket, removes the player and publishes player_leave.
func (m *Manager) Kick(username, reason string) error {
	conn, ok := m.connRegistry.FindByUsername(username)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlayerNotOnline, username)
	}
	if reason == "" {
		reason = "kicked"
	}

	log.Info().Str("username", username).Str("reason", reason).Msg("kicking player")
	return conn.CloseWithReason(reason)
}

// Players returns all registered players in join order.
func (m *Manager) Players() []player.Player {
	return m.registry.List()
}

// GetPlayer returns one player.
func (m *Manager) GetPlayer(username string) (player.Player, bool) {
	return m.registry.Get(username)
}

// Sessions returns snapshots of all open connections.
func (m *Manager) Sessions() []network.Info {
	return m.connRegistry.List()
}

// Registry returns the player registry.
func (m *Manager) Registry() *player.Registry {
	return m.registry
}

// Allocator returns the entity id allocator.
func (m *Manager) Allocator() *player.EntityIDAllocator {
	return m.allocator
}

// State returns the lifecycle state.
func (m *Manager) State() *State {
	return m.state
}

// Status is a summary of the running server.
type Status struct {
	Name            string        `json:"name"`
	MOTD            string        `json:"motd"`
	Address         string        `json:"address"`
	ProtocolVersion int           `json:"protocol_version"`
	Players         int           `json:"players"`
	MaxPlayers      int           `json:"max_players"`
	Connections     int           `json:"connections"`
	LastEntityID    int32         `json:"last_entity_id"`
	Uptime          time.Duration `json:"uptime_ns"`
	Counters        Counters      `json:"counters"`
}

// GetStatus returns a summary of the server.
func (m *Manager) GetStatus() Status {
	srv := m.cfg.GetServer()
	return Status{
		Name:            srv.Name,
		MOTD:            srv.MOTD,
		Address:         srv.ListenAddress(),
		ProtocolVersion: srv.ProtocolVersion,
		Players:         m.registry.Count(),
		MaxPlayers:      srv.MaxPlayers,
		Connections:     m.connRegistry.Count(),
		LastEntityID:    m.allocator.Last(),
		Uptime:          m.state.Uptime(),
		Counters:        m.state.Snapshot(),
	}
}

// StopAll closes every client connection.
func (m *Manager) StopAll() {
	m.state.SetPhase(PhaseStopping)
	m.connRegistry.CloseAll("server shutting down")
}

func (m *Manager) onPlayerJoin(ctx context.Context, event events.Event) error {
	m.state.RecordLogin(m.registry.Count())
	return nil
}

func (m *Manager) onCmdKickPlayer(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.KickPlayerPayload)
	if !ok {
		return fmt.Errorf("invalid kick payload")
	}
	return m.Kick(payload.Username, payload.Reason)
}

func (m *Manager) onConfigChanged(ctx context.Context, event events.Event) error {
	if payload, ok := event.Payload.(events.ConfigChangedPayload); ok {
		log.Info().
			Str("section", payload.Section).
			Str("key", payload.Key).
			Msg("configuration changed, applies to new sessions")
	}
	return nil
}

func (m *Manager) onShutdown(ctx context.Context, event events.Event) error {
	log.Info().Msg("shutdown event received, closing client connections")
	m.StopAll()
	return nil
}
