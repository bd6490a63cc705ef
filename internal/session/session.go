// Package session runs the per-connection packet dispatch loop: it reads
// one packet id at a time, decodes the payload and applies it to the shared
// player registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/player"
	"github.com/alphacraft-project/alphacraft/internal/protocol"
)

// Options configures a session.
type Options struct {
	ID     uint64
	Remote string

	ProtocolVersion uint32
	MaxPlayers      int

	SpawnX, SpawnY, SpawnZ float64
	SpawnStance            float64
	SpawnChunkX            int32
	SpawnChunkZ            int32

	// OnLogin is called after the login burst has been sent.
	OnLogin func(p player.Player)

	Logger *zerolog.Logger
}

// DefaultOptions returns options matching the stock server.
func DefaultOptions() Options {
	return Options{
		ProtocolVersion: protocol.Version,
		SpawnX:          player.SpawnX,
		SpawnY:          player.SpawnY,
		SpawnZ:          player.SpawnZ,
		SpawnStance:     player.SpawnStance,
		SpawnChunkX:     1,
		SpawnChunkZ:     1,
	}
}

// Deps are the shared objects a session works against. Bus may be nil.
type Deps struct {
	Registry  *player.Registry
	Allocator *player.EntityIDAllocator
	Bus       *events.EventBus
}

type handlerFunc func(ctx context.Context) error

// Session is the protocol state of one client connection. It is driven by a
// single goroutine calling Run.
type Session struct {
	ch   *protocol.Channel
	deps Deps
	opts Options

	state    events.SessionState
	username string
	entityID int32

	handlers map[byte]handlerFunc
	logger   zerolog.Logger
}

// New creates a session over rw.
func New(rw io.ReadWriter, deps Deps, opts Options) *Session {
	logger := log.With().Str("component", "session").Uint64("session", opts.ID).Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "session").Logger()
	}

	s := &Session{
		ch:     protocol.NewChannel(rw),
		deps:   deps,
		opts:   opts,
		state:  events.SessionUnauthenticated,
		logger: logger,
	}

	s.handlers = map[byte]handlerFunc{
		protocol.PktKeepAlive:             s.handleKeepAlive,
		protocol.PktLogin:                 s.handleLogin,
		protocol.PktHandshake:             s.handleHandshake,
		protocol.PktChatMessage:           s.handleChatMessage,
		protocol.PktPlayer:                s.handlePlayer,
		protocol.PktPlayerPosition:        s.handlePlayerPosition,
		protocol.PktPlayerLook:            s.handlePlayerLook,
		protocol.PktPlayerPositionAndLook: s.handlePlayerPositionAndLook,
		protocol.PktKickOrDisconnect:      s.handleDisconnect,
	}
	return s
}

// State returns the current protocol state.
func (s *Session) State() events.SessionState {
	return s.state
}

// Username returns the player bound to this session, or "".
func (s *Session) Username() string {
	return s.username
}

// EntityID returns the entity id allocated at login, or 0.
func (s *Session) EntityID() int32 {
	return s.entityID
}

// Run reads and dispatches packets until the client disconnects or an error
// occurs. A client closing the stream between packets, or sending 0xFF, is a
// clean end and returns nil. On return the session's player has been removed
// from the registry.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() { s.terminate(ctx, err) }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		id, err := s.ch.ReadUint8()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return fmt.Errorf("reading packet id: %w", err)
		}

		handler, ok := s.handlers[id]
		if !ok {
			unknown := &UnknownPacketError{ID: id}
			s.logger.Warn().
				Str("packet", protocol.PacketName(id)).
				Bool("in_table", unknown.Known()).
				Msg("unhandled packet, terminating session")
			return unknown
		}

		s.logger.Trace().Str("packet", protocol.PacketName(id)).Msg("packet received")

		if err := handler(ctx); err != nil {
			if errors.Is(err, errClientDisconnect) {
				return nil
			}
			return fmt.Errorf("handling %s: %w", protocol.PacketName(id), err)
		}
	}
}

// isClosed reports whether err means the stream ended at a packet boundary
// or the socket was closed locally.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (s *Session) terminate(ctx context.Context, err error) {
	s.state = events.SessionTerminated

	reason := "disconnected"
	if err != nil {
		reason = err.Error()
		s.logger.Warn().Err(err).Msg("session terminated")
		s.emit(ctx, events.EventSessionError, events.SessionErrorPayload{
			SessionID: s.source(),
			Remote:    s.opts.Remote,
			Username:  s.username,
			Error:     err.Error(),
		})
	} else {
		s.logger.Debug().Msg("session terminated")
	}

	if s.username == "" {
		return
	}
	last, ok := s.deps.Registry.Remove(s.username)
	if !ok {
		return
	}

	s.logger.Info().
		Str("reason", reason).
		Msg("player left")

	s.emit(ctx, events.EventPlayerLeave, events.PlayerLeavePayload{
		SessionID: s.source(),
		Username:  last.Username,
		EntityID:  last.EntityID,
		Reason:    reason,
		X:         last.X,
		Y:         last.Y,
		Z:         last.Z,
		LeftAt:    time.Now(),
	})
}

func (s *Session) source() string {
	return fmt.Sprintf("session:%d", s.opts.ID)
}

func (s *Session) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if s.deps.Bus == nil {
		return
	}
	// Subscribers outlive the session.
	s.deps.Bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    t,
		Source:  s.source(),
		Payload: payload,
	})
}
