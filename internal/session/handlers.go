package session

import (
	"context"
	"fmt"

	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/player"
	"github.com/alphacraft-project/alphacraft/internal/protocol"
	"github.com/alphacraft-project/alphacraft/internal/world"
)

// handleKeepAlive answers 0x00 with 0x00.
func (s *Session) handleKeepAlive(ctx context.Context) error {
	return s.ch.WriteUint8(protocol.PktKeepAlive)
}

// handleHandshake reads the username and replies with "-" (no name
// verification). The session state does not change.
func (s *Session) handleHandshake(ctx context.Context) error {
	username, err := s.ch.ReadString()
	if err != nil {
		return err
	}

	s.logger.Debug().Str("username", username).Msg("handshake")
	return s.ch.WriteBytes(protocol.HandshakeAccept)
}

// handleLogin handles packet 0x01.
// Format: [version:4][username:str][password:str][seed:8][dimension:1]
func (s *Session) handleLogin(ctx context.Context) error {
	if s.state == events.SessionAuthenticated {
		return ErrAlreadyLoggedIn
	}

	version, err := s.ch.ReadUint32()
	if err != nil {
		return err
	}
	if version != s.opts.ProtocolVersion {
		return fmt.Errorf("%w: client sent %d, server speaks %d",
			ErrInvalidProtocolVersion, version, s.opts.ProtocolVersion)
	}

	username, err := s.ch.ReadString()
	if err != nil {
		return err
	}
	if _, err := s.ch.ReadString(); err != nil { // password, unused
		return err
	}
	seed, err := s.ch.ReadUint64()
	if err != nil {
		return err
	}
	dimension, err := s.ch.ReadUint8()
	if err != nil {
		return err
	}

	p, err := s.deps.Registry.Register(username, s.opts.MaxPlayers, s.deps.Allocator, func(rp *player.Player) {
		rp.SetPosition(s.opts.SpawnX, s.opts.SpawnY, s.opts.SpawnZ, s.opts.SpawnStance)
		rp.Remote = s.opts.Remote
	})
	if err != nil {
		return err
	}
	eid := p.EntityID
	// Bound only after a successful Register so a rejected duplicate never
	// removes the other session's player.
	s.username = username
	s.entityID = eid
	s.logger = s.logger.With().Str("username", username).Int32("entity_id", eid).Logger()

	if err := s.sendLoginResponse(eid, seed, dimension); err != nil {
		return err
	}
	if err := world.WriteChunk(s.ch, world.NewFlatChunk(s.opts.SpawnChunkX, s.opts.SpawnChunkZ)); err != nil {
		return err
	}
	if err := s.sendSpawnPosition(&p); err != nil {
		return err
	}
	if err := s.sendPositionAndLook(&p); err != nil {
		return err
	}

	var joined player.Player
	s.deps.Registry.Update(username, func(rp *player.Player) {
		rp.LoggedIn = true
		joined = *rp
	})
	s.state = events.SessionAuthenticated

	s.logger.Info().
		Str("uuid", joined.UUID.String()).
		Str("remote", s.opts.Remote).
		Msg("player logged in")

	if s.opts.OnLogin != nil {
		s.opts.OnLogin(joined)
	}
	s.emit(ctx, events.EventPlayerJoin, events.PlayerJoinPayload{
		SessionID: s.source(),
		Username:  joined.Username,
		UUID:      joined.UUID.String(),
		EntityID:  joined.EntityID,
		Remote:    s.opts.Remote,
		JoinedAt:  joined.JoinedAt,
	})
	return nil
}

// sendLoginResponse writes packet 0x01.
// Format: [eid:4][unused:str][unused:str][seed:8][dimension:1]
func (s *Session) sendLoginResponse(eid int32, seed uint64, dimension uint8) error {
	if err := s.ch.WriteUint8(protocol.PktLogin); err != nil {
		return err
	}
	if err := s.ch.WriteInt32(eid); err != nil {
		return err
	}
	if err := s.ch.WriteString(""); err != nil {
		return err
	}
	if err := s.ch.WriteString(""); err != nil {
		return err
	}
	if err := s.ch.WriteUint64(seed); err != nil {
		return err
	}
	return s.ch.WriteUint8(dimension)
}

// sendSpawnPosition writes packet 0x06 with the spawn point truncated to
// whole blocks.
func (s *Session) sendSpawnPosition(p *player.Player) error {
	pkt := protocol.NewPacketBuilder(protocol.PktSpawnPosition).
		WriteInt32(int32(p.X)).
		WriteInt32(int32(p.Y)).
		WriteInt32(int32(p.Z)).
		Build()
	return s.ch.WriteBytes(pkt)
}

// sendPositionAndLook writes packet 0x0D.
// Format: [x:8][stance:8][y:8][z:8][yaw:4][pitch:4][on_ground:1]
func (s *Session) sendPositionAndLook(p *player.Player) error {
	pkt := protocol.BuildPlayerPositionAndLook(p.X, p.Stance, p.Y, p.Z, p.Yaw, p.Pitch, p.OnGround)
	return s.ch.WriteBytes(pkt)
}

// updatePlayer applies fn to the session's player. Updates before login, or
// for a player no longer registered, are dropped.
func (s *Session) updatePlayer(ctx context.Context, fn func(*player.Player)) {
	if s.username == "" {
		return
	}
	var moved player.Player
	err := s.deps.Registry.Update(s.username, func(p *player.Player) {
		fn(p)
		moved = *p
	})
	if err != nil {
		return
	}
	s.emit(ctx, events.EventPlayerMove, events.PlayerMovePayload{
		Username: moved.Username,
		X:        moved.X,
		Y:        moved.Y,
		Z:        moved.Z,
		Stance:   moved.Stance,
		Yaw:      moved.Yaw,
		Pitch:    moved.Pitch,
		OnGround: moved.OnGround,
	})
}

// handlePlayerPositionAndLook handles packet 0x0D.
// Format: [x:8][stance:8][y:8][z:8][yaw:4][pitch:4][on_ground:1]
func (s *Session) handlePlayerPositionAndLook(ctx context.Context) error {
	x, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	stance, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	y, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	z, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	yaw, err := s.ch.ReadFloat32()
	if err != nil {
		return err
	}
	pitch, err := s.ch.ReadFloat32()
	if err != nil {
		return err
	}
	onGround, err := s.ch.ReadBool()
	if err != nil {
		return err
	}

	s.updatePlayer(ctx, func(p *player.Player) {
		p.SetPosition(x, y, z, stance)
		p.SetLook(yaw, pitch)
		p.SetOnGround(onGround)
	})
	return nil
}

// handlePlayerPosition handles packet 0x0B. Note that y precedes stance
// here, unlike 0x0D.
// Format: [x:8][y:8][stance:8][z:8][on_ground:1]
func (s *Session) handlePlayerPosition(ctx context.Context) error {
	x, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	y, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	stance, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	z, err := s.ch.ReadFloat64()
	if err != nil {
		return err
	}
	onGround, err := s.ch.ReadBool()
	if err != nil {
		return err
	}

	s.updatePlayer(ctx, func(p *player.Player) {
		p.SetPosition(x, y, z, stance)
		p.SetOnGround(onGround)
	})
	return nil
}

// handlePlayerLook handles packet 0x0C.
// Format: [yaw:4][pitch:4][on_ground:1]
func (s *Session) handlePlayerLook(ctx context.Context) error {
	yaw, err := s.ch.ReadFloat32()
	if err != nil {
		return err
	}
	pitch, err := s.ch.ReadFloat32()
	if err != nil {
		return err
	}
	onGround, err := s.ch.ReadBool()
	if err != nil {
		return err
	}

	s.updatePlayer(ctx, func(p *player.Player) {
		p.SetLook(yaw, pitch)
		p.SetOnGround(onGround)
	})
	return nil
}

// handlePlayer handles packet 0x0A.
func (s *Session) handlePlayer(ctx context.Context) error {
	onGround, err := s.ch.ReadBool()
	if err != nil {
		return err
	}

	s.updatePlayer(ctx, func(p *player.Player) {
		p.SetOnGround(onGround)
	})
	return nil
}

// handleChatMessage logs the message and publishes it. Nothing is relayed
// to other clients.
func (s *Session) handleChatMessage(ctx context.Context) error {
	message, err := s.ch.ReadString()
	if err != nil {
		return err
	}

	s.logger.Info().Str("message", message).Msg("chat")
	s.emit(ctx, events.EventChatMessage, events.ChatMessagePayload{
		Username: s.username,
		Message:  message,
	})
	return nil
}

// handleDisconnect handles packet 0xFF sent by a quitting client.
func (s *Session) handleDisconnect(ctx context.Context) error {
	reason, err := s.ch.ReadString()
	if err != nil {
		return err
	}

	s.logger.Debug().Str("reason", reason).Msg("client sent disconnect")
	return errClientDisconnect
}
