package protocol

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServerPacket is a decoded server-to-client packet.
type ServerPacket struct {
	ID      byte
	Payload interface{}
}

// HandshakeReply is the server's handshake answer (0x02).
type HandshakeReply struct {
	ConnectionHash string
}

// LoginResponse is the server's login answer (0x01).
type LoginResponse struct {
	EntityID  int32
	Unused1   string
	Unused2   string
	MapSeed   uint64
	Dimension uint8
}

// SpawnPosition carries the spawn point in whole blocks (0x06).
type SpawnPosition struct {
	X, Y, Z int32
}

// PositionAndLook is the full pose as sent by the server (0x0D).
type PositionAndLook struct {
	X, Stance, Y, Z float64
	Yaw, Pitch      float32
	OnGround        bool
}

// PreChunk announces (mode 1) or unloads (mode 0) a chunk column (0x32).
type PreChunk struct {
	X, Z int32
	Mode bool
}

// MapChunk carries a compressed region of blocks (0x33).
type MapChunk struct {
	X              int32
	Y              int16
	Z              int32
	SizeX          uint8
	SizeY          uint8
	SizeZ          uint8
	CompressedData []byte
}

// Disconnect carries the reason of a kick (0xFF).
type Disconnect struct {
	Reason string
}

// ServerPacketParser decodes packets sent by the server. It is used by the
// bot client and by tests that drive a session from the client side.
type ServerPacketParser struct {
	ch     *Channel
	logger zerolog.Logger
}

// NewServerPacketParser creates a parser reading from ch.
func NewServerPacketParser(ch *Channel) *ServerPacketParser {
	return &ServerPacketParser{
		ch:     ch,
		logger: log.With().Str("component", "server_parser").Logger(),
	}
}

// Next reads one complete packet.
func (p *ServerPacketParser) Next() (*ServerPacket, error) {
	id, err := p.ch.ReadUint8()
	if err != nil {
		return nil, err
	}

	var payload interface{}
	switch id {
	case PktKeepAlive:
		payload = nil
	case PktHandshake:
		payload, err = p.parseHandshake()
	case PktLogin:
		payload, err = p.parseLogin()
	case PktSpawnPosition:
		payload, err = p.parseSpawnPosition()
	case PktPlayerPositionAndLook:
		payload, err = p.parsePositionAndLook()
	case PktPreChunk:
		payload, err = p.parsePreChunk()
	case PktMapChunk:
		payload, err = p.parseMapChunk()
	case PktKickOrDisconnect:
		payload, err = p.parseDisconnect()
	default:
		p.logger.Warn().
			Str("packet", PacketName(id)).
			Msg("unexpected packet from server")
		return nil, fmt.Errorf("unexpected server packet: 0x%02X", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", PacketName(id), err)
	}

	p.logger.Trace().Str("packet", PacketName(id)).Msg("packet received")
	return &ServerPacket{ID: id, Payload: payload}, nil
}

func (p *ServerPacketParser) parseHandshake() (HandshakeReply, error) {
	hash, err := p.ch.ReadString()
	return HandshakeReply{ConnectionHash: hash}, err
}

// parseLogin handles packet 0x01.
// Format: [eid:4][unused:str][unused:str][seed:8][dimension:1]
func (p *ServerPacketParser) parseLogin() (LoginResponse, error) {
	var r LoginResponse
	var err error
	if r.EntityID, err = p.ch.ReadInt32(); err != nil {
		return r, err
	}
	if r.Unused1, err = p.ch.ReadString(); err != nil {
		return r, err
	}
	if r.Unused2, err = p.ch.ReadString(); err != nil {
		return r, err
	}
	if r.MapSeed, err = p.ch.ReadUint64(); err != nil {
		return r, err
	}
	r.Dimension, err = p.ch.ReadUint8()
	return r, err
}

func (p *ServerPacketParser) parseSpawnPosition() (SpawnPosition, error) {
	var s SpawnPosition
	var err error
	if s.X, err = p.ch.ReadInt32(); err != nil {
		return s, err
	}
	if s.Y, err = p.ch.ReadInt32(); err != nil {
		return s, err
	}
	s.Z, err = p.ch.ReadInt32()
	return s, err
}

// parsePositionAndLook handles packet 0x0D.
// Format: [x:8][stance:8][y:8][z:8][yaw:4][pitch:4][on_ground:1]
func (p *ServerPacketParser) parsePositionAndLook() (PositionAndLook, error) {
	var pl PositionAndLook
	var err error
	if pl.X, err = p.ch.ReadFloat64(); err != nil {
		return pl, err
	}
	if pl.Stance, err = p.ch.ReadFloat64(); err != nil {
		return pl, err
	}
	if pl.Y, err = p.ch.ReadFloat64(); err != nil {
		return pl, err
	}
	if pl.Z, err = p.ch.ReadFloat64(); err != nil {
		return pl, err
	}
	if pl.Yaw, err = p.ch.ReadFloat32(); err != nil {
		return pl, err
	}
	if pl.Pitch, err = p.ch.ReadFloat32(); err != nil {
		return pl, err
	}
	pl.OnGround, err = p.ch.ReadBool()
	return pl, err
}

func (p *ServerPacketParser) parsePreChunk() (PreChunk, error) {
	var pc PreChunk
	var err error
	if pc.X, err = p.ch.ReadInt32(); err != nil {
		return pc, err
	}
	if pc.Z, err = p.ch.ReadInt32(); err != nil {
		return pc, err
	}
	pc.Mode, err = p.ch.ReadBool()
	return pc, err
}

// parseMapChunk handles packet 0x33.
// Format: [x:4][y:2][z:4][size_x-1:1][size_y-1:1][size_z-1:1][len:4][data...]
func (p *ServerPacketParser) parseMapChunk() (MapChunk, error) {
	var mc MapChunk
	var err error
	if mc.X, err = p.ch.ReadInt32(); err != nil {
		return mc, err
	}
	if mc.Y, err = p.ch.ReadInt16(); err != nil {
		return mc, err
	}
	if mc.Z, err = p.ch.ReadInt32(); err != nil {
		return mc, err
	}
	if mc.SizeX, err = p.ch.ReadUint8(); err != nil {
		return mc, err
	}
	if mc.SizeY, err = p.ch.ReadUint8(); err != nil {
		return mc, err
	}
	if mc.SizeZ, err = p.ch.ReadUint8(); err != nil {
		return mc, err
	}
	length, err := p.ch.ReadInt32()
	if err != nil {
		return mc, err
	}
	if length < 0 {
		return mc, fmt.Errorf("negative chunk data length %d", length)
	}
	mc.CompressedData, err = p.ch.ReadBytes(int(length))
	return mc, err
}

func (p *ServerPacketParser) parseDisconnect() (Disconnect, error) {
	reason, err := p.ch.ReadString()
	return Disconnect{Reason: reason}, err
}
