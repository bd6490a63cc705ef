package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder assembles a complete packet in memory before it is sent in
// a single write. Clients (and tests) use it to encode requests.
type PacketBuilder struct {
	buf bytes.Buffer
	err error
}

// NewPacketBuilder creates a builder whose first byte is the packet ID.
func NewPacketBuilder(id byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.WriteByte(id)
	return b
}

// Reset clears the builder and starts a new packet.
func (b *PacketBuilder) Reset(id byte) {
	b.buf.Reset()
	b.err = nil
	b.buf.WriteByte(id)
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes 1 or 0.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUint32 writes a uint32 in big-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUint64 writes a uint64 in big-endian order.
func (b *PacketBuilder) WriteUint64(v uint64) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt16 writes an int16 in big-endian order.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteInt32 writes an int32 in big-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteFloat32 writes a float32 in big-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteFloat64 writes a float64 in big-endian order.
func (b *PacketBuilder) WriteFloat64(v float64) *PacketBuilder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteString writes a length-prefixed string.
// Format: [length:2][utf-8 bytes...]. A string longer than MaxStringLength
// is not written; the builder keeps ErrStringTooLong for Err.
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	if err := CheckString(s); err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.WriteUint16(uint16(len(s)))
	b.buf.WriteString(s)
	return b
}

// Err returns the first error recorded while building.
func (b *PacketBuilder) Err() error {
	return b.err
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// ---- Client request constructors ----

// BuildKeepAlive creates a keep-alive packet (0x00).
func BuildKeepAlive() []byte {
	return NewPacketBuilder(PktKeepAlive).Build()
}

// BuildHandshake creates a handshake request (0x02).
// Format: [id:1][username:str]
func BuildHandshake(username string) []byte {
	return NewPacketBuilder(PktHandshake).WriteString(username).Build()
}

// BuildLogin creates a login request (0x01).
// Format: [id:1][version:4][username:str][password:str][seed:8][dimension:1]
func BuildLogin(version uint32, username, password string, seed uint64, dimension uint8) []byte {
	return NewPacketBuilder(PktLogin).
		WriteUint32(version).
		WriteString(username).
		WriteString(password).
		WriteUint64(seed).
		WriteUint8(dimension).
		Build()
}

// BuildChatMessage creates a chat packet (0x03).
func BuildChatMessage(message string) []byte {
	return NewPacketBuilder(PktChatMessage).WriteString(message).Build()
}

// BuildPlayer creates an on-ground-only packet (0x0A).
func BuildPlayer(onGround bool) []byte {
	return NewPacketBuilder(PktPlayer).WriteBool(onGround).Build()
}

// BuildPlayerPosition creates a position packet (0x0B).
// Format: [id:1][x:8][y:8][stance:8][z:8][on_ground:1]
func BuildPlayerPosition(x, y, stance, z float64, onGround bool) []byte {
	return NewPacketBuilder(PktPlayerPosition).
		WriteFloat64(x).
		WriteFloat64(y).
		WriteFloat64(stance).
		WriteFloat64(z).
		WriteBool(onGround).
		Build()
}

// BuildPlayerLook creates an orientation packet (0x0C).
func BuildPlayerLook(yaw, pitch float32, onGround bool) []byte {
	return NewPacketBuilder(PktPlayerLook).
		WriteFloat32(yaw).
		WriteFloat32(pitch).
		WriteBool(onGround).
		Build()
}

// BuildPlayerPositionAndLook creates a full pose packet (0x0D).
// Format: [id:1][x:8][stance:8][y:8][z:8][yaw:4][pitch:4][on_ground:1]
func BuildPlayerPositionAndLook(x, stance, y, z float64, yaw, pitch float32, onGround bool) []byte {
	return NewPacketBuilder(PktPlayerPositionAndLook).
		WriteFloat64(x).
		WriteFloat64(stance).
		WriteFloat64(y).
		WriteFloat64(z).
		WriteFloat32(yaw).
		WriteFloat32(pitch).
		WriteBool(onGround).
		Build()
}

// BuildDisconnect creates a kick/disconnect packet (0xFF).
func BuildDisconnect(reason string) []byte {
	return NewPacketBuilder(PktKickOrDisconnect).WriteString(reason).Build()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
