package session

import (
	"errors"
	"fmt"

	"github.com/alphacraft-project/alphacraft/internal/player"
	"github.com/alphacraft-project/alphacraft/internal/protocol"
)

var (
	// ErrInvalidProtocolVersion is returned when LOGIN carries a version
	// other than the one the server speaks.
	ErrInvalidProtocolVersion = errors.New("invalid protocol version")

	// ErrAlreadyLoggedIn is returned for a second LOGIN on one connection.
	ErrAlreadyLoggedIn = errors.New("session already logged in")

	// ErrServerFull is returned when the player limit is reached.
	ErrServerFull = player.ErrFull

	// ErrDuplicateUsername is returned when the username is already online.
	ErrDuplicateUsername = player.ErrDuplicateUsername

	// errClientDisconnect ends the session cleanly after a client sent 0xFF.
	errClientDisconnect = errors.New("client disconnected")
)

// UnknownPacketError is returned when the client sends a packet id that has
// no handler. Packets carry no length, so the rest of the stream cannot be
// resynchronised and the session ends.
type UnknownPacketError struct {
	ID byte
}

func (e *UnknownPacketError) Error() string {
	if e.Known() {
		return fmt.Sprintf("unexpected packet 0x%02X (%s) from client", e.ID, protocol.PacketName(e.ID))
	}
	return fmt.Sprintf("unknown packet id 0x%02X", e.ID)
}

// Known reports whether the id is a protocol packet the server does not
// accept from clients, as opposed to a byte outside the packet table.
func (e *UnknownPacketError) Known() bool {
	return protocol.IsReserved(e.ID)
}
