// Package client is a minimal protocol v3 client used by the load bot and
// by end-to-end tests. It speaks the same framing as the server: a one-byte
// packet id followed by big-endian fields.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/protocol"
	"github.com/alphacraft-project/alphacraft/internal/world"
)

// ErrKicked is returned when the server answers with a disconnect packet.
var ErrKicked = errors.New("disconnected by server")

const (
	// DefaultTimeout bounds each blocking read and write.
	DefaultTimeout = 10 * time.Second

	// StanceOffset is the height of the stance above the feet.
	StanceOffset = 1.6
)

// LoginResult is everything the server sends in the login burst.
type LoginResult struct {
	EntityID  int32
	MapSeed   uint64
	Dimension uint8
	Spawn     protocol.SpawnPosition
	Pose      protocol.PositionAndLook
	Chunk     *world.Chunk
}

// Client is one connection to a server.
type Client struct {
	conn    net.Conn
	ch      *protocol.Channel
	parser  *protocol.ServerPacketParser
	timeout time.Duration

	writeMu  sync.Mutex
	username string
	logger   zerolog.Logger
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	ch := protocol.NewChannel(conn)
	return &Client{
		conn:    conn,
		ch:      ch,
		parser:  protocol.NewServerPacketParser(ch),
		timeout: DefaultTimeout,
		logger: log.With().
			Str("component", "client").
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// SetTimeout changes the per-operation deadline. Zero disables deadlines.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Username returns the name used at login.
func (c *Client) Username() string {
	return c.username
}

func (c *Client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if err := c.ch.WriteBytes(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.PacketName(data[0]), err)
	}
	return nil
}

// Next reads one packet from the server. A disconnect packet is turned into
// an error wrapping ErrKicked.
func (c *Client) Next() (*protocol.ServerPacket, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	pkt, err := c.parser.Next()
	if err != nil {
		return nil, err
	}
	if d, ok := pkt.Payload.(protocol.Disconnect); ok {
		return nil, fmt.Errorf("%w: %s", ErrKicked, d.Reason)
	}
	return pkt, nil
}

func (c *Client) expect(id byte) (*protocol.ServerPacket, error) {
	pkt, err := c.Next()
	if err != nil {
		return nil, err
	}
	if pkt.ID != id {
		return nil, fmt.Errorf("expected %s, got %s", protocol.PacketName(id), protocol.PacketName(pkt.ID))
	}
	return pkt, nil
}

// Handshake sends the handshake and returns the server's connection hash.
func (c *Client) Handshake(username string) (string, error) {
	if err := protocol.CheckString(username); err != nil {
		return "", err
	}
	if err := c.send(protocol.BuildHandshake(username)); err != nil {
		return "", err
	}
	pkt, err := c.expect(protocol.PktHandshake)
	if err != nil {
		return "", err
	}
	return pkt.Payload.(protocol.HandshakeReply).ConnectionHash, nil
}

// Login logs in as username and consumes the whole login burst.
func (c *Client) Login(username string, seed uint64, dimension uint8) (*LoginResult, error) {
	if err := protocol.CheckString(username); err != nil {
		return nil, err
	}
	if err := c.send(protocol.BuildLogin(protocol.Version, username, "", seed, dimension)); err != nil {
		return nil, err
	}

	pkt, err := c.expect(protocol.PktLogin)
	if err != nil {
		return nil, err
	}
	resp := pkt.Payload.(protocol.LoginResponse)
	result := &LoginResult{
		EntityID:  resp.EntityID,
		MapSeed:   resp.MapSeed,
		Dimension: resp.Dimension,
	}

	pkt, err = c.expect(protocol.PktPreChunk)
	if err != nil {
		return nil, err
	}
	pre := pkt.Payload.(protocol.PreChunk)

	pkt, err = c.expect(protocol.PktMapChunk)
	if err != nil {
		return nil, err
	}
	mc := pkt.Payload.(protocol.MapChunk)
	if result.Chunk, err = world.Decompress(pre.X, pre.Z, mc.CompressedData); err != nil {
		return nil, err
	}

	pkt, err = c.expect(protocol.PktSpawnPosition)
	if err != nil {
		return nil, err
	}
	result.Spawn = pkt.Payload.(protocol.SpawnPosition)

	pkt, err = c.expect(protocol.PktPlayerPositionAndLook)
	if err != nil {
		return nil, err
	}
	result.Pose = pkt.Payload.(protocol.PositionAndLook)

	c.username = username
	c.logger = c.logger.With().Str("username", username).Int32("entity_id", result.EntityID).Logger()
	c.logger.Debug().Msg("logged in")
	return result, nil
}

// KeepAlive sends a keep-alive and waits for the echo.
func (c *Client) KeepAlive() error {
	if err := c.send(protocol.BuildKeepAlive()); err != nil {
		return err
	}
	_, err := c.expect(protocol.PktKeepAlive)
	return err
}

// Move sends a position update.
func (c *Client) Move(x, y, z float64, onGround bool) error {
	return c.send(protocol.BuildPlayerPosition(x, y, y+StanceOffset, z, onGround))
}

// Look sends an orientation update.
func (c *Client) Look(yaw, pitch float32, onGround bool) error {
	return c.send(protocol.BuildPlayerLook(yaw, pitch, onGround))
}

// MoveLook sends position and orientation in one packet.
func (c *Client) MoveLook(x, y, z float64, yaw, pitch float32, onGround bool) error {
	return c.send(protocol.BuildPlayerPositionAndLook(x, y+StanceOffset, y, z, yaw, pitch, onGround))
}

// Chat sends a chat line.
func (c *Client) Chat(message string) error {
	if err := protocol.CheckString(message); err != nil {
		return err
	}
	return c.send(protocol.BuildChatMessage(message))
}

// Disconnect tells the server the client is leaving and closes the
// connection.
func (c *Client) Disconnect(reason string) error {
	err := protocol.CheckString(reason)
	if err == nil {
		err = c.send(protocol.BuildDisconnect(reason))
	}
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without notice.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// IsClosed reports whether err means the connection ended.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
