// Package network implements the game TCP listener and the per-connection
// wrapper shared between sessions and the control surfaces.
package network

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds a single write to a client.
const WriteTimeout = 10 * time.Second

var nextConnID atomic.Uint64

// Connection wraps one client socket. It is the io.ReadWriter underneath a
// session's protocol channel: reads refresh the activity clock and, when an
// idle timeout is set, the read deadline. Only the owning session reads and
// writes; other goroutines may only inspect it or Close it.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	id     uint64
	logger zerolog.Logger

	idleTimeout time.Duration

	connectedAt  time.Time
	lastActivity time.Time
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64

	username    string
	closed      bool
	closeReason string
}

// NewConnection wraps an existing net.Conn.
func NewConnection(conn net.Conn, idleTimeout time.Duration) *Connection {
	now := time.Now()
	id := nextConnID.Add(1)
	return &Connection{
		conn:         conn,
		id:           id,
		idleTimeout:  idleTimeout,
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "connection").
			Uint64("conn_id", id).
			Str("remote", remoteString(conn)).
			Logger(),
	}
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// Read implements io.Reader.
func (c *Connection) Read(p []byte) (int, error) {
	if c.idleTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	}
	n, err := c.conn.Read(p)
	if n > 0 {
		c.bytesIn.Add(uint64(n))
		c.touch()
	}
	return n, err
}

// Write implements io.Writer. net.Conn writes are unbuffered, so a returned
// nil error means the bytes were handed to the kernel.
func (c *Connection) Write(p []byte) (int, error) {
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	n, err := c.conn.Write(p)
	if n > 0 {
		c.bytesOut.Add(uint64(n))
		c.touch()
	}
	return n, err
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// ID returns the process-unique connection id.
func (c *Connection) ID() uint64 {
	return c.id
}

// SetUsername binds the connection to a logged-in player.
func (c *Connection) SetUsername(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
	c.logger = c.logger.With().Str("username", name).Logger()
}

// Username returns the bound player name, or "" before login.
func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Close closes the socket. A blocked Read in the owning session returns
// with an error, which ends the session.
func (c *Connection) Close() error {
	return c.CloseWithReason("closed")
}

// CloseWithReason closes the socket and records why.
func (c *Connection) CloseWithReason(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.closeReason = reason
	c.logger.Debug().Str("reason", reason).Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseReason returns the reason given to CloseWithReason.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() string {
	return remoteString(c.conn)
}

// Info is a point-in-time view of a connection for listings.
type Info struct {
	ID           uint64    `json:"id"`
	Remote       string    `json:"remote"`
	Username     string    `json:"username,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
}

// Info returns a snapshot of the connection.
func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:           c.id,
		Remote:       remoteString(c.conn),
		Username:     c.username,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
	}
}

// ConnectionRegistry tracks open client connections.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[uint64]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
}

// Unregister removes a connection from the registry without closing it.
func (r *ConnectionRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id uint64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// FindByUsername returns the connection bound to a player.
func (r *ConnectionRegistry) FindByUsername(name string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.conns {
		if conn.Username() == name {
			return conn, true
		}
	}
	return nil, false
}

// List returns snapshots of all connections ordered by id.
func (r *ConnectionRegistry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.conns))
	for _, conn := range r.conns {
		result = append(result, conn.Info())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Count returns the number of open connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every connection. Sessions unregister themselves as they
// unwind.
func (r *ConnectionRegistry) CloseAll(reason string) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.CloseWithReason(reason)
	}
	log.Info().Int("count", len(conns)).Msg("all connections closed")
}

// CleanStale closes connections that have been inactive for longer than timeout.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-timeout)
	var stale []*Connection

	r.mu.RLock()
	for _, conn := range r.conns {
		if conn.LastActivity().Before(cutoff) {
			stale = append(stale, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range stale {
		log.Warn().
			Uint64("conn_id", conn.ID()).
			Time("last_activity", conn.LastActivity()).
			Msg("cleaned stale connection")
		conn.CloseWithReason("idle timeout")
	}
	return len(stale)
}
