package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
)

// SessionManager is implemented by the server state. The listener hands
// every accepted connection to ServeConnection, which runs until the client
// goes away.
type SessionManager interface {
	GetConnectionRegistry() *ConnectionRegistry
	ServeConnection(ctx context.Context, conn *Connection) error
}

// TCPListener accepts game clients and runs one session goroutine per
// connection.
type TCPListener struct {
	cfg      *config.Config
	manager  SessionManager
	listener net.Listener
	wg       sync.WaitGroup
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(cfg *config.Config, manager SessionManager) *TCPListener {
	return &TCPListener{
		cfg:     cfg,
		manager: manager,
	}
}

// Start binds the configured address and serves until ctx is cancelled.
func (l *TCPListener) Start(ctx context.Context) error {
	if err := l.Listen(ctx); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Listen binds the configured address without accepting yet.
func (l *TCPListener) Listen(ctx context.Context) error {
	addr := l.cfg.GetServer().ListenAddress()

	// SO_REUSEADDR allows immediate rebinding after a restart.
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener on %s: %w", addr, err)
	}
	l.listener = ln

	log.Info().Str("addr", ln.Addr().String()).Msg("TCP listener started")
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *TCPListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then waits for running
// sessions to finish.
func (l *TCPListener) Serve(ctx context.Context) error {
	if l.listener == nil {
		return fmt.Errorf("listener not bound")
	}

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("TCP listener stopping")
				l.wg.Wait()
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("failed to accept connection")
			l.wg.Wait()
			return fmt.Errorf("accept failed: %w", err)
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection wraps the socket, registers it, and runs the session.
func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	if tcp, ok := rawConn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	conn := NewConnection(rawConn, l.cfg.GetServer().IdleTimeoutDuration())
	registry := l.manager.GetConnectionRegistry()
	registry.Register(conn)
	defer func() {
		registry.Unregister(conn.ID())
		conn.Close()
	}()

	// Unblock the session's read when the server shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.CloseWithReason("server shutting down")
		case <-done:
		}
	}()

	logger := conn.Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("session panicked")
		}
	}()

	if err := l.manager.ServeConnection(ctx, conn); err != nil {
		logger.Debug().Err(err).Msg("connection handler returned")
	}
}

// Stop closes the listening socket.
func (l *TCPListener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
