package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alphacraft-project/alphacraft/internal/player"
	"github.com/alphacraft-project/alphacraft/internal/protocol"
	"github.com/alphacraft-project/alphacraft/internal/session"
	"github.com/alphacraft-project/alphacraft/internal/world"
)

// pipeServer runs one session against the returned client.
func pipeServer(t *testing.T, registry *player.Registry) (*Client, chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	deps := session.Deps{Registry: registry, Allocator: player.NewEntityIDAllocator()}

	done := make(chan error, 1)
	go func() {
		err := session.New(serverConn, deps, session.DefaultOptions()).Run(context.Background())
		serverConn.Close()
		done <- err
	}()

	c := New(clientConn)
	c.SetTimeout(5 * time.Second)
	t.Cleanup(func() { c.Close() })
	return c, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandshake(t *testing.T) {
	c, _ := pipeServer(t, player.NewRegistry())
	hash, err := c.Handshake("alice")
	if err != nil {
		t.Fatal(err)
	}
	if hash != "-" {
		t.Errorf("hash = %q, want -", hash)
	}
}

func TestLoginBurst(t *testing.T) {
	registry := player.NewRegistry()
	c, _ := pipeServer(t, registry)

	res, err := c.Login("alice", 42, 0)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.EntityID != 1 {
		t.Errorf("entity id = %d, want 1", res.EntityID)
	}
	if res.Spawn != (protocol.SpawnPosition{X: 0, Y: 80, Z: 0}) {
		t.Errorf("spawn = %+v", res.Spawn)
	}
	if res.Pose.Y != player.SpawnY || res.Pose.Stance != player.SpawnStance {
		t.Errorf("pose = %+v", res.Pose)
	}
	if res.Chunk.X != 1 || res.Chunk.Z != 1 {
		t.Errorf("chunk at (%d,%d)", res.Chunk.X, res.Chunk.Z)
	}
	if res.Chunk.SkyLight[world.Index(8, 64, 8)] != world.FullLight {
		t.Error("chunk not fully lit")
	}
	if c.Username() != "alice" {
		t.Errorf("username = %q", c.Username())
	}
	if _, ok := registry.Get("alice"); !ok {
		t.Error("player not registered")
	}
}

func TestMoveUpdatesRegistry(t *testing.T) {
	registry := player.NewRegistry()
	c, _ := pipeServer(t, registry)
	if _, err := c.Login("alice", 0, 0); err != nil {
		t.Fatal(err)
	}

	if err := c.Move(10, 70, -3, true); err != nil {
		t.Fatal(err)
	}
	if err := c.Look(90, 15, true); err != nil {
		t.Fatal(err)
	}
	if err := c.KeepAlive(); err != nil {
		t.Fatal(err)
	}

	p, _ := registry.Get("alice")
	if p.X != 10 || p.Y != 70 || p.Z != -3 || p.Stance != 70+StanceOffset {
		t.Errorf("position = %.2f %.2f %.2f stance %.2f", p.X, p.Y, p.Z, p.Stance)
	}
	if p.Yaw != 90 || p.Pitch != 15 || !p.OnGround {
		t.Errorf("look = %.1f %.1f ground %v", p.Yaw, p.Pitch, p.OnGround)
	}

	if err := c.MoveLook(1, 65, 2, 180, 0, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Chat("hello"); err != nil {
		t.Fatal(err)
	}
	if err := c.KeepAlive(); err != nil {
		t.Fatal(err)
	}
	p, _ = registry.Get("alice")
	if p.X != 1 || p.Y != 65 || p.Yaw != 180 || p.OnGround {
		t.Errorf("after MoveLook: %+v", p)
	}
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	registry := player.NewRegistry()
	c, done := pipeServer(t, registry)
	if _, err := c.Login("alice", 0, 0); err != nil {
		t.Fatal(err)
	}

	if err := c.Disconnect("bye"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	waitFor(t, func() bool { return registry.Count() == 0 })
}

func TestLoginTwiceFails(t *testing.T) {
	c, done := pipeServer(t, player.NewRegistry())
	if _, err := c.Login("alice", 0, 0); err != nil {
		t.Fatal(err)
	}
	_, err := c.Login("alice", 0, 0)
	if err == nil {
		t.Fatal("expected second login to fail")
	}
	if !IsClosed(err) {
		t.Errorf("unexpected error: %v", err)
	}

	select {
	case serr := <-done:
		if !errors.Is(serr, session.ErrAlreadyLoggedIn) {
			t.Errorf("session error = %v", serr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr); err == nil {
		t.Error("expected dial error")
	}
}

func TestIsClosed(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{net.ErrClosed, true},
		{errors.New("boom"), false},
		{ErrKicked, false},
	}
	for _, tt := range tests {
		if got := IsClosed(tt.err); got != tt.want {
			t.Errorf("IsClosed(%v) = %v", tt.err, got)
		}
	}
}

func TestOversizedStringsNotSent(t *testing.T) {
	c, _ := pipeServer(t, player.NewRegistry())
	long := strings.Repeat("x", protocol.MaxStringLength+1)

	if _, err := c.Handshake(long); !errors.Is(err, protocol.ErrStringTooLong) {
		t.Errorf("handshake: expected ErrStringTooLong, got %v", err)
	}
	if err := c.Chat(long); !errors.Is(err, protocol.ErrStringTooLong) {
		t.Errorf("chat: expected ErrStringTooLong, got %v", err)
	}
	// Nothing reached the server, so the stream is still in sync.
	if err := c.KeepAlive(); err != nil {
		t.Fatalf("keep alive after rejected strings: %v", err)
	}
}
