package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/player"
	"github.com/alphacraft-project/alphacraft/internal/protocol"
	"github.com/alphacraft-project/alphacraft/internal/world"
)

type harness struct {
	registry  *player.Registry
	allocator *player.EntityIDAllocator
	bus       *events.EventBus
}

func newHarness() *harness {
	return &harness{
		registry:  player.NewRegistry(),
		allocator: player.NewEntityIDAllocator(),
		bus:       events.NewEventBus(),
	}
}

type client struct {
	t      *testing.T
	conn   net.Conn
	parser *protocol.ServerPacketParser
	done   chan error
}

// start runs a session on one end of a pipe and returns the other end.
func (h *harness) start(t *testing.T, opts Options) *client {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	s := New(serverConn, Deps{Registry: h.registry, Allocator: h.allocator, Bus: h.bus}, opts)
	done := make(chan error, 1)
	go func() {
		err := s.Run(context.Background())
		serverConn.Close()
		done <- err
	}()

	c := &client{
		t:      t,
		conn:   clientConn,
		parser: protocol.NewServerPacketParser(protocol.NewChannel(clientConn)),
		done:   done,
	}
	t.Cleanup(func() { clientConn.Close() })
	return c
}

func (c *client) send(data []byte) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("client write failed: %v", err)
	}
}

func (c *client) next() *protocol.ServerPacket {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	pkt, err := c.parser.Next()
	if err != nil {
		c.t.Fatalf("client read failed: %v", err)
	}
	return pkt
}

// sync round-trips a keep-alive so every earlier packet has been handled.
func (c *client) sync() {
	c.t.Helper()
	c.send(protocol.BuildKeepAlive())
	if pkt := c.next(); pkt.ID != protocol.PktKeepAlive {
		c.t.Fatalf("expected keep alive, got 0x%02X", pkt.ID)
	}
}

func (c *client) wait() error {
	c.t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(5 * time.Second):
		c.t.Fatal("session did not terminate")
		return nil
	}
}

// login sends LOGIN and consumes the whole login burst.
func (c *client) login(name string) protocol.LoginResponse {
	c.t.Helper()
	c.send(protocol.BuildLogin(protocol.Version, name, "", 0, 0))

	resp := c.next().Payload.(protocol.LoginResponse)
	c.next() // pre chunk
	c.next() // map chunk
	c.next() // spawn position
	c.next() // position and look
	return resp
}

func TestKeepAliveEcho(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())

	c.send([]byte{0x00})
	buf := make([]byte, 1)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0x00 {
		t.Errorf("got %#x, want 0x00", buf[0])
	}
}

func TestHandshakeReply(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())

	c.send(protocol.BuildHandshake("alice"))
	buf := make([]byte, 4)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x02, 0x00, 0x01, 0x2D}
	if !bytes.Equal(buf, want) {
		t.Errorf("got % x, want % x", buf, want)
	}

	c.sync()
	if h.registry.Count() != 0 {
		t.Error("handshake must not register a player")
	}
}

func TestLoginBurst(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())

	c.send(protocol.BuildLogin(3, "alice", "secret", 12345, 0))

	login := c.next().Payload.(protocol.LoginResponse)
	if login.EntityID != 1 || login.MapSeed != 12345 || login.Dimension != 0 {
		t.Errorf("unexpected login response: %+v", login)
	}
	if login.Unused1 != "" || login.Unused2 != "" {
		t.Errorf("login strings should be empty: %+v", login)
	}

	pre := c.next().Payload.(protocol.PreChunk)
	if pre.X != 1 || pre.Z != 1 || !pre.Mode {
		t.Errorf("unexpected pre chunk: %+v", pre)
	}

	mc := c.next().Payload.(protocol.MapChunk)
	if mc.X != 16 || mc.Y != 0 || mc.Z != 16 || mc.SizeX != 15 || mc.SizeY != 127 || mc.SizeZ != 15 {
		t.Errorf("unexpected map chunk header: %+v", mc)
	}
	zr, err := zlib.NewReader(bytes.NewReader(mc.CompressedData))
	if err != nil {
		t.Fatalf("chunk payload is not zlib: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 4*world.Volume {
		t.Fatalf("decompressed %d bytes, want %d", len(raw), 4*world.Volume)
	}
	for i, b := range raw {
		want := byte(0)
		if i >= 2*world.Volume {
			want = 15
		}
		if b != want {
			t.Fatalf("byte %d = %d, want %d", i, b, want)
		}
	}

	spawn := c.next().Payload.(protocol.SpawnPosition)
	if spawn != (protocol.SpawnPosition{X: 0, Y: 80, Z: 0}) {
		t.Errorf("unexpected spawn: %+v", spawn)
	}

	pose := c.next().Payload.(protocol.PositionAndLook)
	want := protocol.PositionAndLook{X: 0, Stance: 81.6, Y: 80, Z: 0, OnGround: true}
	if pose != want {
		t.Errorf("pose = %+v, want %+v", pose, want)
	}

	c.sync()
	p, ok := h.registry.Get("alice")
	if !ok {
		t.Fatal("alice not registered")
	}
	if !p.LoggedIn || p.EntityID != 1 || p.Stance != 81.6 || !p.OnGround {
		t.Errorf("unexpected registry entry: %+v", p)
	}
}

func TestLoginRejectsWrongVersion(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())

	c.send(protocol.BuildLogin(4, "alice", "", 0, 0)[:5])

	err := c.wait()
	if !errors.Is(err, ErrInvalidProtocolVersion) {
		t.Errorf("expected ErrInvalidProtocolVersion, got %v", err)
	}
	if h.registry.Count() != 0 {
		t.Error("registry must be untouched")
	}
	if h.allocator.Last() != 0 {
		t.Error("no entity id should be allocated")
	}
}

func TestSecondLoginRejected(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())
	c.login("alice")

	c.send([]byte{protocol.PktLogin})
	if err := c.wait(); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("expected ErrAlreadyLoggedIn, got %v", err)
	}
	if h.registry.Count() != 0 {
		t.Error("player should be removed when the session ends")
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	h := newHarness()
	first := h.start(t, DefaultOptions())
	first.login("alice")
	first.sync()

	second := h.start(t, DefaultOptions())
	second.send(protocol.BuildLogin(protocol.Version, "alice", "", 0, 0))
	if err := second.wait(); !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}

	p, ok := h.registry.Get("alice")
	if !ok || p.EntityID != 1 {
		t.Errorf("original player must survive: %+v ok=%v", p, ok)
	}
	first.sync()
}

func TestServerFull(t *testing.T) {
	h := newHarness()
	opts := DefaultOptions()
	opts.MaxPlayers = 1

	h.start(t, opts).login("alice")

	c := h.start(t, opts)
	c.send(protocol.BuildLogin(protocol.Version, "bob", "", 0, 0))
	if err := c.wait(); !errors.Is(err, ErrServerFull) {
		t.Errorf("expected ErrServerFull, got %v", err)
	}
}

func TestRejectedLoginKeepsEntityIDs(t *testing.T) {
	h := newHarness()
	alice := h.start(t, DefaultOptions())
	if resp := alice.login("alice"); resp.EntityID != 1 {
		t.Fatalf("alice eid = %d, want 1", resp.EntityID)
	}

	dup := h.start(t, DefaultOptions())
	dup.send(protocol.BuildLogin(protocol.Version, "alice", "", 0, 0))
	if err := dup.wait(); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}

	full := DefaultOptions()
	full.MaxPlayers = 1
	rejected := h.start(t, full)
	rejected.send(protocol.BuildLogin(protocol.Version, "carol", "", 0, 0))
	if err := rejected.wait(); !errors.Is(err, ErrServerFull) {
		t.Fatalf("expected ErrServerFull, got %v", err)
	}

	bob := h.start(t, DefaultOptions())
	if resp := bob.login("bob"); resp.EntityID != 2 {
		t.Errorf("bob eid = %d, want 2", resp.EntityID)
	}
	if h.allocator.Last() != 2 {
		t.Errorf("allocator last = %d, want 2", h.allocator.Last())
	}
}

func TestPoseUpdateLeavesOthersUnchanged(t *testing.T) {
	h := newHarness()
	steve := h.start(t, DefaultOptions())
	steve.login("Steve")
	other := h.start(t, DefaultOptions())
	other.login("Alex")
	other.sync()

	before, _ := h.registry.Get("Alex")

	steve.send(protocol.BuildPlayerPositionAndLook(5.0, 71.6, 70.0, 3.0, 90, 0, true))
	steve.sync()
	other.sync()

	p, _ := h.registry.Get("Steve")
	if p.X != 5 || p.Stance != 71.6 || p.Y != 70 || p.Z != 3 || p.Yaw != 90 || p.Pitch != 0 || !p.OnGround {
		t.Errorf("Steve not updated: %+v", p)
	}

	after, _ := h.registry.Get("Alex")
	if after != before {
		t.Errorf("Alex changed: before %+v, after %+v", before, after)
	}
	if after.X != 0 || after.Y != 80 || after.Z != 0 || after.Stance != 81.6 {
		t.Errorf("Alex left the spawn pose: %+v", after)
	}
}

func TestPoseUpdates(t *testing.T) {
	tests := []struct {
		name  string
		pkt   []byte
		check func(p player.Player) bool
	}{
		{
			"position and look",
			protocol.BuildPlayerPositionAndLook(1.5, 66.62, 65, -2.5, 90, 10, false),
			func(p player.Player) bool {
				return p.X == 1.5 && p.Stance == 66.62 && p.Y == 65 && p.Z == -2.5 &&
					p.Yaw == 90 && p.Pitch == 10 && !p.OnGround
			},
		},
		{
			"position",
			protocol.BuildPlayerPosition(3, 70, 71.62, 4, false),
			func(p player.Player) bool {
				return p.X == 3 && p.Y == 70 && p.Stance == 71.62 && p.Z == 4 && !p.OnGround
			},
		},
		{
			"look",
			protocol.BuildPlayerLook(180, -45, false),
			func(p player.Player) bool {
				return p.Yaw == 180 && p.Pitch == -45 && !p.OnGround && p.Y == 80
			},
		},
		{
			"on ground",
			protocol.BuildPlayer(false),
			func(p player.Player) bool { return !p.OnGround },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			c := h.start(t, DefaultOptions())
			c.login("alice")

			c.send(tt.pkt)
			c.sync()

			p, _ := h.registry.Get("alice")
			if !tt.check(p) {
				t.Errorf("update not applied: %+v", p)
			}
		})
	}
}

func TestOnGroundOnlyOneIsTrue(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())
	c.login("alice")

	c.send([]byte{protocol.PktPlayer, 2})
	c.sync()
	if p, _ := h.registry.Get("alice"); p.OnGround {
		t.Error("byte 2 must decode as false")
	}
}

func TestPoseBeforeLoginIsDropped(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())

	c.send(protocol.BuildPlayerPosition(1, 2, 3, 4, true))
	c.send(protocol.BuildPlayerLook(1, 2, true))
	c.sync()

	if h.registry.Count() != 0 {
		t.Error("no player should exist")
	}
}

func TestChatIsPublished(t *testing.T) {
	h := newHarness()
	got := make(chan events.ChatMessagePayload, 1)
	h.bus.Subscribe(events.EventChatMessage, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.ChatMessagePayload)
		return nil
	})

	c := h.start(t, DefaultOptions())
	c.login("alice")
	c.send(protocol.BuildChatMessage("hello"))
	c.sync()

	select {
	case msg := <-got:
		if msg.Username != "alice" || msg.Message != "hello" {
			t.Errorf("unexpected chat payload: %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("chat event not published")
	}
}

func TestUnknownPacketTerminates(t *testing.T) {
	tests := []struct {
		name    string
		id      byte
		known   bool
		message string
	}{
		{"outside table", 0x13, false, "unknown packet id 0x13"},
		{"not accepted", protocol.PktPlayerBlockPlacement, true, "unexpected packet 0x0F (player_block_placement) from client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			c := h.start(t, DefaultOptions())
			c.login("alice")

			c.send([]byte{tt.id})

			err := c.wait()
			var unknown *UnknownPacketError
			if !errors.As(err, &unknown) || unknown.ID != tt.id {
				t.Fatalf("expected UnknownPacketError(0x%02X), got %v", tt.id, err)
			}
			if unknown.Known() != tt.known || unknown.Error() != tt.message {
				t.Errorf("known=%v error=%q", unknown.Known(), unknown.Error())
			}
			if h.registry.Count() != 0 {
				t.Error("player should be removed")
			}
		})
	}
}

func TestClientDisconnectPacket(t *testing.T) {
	h := newHarness()
	left := make(chan events.PlayerLeavePayload, 1)
	h.bus.Subscribe(events.EventPlayerLeave, "test", func(ctx context.Context, e events.Event) error {
		left <- e.Payload.(events.PlayerLeavePayload)
		return nil
	})

	c := h.start(t, DefaultOptions())
	c.login("alice")
	c.send(protocol.BuildDisconnect("Quitting"))

	if err := c.wait(); err != nil {
		t.Errorf("disconnect should end cleanly, got %v", err)
	}
	if h.registry.Count() != 0 {
		t.Error("player should be removed")
	}
	select {
	case p := <-left:
		if p.Username != "alice" || p.Reason != "disconnected" {
			t.Errorf("unexpected leave payload: %+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("leave event not published")
	}
}

func TestStreamCloseRemovesPlayer(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())
	c.login("alice")
	c.sync()

	c.conn.Close()
	if err := c.wait(); err != nil {
		t.Errorf("close between packets should be clean, got %v", err)
	}
	if h.registry.Count() != 0 {
		t.Error("player should be removed")
	}
}

func TestTruncatedPacketIsError(t *testing.T) {
	h := newHarness()
	c := h.start(t, DefaultOptions())

	c.send([]byte{protocol.PktPlayerLook, 0x00, 0x00})
	c.conn.Close()

	if err := c.wait(); !errors.Is(err, protocol.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestConcurrentLogins(t *testing.T) {
	const n = 16
	h := newHarness()

	clients := make([]*client, n)
	for i := range clients {
		clients[i] = h.start(t, DefaultOptions())
	}

	var wg sync.WaitGroup
	ids := make([]int32, n)
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *client) {
			defer wg.Done()
			c.send(protocol.BuildLogin(protocol.Version, fmt.Sprintf("player%d", i), "", 0, 0))
			resp, err := c.parser.Next()
			if err != nil {
				t.Errorf("client %d: %v", i, err)
				return
			}
			ids[i] = resp.Payload.(protocol.LoginResponse).EntityID
			for j := 0; j < 4; j++ {
				c.parser.Next()
			}
		}(i, c)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != int32(i+1) {
			t.Fatalf("entity ids not unique: %v", ids)
		}
	}
	for _, c := range clients {
		c.sync()
	}
	if h.registry.Count() != n {
		t.Errorf("Count = %d, want %d", h.registry.Count(), n)
	}
}
