package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/db"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/health"
	"github.com/alphacraft-project/alphacraft/internal/network"
	"github.com/alphacraft-project/alphacraft/internal/protocol"
	"github.com/alphacraft-project/alphacraft/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHistory struct {
	logins []db.LoginRecord
	errs   []db.SessionErrorRecord
	fail   bool
}

func (f *fakeHistory) RecentLogins(limit int) ([]db.LoginRecord, error) {
	if f.fail {
		return nil, errors.New("disk on fire")
	}
	if limit < len(f.logins) {
		return f.logins[:limit], nil
	}
	return f.logins, nil
}

func (f *fakeHistory) PlayerLogins(username string, limit int) ([]db.LoginRecord, error) {
	var out []db.LoginRecord
	for _, r := range f.logins {
		if r.Username == username {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeHistory) RecentSessionErrors(limit int) ([]db.SessionErrorRecord, error) {
	return f.errs, nil
}

type fakeHealth []health.Result

func (f fakeHealth) Results() []health.Result { return f }

func (f fakeHealth) Healthy() bool {
	for _, r := range f {
		if !r.Healthy() {
			return false
		}
	}
	return true
}

type fixture struct {
	cfg     *config.Config
	bus     *events.EventBus
	mgr     *server.Manager
	handler http.Handler
}

func newFixture(t *testing.T, token string, history HistoryReader) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.API.Token = token
	app.Security.RateLimitRPS = 0
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	mgr, err := server.NewManager(cfg, bus)
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		cfg:     cfg,
		bus:     bus,
		mgr:     mgr,
		handler: NewServer(cfg, bus, mgr, history).Handler(),
	}
}

func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "127.0.0.1:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// join logs a player in over an in-memory pipe and returns the client end.
func (f *fixture) join(t *testing.T, name string) net.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	conn := network.NewConnection(serverSide, 0)
	f.mgr.GetConnectionRegistry().Register(conn)

	go func() {
		f.mgr.ServeConnection(context.Background(), conn)
		f.mgr.GetConnectionRegistry().Unregister(conn.ID())
		conn.Close()
	}()
	t.Cleanup(func() { clientSide.Close() })

	clientSide.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := clientSide.Write(protocol.BuildLogin(protocol.Version, name, "", 0, 0)); err != nil {
		t.Fatal(err)
	}
	parser := protocol.NewServerPacketParser(protocol.NewChannel(clientSide))
	for i := 0; i < 5; i++ {
		if _, err := parser.Next(); err != nil {
			t.Fatalf("login burst: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.mgr.GetConnectionRegistry().FindByUsername(name); ok {
			return clientSide
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never bound to its connection", name)
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("bad json %q: %v", w.Body.String(), err)
	}
	return m
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t, "secret", nil)

	w := f.do("GET", "/api/public/ping", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("missing security header, got %q", got)
	}

	w = f.do("GET", "/api/public/server_info", "", "")
	info := decode(t, w)
	if info["protocol_version"].(float64) != 3 || info["max_players"].(float64) != 20 {
		t.Errorf("unexpected server info: %v", info)
	}
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t, "secret", nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"correct", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("GET", "/api/monitor/players", tt.token, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNoTokenAllowsLoopbackOnly(t *testing.T) {
	f := newFixture(t, "", nil)

	w := f.do("GET", "/api/monitor/status", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("loopback status = %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/monitor/status", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote status = %d, want 403", rec.Code)
	}
}

func TestPlayersAndKick(t *testing.T) {
	f := newFixture(t, "secret", nil)
	f.join(t, "alice")

	w := f.do("GET", "/api/monitor/players", "secret", "")
	body := decode(t, w)
	if body["count"].(float64) != 1 {
		t.Fatalf("players = %v", body)
	}

	w = f.do("GET", "/api/monitor/players/alice", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get player status = %d", w.Code)
	}
	p := decode(t, w)
	if p["username"] != "alice" || p["entity_id"].(float64) != 1 {
		t.Errorf("unexpected player: %v", p)
	}

	w = f.do("GET", "/api/monitor/players/bob", "secret", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing player status = %d", w.Code)
	}

	w = f.do("GET", "/api/monitor/sessions", "secret", "")
	if decode(t, w)["count"].(float64) != 1 {
		t.Errorf("sessions: %s", w.Body.String())
	}

	w = f.do("POST", "/api/control/kick/alice", "secret", `{"reason":"bye"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("kick status = %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.mgr.Registry().Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("kicked player still registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w = f.do("POST", "/api/control/kick/alice", "secret", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second kick status = %d, want 404", w.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	hist := &fakeHistory{
		logins: []db.LoginRecord{
			{ID: 2, Username: "bob"},
			{ID: 1, Username: "alice"},
		},
		errs: []db.SessionErrorRecord{{ID: 1, Error: "unknown packet id 0x13"}},
	}
	f := newFixture(t, "secret", hist)

	w := f.do("GET", "/api/monitor/history?limit=1", "secret", "")
	logins := decode(t, w)["logins"].([]interface{})
	if len(logins) != 1 {
		t.Errorf("limit ignored: %v", logins)
	}

	w = f.do("GET", "/api/monitor/history?username=alice", "secret", "")
	logins = decode(t, w)["logins"].([]interface{})
	if len(logins) != 1 || logins[0].(map[string]interface{})["username"] != "alice" {
		t.Errorf("unexpected filtered logins: %v", logins)
	}

	w = f.do("GET", "/api/monitor/history?limit=abc", "secret", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	w = f.do("GET", "/api/monitor/errors", "secret", "")
	if len(decode(t, w)["errors"].([]interface{})) != 1 {
		t.Errorf("errors: %s", w.Body.String())
	}

	hist.fail = true
	w = f.do("GET", "/api/monitor/history", "secret", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("failing store status = %d", w.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture(t, "secret", nil)
	w := f.do("GET", "/api/monitor/history", "secret", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestUpdateServerField(t *testing.T) {
	f := newFixture(t, "secret", nil)

	changed := make(chan events.ConfigChangedPayload, 1)
	f.bus.Subscribe(events.EventConfigChanged, "test", func(ctx context.Context, e events.Event) error {
		changed <- e.Payload.(events.ConfigChangedPayload)
		return nil
	})

	w := f.do("PATCH", "/api/configure/server", "secret", `{"key":"max_players","value":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if f.cfg.GetServer().MaxPlayers != 5 {
		t.Errorf("max players = %d", f.cfg.GetServer().MaxPlayers)
	}
	select {
	case p := <-changed:
		if p.Key != "max_players" {
			t.Errorf("changed key = %q", p.Key)
		}
	case <-time.After(5 * time.Second):
		t.Error("no config_changed event")
	}

	w = f.do("PATCH", "/api/configure/server", "secret", `{"key":"protocol_version","value":14}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid value status = %d", w.Code)
	}
	if f.cfg.GetServer().ProtocolVersion != 3 {
		t.Error("invalid update was not rolled back")
	}

	w = f.do("PATCH", "/api/configure/server", "secret", `{"key":"no_such_field","value":1}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown key status = %d", w.Code)
	}
}

func TestGetConfigMasksToken(t *testing.T) {
	f := newFixture(t, "secret", nil)
	w := f.do("GET", "/api/configure/config", "secret", "")
	if strings.Contains(w.Body.String(), `"secret"`) {
		t.Error("token leaked in config response")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.allow("1.2.3.4", now) || !rl.allow("1.2.3.4", now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.allow("1.2.3.4", now) {
		t.Error("third request in the same instant should be limited")
	}
	if !rl.allow("5.6.7.8", now) {
		t.Error("other clients have their own bucket")
	}
	if !rl.allow("1.2.3.4", now.Add(2*time.Second)) {
		t.Error("bucket should refill")
	}
}

func TestIPWhitelist(t *testing.T) {
	r := gin.New()
	r.Use(IPWhitelist([]string{"10.0.0.0/8", "192.168.1.5"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		remote string
		want   int
	}{
		{"10.1.2.3:1", http.StatusOK},
		{"192.168.1.5:1", http.StatusOK},
		{"192.168.1.6:1", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.remote, w.Code, tt.want)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	app.API.Token = "secret"
	app.Security.RateLimitRPS = 0
	cfg.SetApplicationData(app)
	bus := events.NewEventBus()
	defer bus.Stop()
	mgr, err := server.NewManager(cfg, bus)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		health  HealthReporter
		want    int
		healthy bool
	}{
		{"disabled", nil, http.StatusServiceUnavailable, false},
		{"ok", fakeHealth{{Name: "listener", Level: health.LevelOK}}, http.StatusOK, true},
		{"failing", fakeHealth{
			{Name: "disk", Level: health.LevelInfo},
			{Name: "listener", Level: health.LevelCritical},
		}, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(cfg, bus, mgr, nil)
			if tt.health != nil {
				s.SetHealth(tt.health)
			}
			f := &fixture{cfg: cfg, bus: bus, mgr: mgr, handler: s.Handler()}

			w := f.do("GET", "/api/monitor/health", "secret", "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.health == nil {
				return
			}
			body := decode(t, w)
			if body["healthy"] != tt.healthy {
				t.Errorf("healthy = %v", body["healthy"])
			}
		})
	}
}
