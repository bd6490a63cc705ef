// Package health runs periodic self checks: a protocol probe against the
// game listener, disk space for the data directory and host memory.
package health

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/client"
	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/util"
)

// Level grades a check result.
type Level string

const (
	LevelOK       Level = "ok"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// ProbeName is the username sent in the listener probe handshake.
const ProbeName = "health-probe"

// Result is the outcome of one check run.
type Result struct {
	Name      string        `json:"name"`
	Level     Level         `json:"level"`
	Message   string        `json:"message"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Healthy reports whether the result needs no attention.
func (r Result) Healthy() bool {
	return r.Level == LevelOK || r.Level == LevelInfo
}

type check struct {
	name string
	fn   func(ctx context.Context) (Level, string)
}

// Manager runs the checks on a ticker and keeps the latest result of each.
type Manager struct {
	cfg       *config.Config
	eventBus  *events.EventBus
	probeAddr string

	checks []check

	mu      sync.RWMutex
	results map[string]Result
}

// NewManager creates a health check manager for the configured server.
func NewManager(cfg *config.Config, eventBus *events.EventBus) *Manager {
	m := &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		probeAddr: ProbeAddress(cfg.GetServer()),
		results:   make(map[string]Result),
	}
	m.checks = []check{
		{"listener", m.checkListener},
		{"disk", m.checkDiskUtilization},
		{"memory", m.checkMemory},
	}
	return m
}

// ProbeAddress returns the address a local client dials to reach the game
// listener. Wildcard binds are probed over loopback.
func ProbeAddress(s config.ServerConfig) string {
	host := s.BindAddress
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// Start runs all checks on every tick until ctx is cancelled. The first run
// waits one interval so the listener is bound. A non-positive interval
// disables health checks.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.GetApplicationData().Timers.HealthCheckInterval) * time.Second
	if interval <= 0 {
		log.Info().Msg("health checks disabled")
		return
	}

	log.Info().Int("checks", len(m.checks)).Dur("interval", interval).Msg("health check manager started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check and records the results.
func (m *Manager) RunOnce(ctx context.Context) []Result {
	out := make([]Result, 0, len(m.checks))
	for _, c := range m.checks {
		start := time.Now()
		level, message := c.fn(ctx)
		r := Result{
			Name:      c.name,
			Level:     level,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
		m.record(ctx, r)
		out = append(out, r)
	}
	return out
}

// record stores r and emits an alert when the level changed.
func (m *Manager) record(ctx context.Context, r Result) {
	m.mu.Lock()
	prev, seen := m.results[r.Name]
	m.results[r.Name] = r
	m.mu.Unlock()

	logger := log.With().Str("check", r.Name).Str("level", string(r.Level)).Logger()
	if r.Healthy() {
		logger.Debug().Msg(r.Message)
	} else {
		logger.Warn().Msg(r.Message)
	}

	previous := LevelOK
	if seen {
		previous = prev.Level
	}
	if previous == r.Level {
		return
	}
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHealthAlert,
		Source: "health_check",
		Payload: events.HealthAlertPayload{
			Check:    r.Name,
			Level:    string(r.Level),
			Previous: string(previous),
			Message:  r.Message,
		},
	})
}

// Results returns the latest result of every check, sorted by name.
func (m *Manager) Results() []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every recorded check is healthy.
func (m *Manager) Healthy() bool {
	for _, r := range m.Results() {
		if !r.Healthy() {
			return false
		}
	}
	return true
}

// checkListener dials the game port, handshakes and round-trips a
// keep-alive. The probe never logs in, so no player is created.
func (m *Manager) checkListener(ctx context.Context) (Level, string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	c, err := client.Dial(ctx, m.probeAddr)
	if err != nil {
		return LevelCritical, fmt.Sprintf("game listener unreachable: %v", err)
	}
	defer c.Close()
	c.SetTimeout(5 * time.Second)

	if _, err := c.Handshake(ProbeName); err != nil {
		return LevelError, fmt.Sprintf("handshake failed: %v", err)
	}
	if err := c.KeepAlive(); err != nil {
		return LevelError, fmt.Sprintf("keep alive failed: %v", err)
	}
	return LevelOK, fmt.Sprintf("listener answered in %s", time.Since(start).Round(time.Millisecond))
}

// checkDiskUtilization grades free space on the volume holding the data
// directory.
func (m *Manager) checkDiskUtilization(ctx context.Context) (Level, string) {
	path := "."
	if db := m.cfg.GetApplicationData().Database; db.Enabled && db.Path != "" {
		path = filepath.Dir(db.Path)
	}
	if !util.FileExists(path) {
		path = "."
	}

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		return LevelWarning, fmt.Sprintf("disk utilization check failed: %v", err)
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total)
	return diskLevel(usage.UsedPercent), message
}

// Alert thresholds: 80%, 90%, 95%, 100%
func diskLevel(usedPercent float64) Level {
	switch {
	case usedPercent >= 100:
		return LevelCritical
	case usedPercent >= 95:
		return LevelError
	case usedPercent >= 90:
		return LevelWarning
	case usedPercent >= 80:
		return LevelInfo
	default:
		return LevelOK
	}
}

func (m *Manager) checkMemory(ctx context.Context) (Level, string) {
	usage, err := util.GetMemoryUsage()
	if err != nil {
		return LevelWarning, fmt.Sprintf("memory check failed: %v", err)
	}
	message := fmt.Sprintf("Memory usage at %.1f%% (%d MB available)", usage.UsedPercent, usage.Available)
	switch {
	case usage.UsedPercent >= 95:
		return LevelError, message
	case usage.UsedPercent >= 90:
		return LevelWarning, message
	default:
		return LevelOK, message
	}
}
