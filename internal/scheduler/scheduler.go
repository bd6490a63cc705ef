// Package scheduler runs the periodic background tasks: status snapshots,
// stale connection cleanup and login history pruning.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/server"
	"github.com/alphacraft-project/alphacraft/internal/util"
)

// Pruner removes old history rows.
type Pruner interface {
	PruneHistory(days int) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	pruner   Pruner
}

// NewScheduler creates a new task scheduler. pruner may be nil when the
// history database is disabled.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		pruner:   pruner,
	}
}

// Start runs all scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	timers := s.cfg.GetApplicationData().Timers
	log.Info().Msg("scheduler started")

	go s.every(ctx, "status", seconds(timers.StatusInterval), s.publishStatus)

	if idle := s.cfg.GetServer().IdleTimeoutDuration(); idle > 0 {
		go s.every(ctx, "stale_check", seconds(timers.StaleCheckInterval), func(context.Context) {
			s.cleanStale(idle)
		})
	}

	if s.pruner != nil {
		go s.every(ctx, "history_prune", seconds(timers.HistoryPruneInterval), func(context.Context) {
			s.pruneHistory(timers.HistoryRetentionDays)
		})
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// every runs task on a ticker. A non-positive interval disables the task.
func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	if interval <= 0 {
		log.Debug().Str("task", name).Msg("scheduled task disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// StatusPayload builds the periodic status event payload.
func (s *Scheduler) StatusPayload() events.ServerStatusPayload {
	status := s.manager.GetStatus()
	payload := events.ServerStatusPayload{
		Name:        status.Name,
		Players:     status.Players,
		MaxPlayers:  status.MaxPlayers,
		Connections: status.Connections,
		EntityIDs:   status.LastEntityID,
		Uptime:      status.Uptime,
	}
	if cpuPct, err := util.GetCPUUsage(); err == nil {
		payload.CPUPercent = cpuPct
	}
	if memUsage, err := util.GetMemoryUsage(); err == nil {
		payload.MemPercent = memUsage.UsedPercent
	}
	return payload
}

func (s *Scheduler) publishStatus(ctx context.Context) {
	payload := s.StatusPayload()
	log.Debug().
		Int("players", payload.Players).
		Int("connections", payload.Connections).
		Msg("status snapshot")

	s.eventBus.Emit(ctx, events.Event{
		Type:    events.EventServerStatus,
		Source:  "scheduler",
		Payload: payload,
	})
}

// cleanStale closes connections idle for longer than timeout. The read
// deadline normally catches these first.
func (s *Scheduler) cleanStale(timeout time.Duration) int {
	n := s.manager.GetConnectionRegistry().CleanStale(timeout)
	if n > 0 {
		log.Info().Int("closed", n).Dur("timeout", timeout).Msg("closed stale connections")
	}
	return n
}

func (s *Scheduler) pruneHistory(days int) {
	if days <= 0 {
		return
	}
	removed, err := s.pruner.PruneHistory(days)
	if err != nil {
		log.Warn().Err(err).Msg("history prune failed")
		return
	}
	log.Info().Int64("removed", removed).Int("retention_days", days).Msg("history pruned")
}
