package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/server"
)

type countingPruner struct {
	calls atomic.Int32
	days  atomic.Int32
	err   error
}

func (p *countingPruner) PruneHistory(days int) (int64, error) {
	p.calls.Add(1)
	p.days.Store(int32(days))
	return 3, p.err
}

func newScheduler(t *testing.T, pruner Pruner, mutate func(*config.TimerConfig)) (*Scheduler, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	app := cfg.GetApplicationData()
	if mutate != nil {
		mutate(&app.Timers)
	}
	cfg.SetApplicationData(app)

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	mgr, err := server.NewManager(cfg, bus)
	if err != nil {
		t.Fatal(err)
	}
	return NewScheduler(cfg, bus, mgr, pruner), bus
}

func TestStatusPayload(t *testing.T) {
	s, _ := newScheduler(t, nil, nil)
	p := s.StatusPayload()
	if p.Name != "alphacraft" || p.MaxPlayers != 20 || p.Players != 0 {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestStatusIsPublished(t *testing.T) {
	s, bus := newScheduler(t, nil, func(tc *config.TimerConfig) {
		tc.StatusInterval = 1
		tc.HistoryPruneInterval = 0
	})

	got := make(chan events.ServerStatusPayload, 4)
	bus.Subscribe(events.EventServerStatus, "test", func(ctx context.Context, e events.Event) error {
		got <- e.Payload.(events.ServerStatusPayload)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case p := <-got:
		if p.Name != "alphacraft" {
			t.Errorf("name = %q", p.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no status event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestPruneHistory(t *testing.T) {
	p := &countingPruner{}
	s, _ := newScheduler(t, p, nil)

	s.pruneHistory(30)
	if p.calls.Load() != 1 || p.days.Load() != 30 {
		t.Errorf("calls=%d days=%d", p.calls.Load(), p.days.Load())
	}

	s.pruneHistory(0)
	if p.calls.Load() != 1 {
		t.Error("zero retention must not prune")
	}

	p.err = errors.New("locked")
	s.pruneHistory(7)
	if p.calls.Load() != 2 {
		t.Error("prune should still be attempted")
	}
}

func TestDisabledTaskReturns(t *testing.T) {
	s, _ := newScheduler(t, nil, nil)
	done := make(chan struct{})
	go func() {
		s.every(context.Background(), "off", 0, func(context.Context) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled task did not return")
	}
}

func TestCleanStaleWithNoConnections(t *testing.T) {
	s, _ := newScheduler(t, nil, nil)
	if n := s.cleanStale(time.Second); n != 0 {
		t.Errorf("closed %d", n)
	}
}
