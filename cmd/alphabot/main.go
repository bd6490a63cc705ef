// alphabot connects a number of scripted players to an alphacraft server,
// logs each one in and walks it in a small circle around spawn.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/client"
)

type botConfig struct {
	addr     string
	name     string
	moves    int
	interval time.Duration
	radius   float64
	chat     string
}

func main() {
	addr := flag.String("addr", "localhost:25565", "server address")
	name := flag.String("name", "bot", "username prefix")
	count := flag.Int("count", 1, "number of bot clients")
	moves := flag.Int("moves", 20, "position updates per bot, 0 runs until interrupted")
	interval := flag.Duration("interval", 250*time.Millisecond, "delay between position updates")
	radius := flag.Float64("radius", 4, "radius of the walked circle in blocks")
	chat := flag.String("chat", "", "chat line each bot sends after login")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if *count < 1 {
		fmt.Println("count must be >= 1")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := botConfig{
		addr:     *addr,
		name:     *name,
		moves:    *moves,
		interval: *interval,
		radius:   *radius,
		chat:     *chat,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0
	for i := 0; i < *count; i++ {
		username := cfg.name
		if *count > 1 {
			username = fmt.Sprintf("%s%d", cfg.name, i+1)
		}

		wg.Add(1)
		go func(index int, username string) {
			defer wg.Done()
			if err := runBot(ctx, cfg, index, username); err != nil {
				log.Error().Err(err).Str("bot", username).Msg("bot failed")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(i, username)
	}
	wg.Wait()

	if failed > 0 {
		fmt.Printf("alphabot: %d of %d bots failed\n", failed, *count)
		os.Exit(1)
	}
	fmt.Println("alphabot: scenario complete")
}

func runBot(ctx context.Context, cfg botConfig, index int, username string) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.Dial(dialCtx, cfg.addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Handshake(username); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	res, err := c.Login(username, 0, 0)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	logger := log.With().Str("bot", username).Int32("entity_id", res.EntityID).Logger()
	logger.Info().
		Float64("x", res.Pose.X).
		Float64("y", res.Pose.Y).
		Float64("z", res.Pose.Z).
		Msg("logged in")

	if cfg.chat != "" {
		if err := c.Chat(cfg.chat); err != nil {
			return err
		}
	}

	// Bots start spread around the circle.
	phase := float64(index) * 0.9
	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	for step := 0; cfg.moves == 0 || step < cfg.moves; step++ {
		select {
		case <-ctx.Done():
			return c.Disconnect("Quitting")
		case <-ticker.C:
		}

		angle := phase + float64(step)*0.3
		x := res.Pose.X + cfg.radius*math.Cos(angle)
		z := res.Pose.Z + cfg.radius*math.Sin(angle)
		yaw := float32(math.Mod(angle*180/math.Pi+90, 360))
		if err := c.MoveLook(x, res.Pose.Y, z, yaw, 0, true); err != nil {
			return err
		}

		// A keep-alive round trip every few steps proves the session is alive.
		if step%5 == 4 {
			if err := c.KeepAlive(); err != nil {
				if errors.Is(err, client.ErrKicked) {
					logger.Warn().Err(err).Msg("kicked")
					return nil
				}
				return fmt.Errorf("keep alive: %w", err)
			}
		}
		logger.Debug().Int("step", step).Float64("x", x).Float64("z", z).Msg("moved")
	}

	logger.Info().Msg("done, disconnecting")
	return c.Disconnect("Quitting")
}
