// Package cli implements the operator console: status tables, player and
// session listings, kick and config commands read from stdin.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/db"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/server"
)

// LoginHistory is the part of the history store the console shows.
type LoginHistory interface {
	RecentLogins(limit int) ([]db.LoginRecord, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *server.Manager
	history  LoginHistory

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// history may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, manager *server.Manager, history LoginHistory, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		history:  history,
		in:       in,
		out:      out,
	}
}

// Start reads commands until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nalphacraft console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "alphacraft> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				log.Debug().Msg("console input closed")
				return
			}
			if err := c.Execute(ctx, line); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "list":
		c.printPlayers()
	case "player":
		return c.printPlayer(args)
	case "sessions":
		c.printSessions()
	case "history":
		return c.printHistory(args)
	case "kick":
		return c.cmdKick(args)
	case "setconfig":
		return c.cmdSetConfig(ctx, args)
	case "quit", "exit", "stop", "q":
		fmt.Fprintln(c.out, "Shutting down alphacraft...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status              Show server status
  players             List logged-in players
  player <name>       Show one player's position
  sessions            List open connections
  history [n]         Show the last n logins
  kick <name> [why]   Disconnect a player
  setconfig <k> <v>   Update a server setting
  quit                Shut down the server
  help                Show this help message`)
}

func (c *CLI) newTable(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	status := c.manager.GetStatus()

	tw := c.newTable([]string{"Name", "Address", "Protocol", "Players", "Connections", "Last EID", "Phase", "Uptime"})
	tw.Append([]string{
		status.Name,
		status.Address,
		strconv.Itoa(status.ProtocolVersion),
		fmt.Sprintf("%d/%d", status.Players, status.MaxPlayers),
		strconv.Itoa(status.Connections),
		strconv.Itoa(int(status.LastEntityID)),
		status.Counters.Phase.String(),
		status.Uptime.Truncate(time.Second).String(),
	})
	tw.Render()
}

func (c *CLI) printPlayers() {
	players := c.manager.Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players online")
		return
	}

	tw := c.newTable([]string{"Username", "EID", "X", "Y", "Z", "Ground", "Online"})
	for _, p := range players {
		tw.Append([]string{
			p.Username,
			strconv.Itoa(int(p.EntityID)),
			fmt.Sprintf("%.2f", p.X),
			fmt.Sprintf("%.2f", p.Y),
			fmt.Sprintf("%.2f", p.Z),
			strconv.FormatBool(p.OnGround),
			time.Since(p.JoinedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printPlayer(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: player <name>")
	}
	p, ok := c.manager.GetPlayer(args[0])
	if !ok {
		return fmt.Errorf("player %s not online", args[0])
	}

	fmt.Fprintf(c.out, "\n  Username:   %s\n", p.Username)
	fmt.Fprintf(c.out, "  UUID:       %s\n", p.UUID)
	fmt.Fprintf(c.out, "  Entity ID:  %d\n", p.EntityID)
	fmt.Fprintf(c.out, "  Position:   %.2f %.2f %.2f (stance %.2f)\n", p.X, p.Y, p.Z, p.Stance)
	fmt.Fprintf(c.out, "  Look:       yaw %.1f pitch %.1f\n", p.Yaw, p.Pitch)
	fmt.Fprintf(c.out, "  On ground:  %v\n", p.OnGround)
	fmt.Fprintf(c.out, "  Remote:     %s\n", p.Remote)
	fmt.Fprintf(c.out, "  Joined:     %s\n\n", p.JoinedAt.Format(time.RFC3339))
	return nil
}

func (c *CLI) printSessions() {
	sessions := c.manager.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No open connections")
		return
	}

	tw := c.newTable([]string{"ID", "Remote", "Username", "Connected", "Idle", "In", "Out"})
	for _, s := range sessions {
		username := s.Username
		if username == "" {
			username = "-"
		}
		tw.Append([]string{
			strconv.FormatUint(s.ID, 10),
			s.Remote,
			username,
			time.Since(s.ConnectedAt).Truncate(time.Second).String(),
			time.Since(s.LastActivity).Truncate(time.Second).String(),
			strconv.FormatUint(s.BytesIn, 10),
			strconv.FormatUint(s.BytesOut, 10),
		})
	}
	tw.Render()
}

func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("history database disabled")
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	records, err := c.history.RecentLogins(limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No logins recorded")
		return nil
	}

	tw := c.newTable([]string{"Username", "EID", "Joined", "Left", "Reason"})
	for _, r := range records {
		left := "-"
		if r.LeftAt != nil {
			left = r.LeftAt.Format(time.DateTime)
		}
		tw.Append([]string{
			r.Username,
			strconv.Itoa(int(r.EntityID)),
			r.JoinedAt.Format(time.DateTime),
			left,
			r.Reason,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <name> [reason]")
	}
	reason := strings.Join(args[1:], " ")
	if err := c.manager.Kick(args[0], reason); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kicked %s\n", args[0])
	return nil
}

func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	// Numbers and booleans are decoded as JSON, anything else is a string.
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	previous := c.cfg.GetServer()
	if err := c.cfg.UpdateServerField(key, value); err != nil {
		return err
	}
	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetServer(previous)
		return result.Errors[0]
	}

	if c.cfg.Path() != "" {
		if err := c.cfg.Save(); err != nil {
			return err
		}
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Section: "server",
			Key:     key,
			Value:   value,
		},
	})

	fmt.Fprintf(c.out, "Config updated: %s = %s\n", key, raw)
	return nil
}
