package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/util"
)

// RunSetupWizard walks an operator through the main settings and saves the
// result. Input is read line by line from in; prompts go to out.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          alphacraft - First Run Setup        ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	server := cfg.GetServer()
	app := cfg.GetApplicationData()

	fmt.Fprintln(out, "── Server ──")
	server.Name = w.promptString("Server name", server.Name)
	server.MOTD = w.promptString("Message of the day", server.MOTD)
	server.BindAddress = w.promptString("Bind address", server.BindAddress)
	server.Port = w.promptInt("Game port", server.Port)
	server.MaxPlayers = w.promptInt("Max players (0 = unlimited)", server.MaxPlayers)
	server.IdleTimeout = w.promptInt("Idle timeout in seconds (0 = disabled)", server.IdleTimeout)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Admin API ──")
	app.API.Enabled = w.promptBool("Enable admin API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = w.promptInt("API port", app.API.Port)
		app.API.Token = w.promptString(`API bearer token ("generate" for a random one, blank = none)`, app.API.Token)
		if app.API.Token == "generate" {
			token, err := util.GenerateToken(24)
			if err != nil {
				return fmt.Errorf("failed to generate API token: %w", err)
			}
			app.API.Token = token
			fmt.Fprintf(out, "  generated token: %s\n", token)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	app.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = w.promptString("Broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = w.promptInt("Broker port", app.MQTT.Port)
	}

	cfg.SetServer(server)
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, warn := range result.Warnings {
		log.Warn().Str("field", warn.Field).Msg(warn.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

func (w *wizard) readLine() string {
	input, _ := w.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}
	return input == "yes" || input == "y" || input == "true" || input == "1"
}
