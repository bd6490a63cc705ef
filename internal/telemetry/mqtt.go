// Package telemetry publishes server events to an MQTT broker and accepts
// remote commands on a command topic.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
	"github.com/alphacraft-project/alphacraft/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicPlayerJoin   = "players/join"
	TopicPlayerLeave  = "players/leave"
	TopicChat         = "chat"
	TopicStatus       = "status"
	TopicSessionError = "sessions/error"
	TopicHealth       = "health"
	TopicAdmin        = "admin"
	TopicCommand      = "command"
)

// publisher is the subset of mqtt.Client used for publishing.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client
	pub      publisher
	prefix   string

	// Included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	handler := newHandler(cfg, eventBus, nil, sysInfo)

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("alphacraft-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
		token := client.Subscribe(handler.topic(TopicCommand), 1, func(_ mqtt.Client, msg mqtt.Message) {
			handler.handleCommand(context.Background(), msg.Payload())
		})
		go func() {
			token.Wait()
			if token.Error() != nil {
				log.Warn().Err(token.Error()).Msg("MQTT command subscription failed")
			}
		}()
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	handler.pub = handler.client
	return handler, nil
}

func newHandler(cfg *config.Config, eventBus *events.EventBus, pub publisher, sysInfo util.SystemInfo) *MQTTHandler {
	prefix := cfg.GetApplicationData().MQTT.TopicPrefix
	if prefix == "" {
		prefix = "alphacraft"
	}
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		pub:      pub,
		prefix:   prefix,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"server_name": cfg.GetServer().Name,
			"os":          sysInfo.OS,
		},
	}
}

// buildTLSConfig loads the client certificate and CA for mTLS.
func buildTLSConfig(mqttCfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if mqttCfg.CAFile != "" {
		pem, err := os.ReadFile(mqttCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", mqttCfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// Start connects to the MQTT broker and publishes events until ctx is
// cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventPlayerJoin, "mqtt.playerJoin", h.onPlayerJoin)
	h.eventBus.Subscribe(events.EventPlayerLeave, "mqtt.playerLeave", h.onPlayerLeave)
	h.eventBus.Subscribe(events.EventChatMessage, "mqtt.chat", h.onChatMessage)
	h.eventBus.Subscribe(events.EventServerStatus, "mqtt.serverStatus", h.onServerStatus)
	h.eventBus.Subscribe(events.EventSessionError, "mqtt.sessionError", h.onSessionError)
	h.eventBus.Subscribe(events.EventHealthAlert, "mqtt.healthAlert", h.onHealthAlert)
}

func (h *MQTTHandler) topic(suffix string) string {
	return h.prefix + "/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	if h.pub == nil || !h.pub.IsConnected() {
		return
	}

	topic := h.topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.pub.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onPlayerJoin(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerJoinPayload)
	if !ok {
		return fmt.Errorf("invalid join payload")
	}
	h.publish(TopicPlayerJoin, map[string]interface{}{
		"username":  p.Username,
		"uuid":      p.UUID,
		"entity_id": p.EntityID,
		"remote":    p.Remote,
		"joined_at": p.JoinedAt.UTC().Format(time.RFC3339),
	})
	return nil
}

func (h *MQTTHandler) onPlayerLeave(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerLeavePayload)
	if !ok {
		return fmt.Errorf("invalid leave payload")
	}
	h.publish(TopicPlayerLeave, map[string]interface{}{
		"username":  p.Username,
		"entity_id": p.EntityID,
		"reason":    p.Reason,
		"position":  []float64{p.X, p.Y, p.Z},
	})
	return nil
}

func (h *MQTTHandler) onChatMessage(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ChatMessagePayload)
	if !ok {
		return fmt.Errorf("invalid chat payload")
	}
	h.publish(TopicChat, map[string]interface{}{
		"username": p.Username,
		"message":  p.Message,
	})
	return nil
}

func (h *MQTTHandler) onServerStatus(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.ServerStatusPayload)
	if !ok {
		return fmt.Errorf("invalid status payload")
	}
	h.publish(TopicStatus, map[string]interface{}{
		"name":           p.Name,
		"players":        p.Players,
		"max_players":    p.MaxPlayers,
		"connections":    p.Connections,
		"last_entity_id": p.EntityIDs,
		"uptime_sec":     int64(p.Uptime.Seconds()),
		"cpu_percent":    p.CPUPercent,
		"mem_percent":    p.MemPercent,
	})
	return nil
}

func (h *MQTTHandler) onSessionError(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionErrorPayload)
	if !ok {
		return fmt.Errorf("invalid session error payload")
	}
	h.publish(TopicSessionError, map[string]interface{}{
		"session":  p.SessionID,
		"remote":   p.Remote,
		"username": p.Username,
		"error":    p.Error,
	})
	return nil
}

func (h *MQTTHandler) onHealthAlert(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.HealthAlertPayload)
	if !ok {
		return fmt.Errorf("invalid health alert payload")
	}
	h.publish(TopicHealth, map[string]interface{}{
		"check":    p.Check,
		"level":    p.Level,
		"previous": p.Previous,
		"message":  p.Message,
	})
	return nil
}

// Command is a remote instruction received on the command topic.
type Command struct {
	Command  string `json:"command"`
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// handleCommand decodes a command message and forwards it on the bus.
func (h *MQTTHandler) handleCommand(ctx context.Context, raw []byte) error {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		log.Warn().Err(err).Msg("MQTT: malformed command")
		return err
	}

	switch cmd.Command {
	case "kick":
		if cmd.Username == "" {
			return fmt.Errorf("kick command without username")
		}
		log.Info().Str("username", cmd.Username).Msg("MQTT: kick requested")
		h.eventBus.Emit(ctx, events.Event{
			Type:   events.EventKickPlayer,
			Source: "mqtt",
			Payload: events.KickPlayerPayload{
				Username: cmd.Username,
				Reason:   cmd.Reason,
			},
		})
		return nil
	default:
		log.Warn().Str("command", cmd.Command).Msg("MQTT: unknown command")
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
