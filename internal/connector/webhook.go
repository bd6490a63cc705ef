// Package connector implements outbound connectors to external services.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphacraft-project/alphacraft/internal/config"
	"github.com/alphacraft-project/alphacraft/internal/events"
)

// Embed colors by level.
const (
	colorRed    = 0xFF0000
	colorOrange = 0xFFAA00
	colorGreen  = 0x00FF00
	colorBlue   = 0x3498DB
)

// WebhookNotifier posts Discord-style embeds for selected server events.
type WebhookNotifier struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   *http.Client
}

// NewWebhookNotifier creates a notifier. It does nothing until Subscribe
// is called.
func NewWebhookNotifier(cfg *config.Config, eventBus *events.EventBus) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:      cfg,
		eventBus: eventBus,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Subscribe registers the event handlers selected in the webhook config.
func (wn *WebhookNotifier) Subscribe() {
	hook := wn.cfg.GetApplicationData().Webhook
	if hook.NotifyOnHealth {
		wn.eventBus.Subscribe(events.EventHealthAlert, "webhook.health", wn.onHealthAlert)
	}
	if hook.NotifyOnJoin {
		wn.eventBus.Subscribe(events.EventPlayerJoin, "webhook.join", wn.onPlayerJoin)
		wn.eventBus.Subscribe(events.EventPlayerLeave, "webhook.leave", wn.onPlayerLeave)
	}
	log.Info().
		Bool("health", hook.NotifyOnHealth).
		Bool("players", hook.NotifyOnJoin).
		Msg("webhook notifications enabled")
}

// Send posts one embed to the configured webhook.
func (wn *WebhookNotifier) Send(ctx context.Context, title, message, level string) error {
	hook := wn.cfg.GetApplicationData().Webhook
	if !hook.Enabled || hook.URL == "" {
		return nil
	}

	var color int
	switch level {
	case "critical", "error":
		color = colorRed
	case "warning":
		color = colorOrange
	case "ok":
		color = colorGreen
	default:
		color = colorBlue
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       color,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": wn.cfg.GetServer().Name,
				},
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := wn.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("title", title).Msg("webhook notification sent")
	return nil
}

func (wn *WebhookNotifier) onHealthAlert(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.HealthAlertPayload)
	if !ok {
		return fmt.Errorf("invalid health alert payload")
	}
	title := fmt.Sprintf("Health check %s: %s", p.Check, p.Level)
	return wn.Send(ctx, title, p.Message, p.Level)
}

func (wn *WebhookNotifier) onPlayerJoin(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerJoinPayload)
	if !ok {
		return fmt.Errorf("invalid join payload")
	}
	return wn.Send(ctx, p.Username+" joined", fmt.Sprintf("Entity %d from %s", p.EntityID, p.Remote), "info")
}

func (wn *WebhookNotifier) onPlayerLeave(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerLeavePayload)
	if !ok {
		return fmt.Errorf("invalid leave payload")
	}
	return wn.Send(ctx, p.Username+" left", p.Reason, "info")
}
