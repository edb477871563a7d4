package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/gateway"
)

// webhookEnvelope is the common shape a generic inbound webhook payload is
// unmarshaled into. Lark/DingTalk/QQ custom-bot webhooks all differ in
// their wrapping JSON keys but agree on this core: a sender, a chat/target
// id, and a text body, plus an optional verification challenge a platform
// sends once when the webhook URL is first registered.
type webhookEnvelope struct {
	Challenge string `json:"challenge,omitempty"`
	SenderID  string `json:"sender_id"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
}

// WebhookChannel is a generic inbound-webhook channel adapter. Transport
// (HMAC verification, replay protection, body size limits) is handled by
// the Gateway's /webhook/{provider} route; this channel only parses the
// verified body and, for outbound replies, POSTs to the platform's
// configured incoming-webhook URL — the delivery shape every one of these
// custom-bot integrations (Lark, DingTalk, QQ) shares.
type WebhookChannel struct {
	*BaseChannel
	cfg        config.WebhookChannelConfig
	httpClient *http.Client
}

func NewWebhookChannel(cfg config.WebhookChannelConfig, msgBus *bus.MessageBus) *WebhookChannel {
	base := NewBaseChannel(cfg.Name, cfg, msgBus, cfg.AllowFrom)
	return &WebhookChannel{
		BaseChannel: base,
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Start marks the channel running. The inbound path is driven by the
// Gateway's HTTP handler calling Handle, not by a goroutine here.
func (c *WebhookChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	return nil
}

func (c *WebhookChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

// Send posts a reply to the platform's configured incoming-webhook URL.
func (c *WebhookChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("webhook channel %q not running", c.cfg.Name)
	}
	if c.cfg.ReplyURL == "" {
		return fmt.Errorf("webhook channel %q has no reply_url configured", c.cfg.Name)
	}

	payload, err := json.Marshal(webhookEnvelope{ChatID: msg.ChatID, Text: msg.Content})
	if err != nil {
		return fmt.Errorf("webhook: marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.ReplyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: reply request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: reply rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Handle parses a verified webhook body into an inbound message, matching
// gateway.WebhookProvider's Handle shape. A bare verification challenge
// (sent once when a platform registers the webhook URL) is acknowledged
// without forwarding to the bus.
func (c *WebhookChannel) Handle(body []byte) (bus.InboundMessage, bool, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return bus.InboundMessage{}, false, fmt.Errorf("webhook: malformed payload: %w", err)
	}
	if env.Challenge != "" {
		return bus.InboundMessage{}, false, nil
	}
	if env.SenderID == "" || env.ChatID == "" {
		return bus.InboundMessage{}, false, fmt.Errorf("webhook: missing sender_id or chat_id")
	}
	if !c.IsAllowed(env.SenderID) {
		return bus.InboundMessage{}, false, nil
	}

	sessionKey := fmt.Sprintf("%s:%s", c.name, env.ChatID)
	return bus.InboundMessage{
		Channel:    c.name,
		SenderID:   env.SenderID,
		ChatID:     env.ChatID,
		Content:    env.Text,
		SessionKey: sessionKey,
	}, true, nil
}

// AsWebhookProvider builds the registration the Gateway needs to route
// /webhook/{name} to this channel.
func (c *WebhookChannel) AsWebhookProvider() gateway.WebhookProvider {
	return gateway.WebhookProvider{
		Name:   c.cfg.Name,
		Secret: []byte(c.cfg.Secret),
		Handle: c.Handle,
	}
}
