package channels

import (
	"encoding/json"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
)

func TestWebhookChannel_HandleAcksChallengeWithoutForwarding(t *testing.T) {
	c := NewWebhookChannel(config.WebhookChannelConfig{Name: "lark"}, bus.NewMessageBus(4))
	body, _ := json.Marshal(webhookEnvelope{Challenge: "abc123"})

	_, forward, err := c.Handle(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forward {
		t.Fatalf("expected challenge payload to not be forwarded")
	}
}

func TestWebhookChannel_HandleParsesMessage(t *testing.T) {
	c := NewWebhookChannel(config.WebhookChannelConfig{Name: "dingtalk"}, bus.NewMessageBus(4))
	body, _ := json.Marshal(webhookEnvelope{SenderID: "u1", ChatID: "c1", Text: "hello"})

	msg, forward, err := c.Handle(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !forward {
		t.Fatalf("expected message payload to be forwarded")
	}
	if msg.Channel != "dingtalk" || msg.SenderID != "u1" || msg.ChatID != "c1" || msg.Content != "hello" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
}

func TestWebhookChannel_HandleRejectsDisallowedSenderSilently(t *testing.T) {
	c := NewWebhookChannel(config.WebhookChannelConfig{Name: "qq", AllowFrom: []string{"allowed-user"}}, bus.NewMessageBus(4))
	body, _ := json.Marshal(webhookEnvelope{SenderID: "stranger", ChatID: "c1", Text: "hi"})

	_, forward, err := c.Handle(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forward {
		t.Fatalf("expected disallowed sender to be dropped, not forwarded")
	}
}

func TestWebhookChannel_SendFailsWithoutReplyURL(t *testing.T) {
	c := NewWebhookChannel(config.WebhookChannelConfig{Name: "lark"}, bus.NewMessageBus(4))
	c.setRunning(true)
	err := c.Send(nil, bus.OutboundMessage{ChatID: "c1", Content: "reply"})
	if err == nil {
		t.Fatalf("expected error when reply_url is unset")
	}
}

func TestWebhookChannel_AsWebhookProviderCarriesSecret(t *testing.T) {
	c := NewWebhookChannel(config.WebhookChannelConfig{Name: "lark", Secret: "shh"}, bus.NewMessageBus(4))
	p := c.AsWebhookProvider()
	if p.Name != "lark" || string(p.Secret) != "shh" {
		t.Fatalf("unexpected provider: %+v", p)
	}
}
