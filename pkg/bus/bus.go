// Package bus provides the bounded, mpsc-style message bus that connects
// channel listeners, the gateway, and the scheduler to the agent loop.
//
// Inbound messages from any origin are funneled through a single bounded
// channel into the agent loop; outbound replies fan back out to channel
// senders through a second bounded channel. Backpressure policy differs by
// source: authoritative sources (user chat) block on a full queue, while
// lossy sources (trend polls) drop with a warning metric.
package bus

import (
	"context"

	"github.com/asteroniris/asteroniris/pkg/logger"
)

// InboundMessage is a normalized message entering the agent loop from any
// channel, the gateway, or the scheduler.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	Content    string
	Media      []string
	SessionKey string
	Metadata   map[string]string
}

// OutboundMessage is a reply leaving the agent loop bound for a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Media    []string
	Metadata map[string]string
}

// Lossy marks an inbound message as originating from a source where a
// dropped message is acceptable under backpressure (trend polls, RSS).
// Callers set Metadata["_lossy"] = "true" via NewLossyInbound rather than
// threading an extra parameter through every publisher.
const lossyKey = "_lossy"

// NewLossyInbound tags a message as droppable under backpressure.
func NewLossyInbound(msg InboundMessage) InboundMessage {
	if msg.Metadata == nil {
		msg.Metadata = map[string]string{}
	}
	msg.Metadata[lossyKey] = "true"
	return msg
}

func isLossy(msg InboundMessage) bool {
	return msg.Metadata != nil && msg.Metadata[lossyKey] == "true"
}

// MessageBus is the shared bounded-channel hub between ingress sources and
// the agent loop, and between the agent loop and channel senders.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// DefaultCapacity is the bounded channel size used when none is specified.
const DefaultCapacity = 256

// NewMessageBus creates a bus with bounded inbound/outbound channels.
func NewMessageBus(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, capacity),
		outbound: make(chan OutboundMessage, capacity),
	}
}

// PublishInbound enqueues a message for the agent loop. Authoritative
// messages block until there is room; lossy messages drop with a warning
// metric when the queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	if isLossy(msg) {
		select {
		case b.inbound <- msg:
		default:
			logger.WarnCF("bus", "dropped lossy inbound message: queue full", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
			})
		}
		return
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a reply for delivery to its origin channel.
// Outbound replies always block on a full queue: dropping a reply the user
// is waiting for is worse than slowing down the producer.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// ConsumeOutbound blocks until a reply is available or ctx is done.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// InboundLen reports the current inbound queue depth, for diagnostics.
func (b *MessageBus) InboundLen() int { return len(b.inbound) }

// OutboundLen reports the current outbound queue depth, for diagnostics.
func (b *MessageBus) OutboundLen() int { return len(b.outbound) }
