package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
)

type fakeSender struct {
	mu  sync.Mutex
	got []bus.OutboundMessage
}

func (f *fakeSender) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return nil
}

func (f *fakeSender) messages() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.OutboundMessage, len(f.got))
	copy(out, f.got)
	return out
}

func TestNew_BuildsWithAllChannelsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()

	sup, err := New(cfg, bus.NewMessageBus(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(sup.channels) != 0 {
		t.Fatalf("expected no channels registered when none are enabled, got %d", len(sup.channels))
	}
	if _, ok := sup.senders["ws"]; !ok {
		t.Fatal("expected the gateway's websocket surface registered under \"ws\"")
	}
}

func TestSupervisor_DispatchOutboundRoutesToRegisteredSender(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	fs := &fakeSender{}
	s := &Supervisor{bus: msgBus, senders: map[string]sender{"telegram": fs}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.dispatchOutbound(ctx)
		close(done)
	}()

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "hi"})

	deadline := time.After(2 * time.Second)
	for {
		if len(fs.messages()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected message to reach the registered sender")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	got := fs.messages()
	if got[0].Content != "hi" || got[0].ChatID != "c1" {
		t.Fatalf("unexpected delivered message: %+v", got[0])
	}
}

func TestSupervisor_DispatchOutboundIgnoresUnknownChannel(t *testing.T) {
	msgBus := bus.NewMessageBus(4)
	fs := &fakeSender{}
	s := &Supervisor{bus: msgBus, senders: map[string]sender{"telegram": fs}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.dispatchOutbound(ctx)
		close(done)
	}()

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if len(fs.messages()) != 0 {
		t.Fatalf("expected no delivery for an unregistered channel, got %d", len(fs.messages()))
	}
}
