package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/providers"
)

type fakeChatProvider struct {
	content string
	err     error
}

func (f *fakeChatProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &providers.LLMResponse{Content: f.content}, nil
}

func (f *fakeChatProvider) ChatStream(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (<-chan providers.StreamEvent, error) {
	return nil, nil
}

func (f *fakeChatProvider) GetDefaultModel() string { return "test-model" }
func (f *fakeChatProvider) SupportsTools() bool     { return false }
func (f *fakeChatProvider) SupportsStreaming() bool { return false }
func (f *fakeChatProvider) SupportsVision() bool    { return false }

func TestSubagentManager_PublishesResultOnSuccess(t *testing.T) {
	b := bus.NewMessageBus(4)
	mgr := NewSubagentManager(&fakeChatProvider{content: "42"}, t.TempDir(), b)

	ack, err := mgr.Spawn(context.Background(), "what is the answer", "math", "telegram", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ack, "Spawned background subagent") {
		t.Errorf("expected an acknowledgement, got %q", ack)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected the subagent result to be published to the bus")
	}
	if !strings.Contains(msg.Content, "42") {
		t.Errorf("expected result content to include the provider's answer, got %q", msg.Content)
	}
}

func TestSubagentManager_NoProviderReturnsError(t *testing.T) {
	mgr := NewSubagentManager(nil, t.TempDir(), bus.NewMessageBus(4))
	_, err := mgr.Spawn(context.Background(), "task", "label", "telegram", "1")
	if err == nil {
		t.Fatal("expected an error with no provider configured")
	}
}

// blockingProvider holds its Chat call open until release is closed, so a
// test can occupy every concurrent-subagent slot on purpose.
type blockingProvider struct {
	release chan struct{}
}

func (p *blockingProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	<-p.release
	return &providers.LLMResponse{Content: "done"}, nil
}

func (p *blockingProvider) ChatStream(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, options map[string]interface{}) (<-chan providers.StreamEvent, error) {
	return nil, nil
}

func (p *blockingProvider) GetDefaultModel() string { return "test-model" }
func (p *blockingProvider) SupportsTools() bool     { return false }
func (p *blockingProvider) SupportsStreaming() bool { return false }
func (p *blockingProvider) SupportsVision() bool    { return false }

func TestSubagentManager_RejectsSpawnBeyondConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	mgr := NewSubagentManager(&blockingProvider{release: release}, t.TempDir(), bus.NewMessageBus(defaultMaxConcurrentSubagents+1))

	for i := 0; i < defaultMaxConcurrentSubagents; i++ {
		if _, err := mgr.Spawn(context.Background(), "task", "label", "telegram", "1"); err != nil {
			t.Fatalf("spawn %d: unexpected error: %v", i, err)
		}
	}

	// Give the goroutines a moment to claim their slots before testing the cap.
	time.Sleep(50 * time.Millisecond)

	if _, err := mgr.Spawn(context.Background(), "one too many", "label", "telegram", "1"); err == nil {
		t.Fatal("expected an error once the concurrency limit is reached")
	}
}
