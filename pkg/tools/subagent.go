package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/providers"
)

// defaultMaxConcurrentSubagents bounds how many background subagents may
// run at once. Unbounded spawning would let a single conversation exhaust
// the provider's rate limit on its own; the spec's concurrency-coordination
// requirement calls for bounded queues and backpressure on every spawned
// job, the same way bus.MessageBus bounds its channels rather than letting
// any one source flood the agent loop.
const defaultMaxConcurrentSubagents = 4

// SubagentManager runs background, single-shot subagent tasks for the spawn
// tool. Unlike delegate (which hands a task to another fully-configured
// agent instance with its own tool set), spawn has no target agent to route
// to — it is meant for ad hoc background work, so it drives the provider
// directly with a minimal system prompt and no tool loop, then reports the
// result back over the message bus the same way RunDelegateAsync does.
type SubagentManager struct {
	provider  providers.LLMProvider
	workspace string
	bus       *bus.MessageBus
	slots     chan struct{}
}

func NewSubagentManager(provider providers.LLMProvider, workspace string, messageBus *bus.MessageBus) *SubagentManager {
	return &SubagentManager{
		provider:  provider,
		workspace: workspace,
		bus:       messageBus,
		slots:     make(chan struct{}, defaultMaxConcurrentSubagents),
	}
}

// Spawn runs task in the background and returns immediately with an
// acknowledgement; the actual result is published as a system message once
// the provider call completes. Returns an error without starting any work
// if the concurrent-subagent budget is already exhausted, applying
// backpressure to the caller instead of queuing indefinitely.
func (m *SubagentManager) Spawn(ctx context.Context, task, label, channel, chatID string) (string, error) {
	if m.provider == nil {
		return "", fmt.Errorf("no provider configured for subagent")
	}
	if label == "" {
		label = "background task"
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return "", fmt.Errorf("too many background subagents running (max %d); wait for one to finish before spawning another", cap(m.slots))
	}

	go func() {
		defer func() { <-m.slots }()

		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		messages := []providers.Message{
			{
				Role:    "system",
				Content: "You are a background subagent completing one isolated task. Work autonomously and report only the final result, with no preamble.",
			},
			{Role: "user", Content: task},
		}

		resp, err := m.provider.Chat(bgCtx, messages, nil, m.provider.GetDefaultModel(), nil)

		var content string
		if err != nil {
			content = fmt.Sprintf("Subagent task '%s' failed: %v", label, err)
		} else {
			content = fmt.Sprintf("Subagent task '%s' completed.\n\nResult:\n%s", label, resp.Content)
		}

		if m.bus != nil {
			m.bus.PublishInbound(bus.InboundMessage{
				Channel:  "system",
				SenderID: "spawn",
				ChatID:   fmt.Sprintf("%s:%s", channel, chatID),
				Content:  content,
			})
		}
	}()

	return fmt.Sprintf("Spawned background subagent for %q. Result will be reported when done.", label), nil
}
