package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
	"sort"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

type ToolRegistry struct {
	tools map[string]Tool
	mu    sync.RWMutex
	chain Chain
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Use installs a middleware stage. Stages run in registration order on the
// way in (Security first) and unwind in reverse on the way out.
func (r *ToolRegistry) Use(mw Middleware) {
	r.chain.Use(mw)
}

func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return r.ExecuteWithContext(ctx, name, args, "", "")
}

func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string) (string, error) {
	call := ExecCall{ToolName: name, Args: args, Channel: channel, ChatID: chatID, Entity: entityTag(channel, chatID)}
	if tool, ok := r.Get(name); ok {
		if estimator, ok := tool.(CostEstimator); ok {
			call.CostCents = estimator.EstimatedCostCents()
		}
	}
	return r.ExecuteCall(ctx, call)
}

func entityTag(channel, chatID string) string {
	if channel == "" && chatID == "" {
		return ""
	}
	return channel + ":" + chatID
}

// ExecuteCall runs name through the installed middleware chain (Security →
// RateLimit → Audit → OutputSize → Sanitize → Scrub, in whatever order
// Use calls installed them) and finally the tool itself.
func (r *ToolRegistry) ExecuteCall(ctx context.Context, call ExecCall) (string, error) {
	final := func(ctx context.Context, call ExecCall) (string, error) {
		return r.dispatch(ctx, call)
	}
	return r.chain.build(final)(ctx, call)
}

func (r *ToolRegistry) dispatch(ctx context.Context, call ExecCall) (string, error) {
	logger.InfoCF("tool", "Tool execution started",
		map[string]interface{}{
			"tool": call.ToolName,
			"args": call.Args,
		})

	tool, ok := r.Get(call.ToolName)
	if !ok {
		logger.ErrorCF("tool", "Tool not found",
			map[string]interface{}{
				"tool": call.ToolName,
			})
		return "", fmt.Errorf("tool '%s' not found", call.ToolName)
	}

	// If tool implements ContextualTool, set context
	if contextualTool, ok := tool.(ContextualTool); ok && call.Channel != "" && call.ChatID != "" {
		contextualTool.SetContext(call.Channel, call.ChatID)
	}

	start := time.Now()
	result, err := tool.Execute(ctx, call.Args)
	duration := time.Since(start)

	if err != nil {
		logger.ErrorCF("tool", "Tool execution failed",
			map[string]interface{}{
				"tool":     call.ToolName,
				"duration": duration.Milliseconds(),
				"error":    err.Error(),
			})
	} else {
		logger.InfoCF("tool", "Tool execution completed",
			map[string]interface{}{
				"tool":          call.ToolName,
				"duration_ms":   duration.Milliseconds(),
				"result_length": len(result),
			})
	}

	return result, err
}

// sortedToolNames returns tool names in sorted order for deterministic iteration.
// This is critical for KV cache stability: non-deterministic map iteration would
// produce different system prompts and tool definitions on each call, invalidating
// the LLM's prefix cache even when no tools have changed.
func (r *ToolRegistry) sortedToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ToolRegistry) GetDefinitions() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	definitions := make([]map[string]any, 0, len(sorted))
	for _, name := range sorted {
		definitions = append(definitions, ToolToSchema(r.tools[name]))
	}
	return definitions
}

// List returns a list of all registered tool names.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedToolNames()
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// GetSummaries returns human-readable summaries of all registered tools.
// Returns a slice of "name - description" strings.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedToolNames()
	summaries := make([]string, 0, len(sorted))
	for _, name := range sorted {
		tool := r.tools[name]
		summaries = append(summaries, fmt.Sprintf("- `%s` - %s", tool.Name(), tool.Description()))
	}
	return summaries
}
