package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

// MemorySearchTool answers recall queries against the configured memory
// Backend (SQLite+FTS5+vector by default, Postgres+pgvector, the markdown
// ledger, or a no-op store) rather than scanning files itself, so it tracks
// whichever backend is configured instead of assuming a markdown layout.
type MemorySearchTool struct {
	backend memory.Backend
	owner   string
	mu      sync.Mutex
}

func NewMemorySearchTool(backend memory.Backend) *MemorySearchTool {
	return &MemorySearchTool{backend: backend}
}

func (t *MemorySearchTool) SetOwner(owner string) {
	t.mu.Lock()
	t.owner = owner
	t.mu.Unlock()
}

func (t *MemorySearchTool) Name() string {
	return "memory_search"
}

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory using keyword and vector ranking. Use this to recall past facts, decisions, or events stored with memory_store."
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query to find in memory",
			},
			"entity": map[string]interface{}{
				"type":        "string",
				"description": "Restrict the search to this entity's memories (defaults to the calling owner)",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum number of results to return (default 10)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if t.backend == nil {
		return "Error: memory is not configured.", nil
	}

	query, _ := args["query"].(string)
	if query == "" {
		return "Error: 'query' parameter is required.", nil
	}

	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	t.mu.Lock()
	owner := t.owner
	t.mu.Unlock()

	explicitEntity, _ := args["entity"].(string)
	entityID := resolveMemoryEntity(explicitEntity, owner)

	items, err := t.backend.RecallPhased(memory.RecallQuery{
		EntityID: entityID,
		Keywords: query,
		Limit:    limit,
	})
	if err != nil {
		return "", fmt.Errorf("memory search failed: %w", err)
	}
	if len(items) == 0 {
		return "No matching results found.", nil
	}

	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(fmt.Sprintf("[%s] %s", it.Unit.SlotKey, it.Unit.Content))
	}
	return b.String(), nil
}
