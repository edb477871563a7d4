package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

type MemoryForgetTool struct {
	backend memory.Backend
	owner   string
	mu      sync.Mutex
}

func NewMemoryForgetTool(backend memory.Backend) *MemoryForgetTool {
	return &MemoryForgetTool{backend: backend}
}

func (t *MemoryForgetTool) SetOwner(owner string) {
	t.mu.Lock()
	t.owner = owner
	t.mu.Unlock()
}

func (t *MemoryForgetTool) Name() string {
	return "memory_forget"
}

func (t *MemoryForgetTool) Description() string {
	return `Delete a memory entry by its key. By default deletes your own entry for that key. Set shared=true to delete the shared entry instead. You can only delete your own or shared memories.`
}

func (t *MemoryForgetTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "The key of the memory entry to delete",
			},
			"shared": map[string]interface{}{
				"type":        "boolean",
				"description": "Set to true to delete the shared entry instead of the current user's entry. Default: false.",
			},
			"mode": map[string]interface{}{
				"type":        "string",
				"description": "Forget strength: soft (hidden, recoverable), hard (erased from retrieval), tombstone (also refuses future writes to the key). Default: soft.",
				"enum":        []string{"soft", "hard", "tombstone"},
			},
		},
		"required": []string{"key"},
	}
}

func (t *MemoryForgetTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return "Error: 'key' parameter is required.", nil
	}

	t.mu.Lock()
	owner := t.owner
	t.mu.Unlock()

	targetEntity := resolveMemoryEntity("", owner)
	if shared, ok := args["shared"].(bool); ok && shared {
		targetEntity = sharedMemoryEntity
	}

	mode := memory.ForgetSoft
	switch m, _ := args["mode"].(string); m {
	case "hard":
		mode = memory.ForgetHard
	case "tombstone":
		mode = memory.ForgetTombstone
	}

	outcome, err := t.backend.ForgetSlot(targetEntity, noteSlot(key), mode, "memory_forget tool call")
	if err != nil {
		return fmt.Sprintf("Error forgetting memory: %v", err), nil
	}
	if !outcome.Applied {
		return fmt.Sprintf("Memory not found: key=%q", key), nil
	}

	// Best-effort: drop the entity-graph edge this memory created so stale
	// relations don't linger once their source note is gone.
	_, _ = t.backend.ForgetSlot(targetEntity, relationSlot(key), mode, "parent note forgotten")

	if targetEntity == sharedMemoryEntity {
		return fmt.Sprintf("Shared memory deleted: key=%q", key), nil
	}
	return fmt.Sprintf("Memory deleted: key=%q (owner=%s)", key, owner), nil
}
