package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

type MemoryStoreTool struct {
	backend memory.Backend
	owner   string
	mu      sync.Mutex
}

func NewMemoryStoreTool(backend memory.Backend) *MemoryStoreTool {
	return &MemoryStoreTool{backend: backend}
}

func (t *MemoryStoreTool) SetOwner(owner string) {
	t.mu.Lock()
	t.owner = owner
	t.mu.Unlock()
}

func (t *MemoryStoreTool) Name() string {
	return "memory_store"
}

func (t *MemoryStoreTool) Description() string {
	return `Store a memory entry with a unique key. Categories control retention
and which memory layer the fact lives in:
- "core": identity layer, permanent, never auto-deleted (default)
- "daily": episodic layer, expires after 30 days
- "conversation": working layer, expires after 7 days
- "custom": semantic layer, expires after 90 days
If the key already exists, the content is recorded as an update and replaces
the prior belief for that key (the old value stays in the event ledger).

Optionally link this memory to an entity graph: set "entity" to the subject of
this memory (e.g. "Alice") and "related_to" to other entities it connects to
(e.g. ["project-zeus", "Bob"]) with a "relation" label (e.g. "works_on"). This
lets memory_graph answer relationship questions later.`
}

func (t *MemoryStoreTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Unique key for this memory (e.g. 'user_birthday', 'project_deadline')",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The content to remember",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "Memory category: core (permanent), daily (30d), conversation (7d), custom (90d). Default: core",
				"enum":        []string{"core", "daily", "conversation", "custom"},
			},
			"entity": map[string]interface{}{
				"type":        "string",
				"description": "Optional: the subject entity this memory is about (e.g. 'Alice', 'project-zeus'). Defaults to the calling user.",
			},
			"relation": map[string]interface{}{
				"type":        "string",
				"description": "Optional: relation label connecting 'entity' to each name in 'related_to' (e.g. 'works_on', 'knows'). Default: 'related_to'",
			},
			"related_to": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional: other entity names that 'entity' connects to via 'relation'",
			},
		},
		"required": []string{"key", "content"},
	}
}

// categoryToLayer maps the tool-facing category onto the belief slot's
// memory layer and retention floor.
func categoryToLayer(category string) (memory.Layer, *time.Time) {
	now := time.Now().UTC()
	switch category {
	case "daily":
		t := now.AddDate(0, 0, 30)
		return memory.LayerEpisodic, &t
	case "conversation":
		t := now.AddDate(0, 0, 7)
		return memory.LayerWorking, &t
	case "custom":
		t := now.AddDate(0, 0, 90)
		return memory.LayerSemantic, &t
	default:
		return memory.LayerIdentity, nil
	}
}

func (t *MemoryStoreTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return "Error: 'key' parameter is required.", nil
	}

	content, _ := args["content"].(string)
	if content == "" {
		return "Error: 'content' parameter is required.", nil
	}

	category := "core"
	if c, ok := args["category"].(string); ok && c != "" {
		category = c
	}

	t.mu.Lock()
	owner := t.owner
	t.mu.Unlock()

	explicitEntity, _ := args["entity"].(string)
	entityID := resolveMemoryEntity(explicitEntity, owner)
	layer, expires := categoryToLayer(category)

	source := memory.SourceExplicitUser
	if owner == "" {
		source = memory.SourceSystem
	}

	if _, err := t.backend.AppendEvent(memory.EventInput{
		EntityID:           entityID,
		SlotKey:            noteSlot(key),
		Kind:               memory.EventFactAdded,
		Value:              content,
		Source:             source,
		Confidence:         0.9,
		Importance:         0.5,
		Layer:              layer,
		Privacy:            memory.PrivacyPrivate,
		SignalTier:         memory.TierPromoted,
		SourceOrigin:       memory.OriginManual,
		RetentionExpiresAt: expires,
	}); err != nil {
		return fmt.Sprintf("Error storing memory: %v", err), nil
	}

	linked := t.linkEntities(key, entityID, args)

	if linked > 0 {
		return fmt.Sprintf("Memory stored: key=%q, category=%s (%d entity link(s))", key, category, linked), nil
	}
	return fmt.Sprintf("Memory stored: key=%q, category=%s", key, category), nil
}

// linkEntities records the entity-graph edge attached to this memory as a
// "relation.<key>" slot under the subject entity, so memory_graph's BFS can
// discover it and memory_forget can retire it alongside the note. Graph
// linking is best-effort: failures here don't fail the store.
func (t *MemoryStoreTool) linkEntities(key, entityID string, args map[string]interface{}) int {
	relation, _ := args["relation"].(string)
	if relation == "" {
		relation = "related_to"
	}

	rawRelated, _ := args["related_to"].([]interface{})
	if len(rawRelated) == 0 {
		return 0
	}

	var targets []string
	for _, r := range rawRelated {
		target, _ := r.(string)
		target = strings.TrimSpace(target)
		if target != "" {
			targets = append(targets, strings.ToLower(target))
		}
	}
	if len(targets) == 0 {
		return 0
	}

	value := relation + "|" + strings.Join(targets, ",")
	if _, err := t.backend.AppendEvent(memory.EventInput{
		EntityID:     entityID,
		SlotKey:      relationSlot(key),
		Kind:         memory.EventFactAdded,
		Value:        value,
		Source:       memory.SourceExplicitUser,
		Confidence:   0.9,
		Importance:   0.4,
		Layer:        memory.LayerSemantic,
		Privacy:      memory.PrivacyPrivate,
		SignalTier:   memory.TierPromoted,
		SourceOrigin: memory.OriginManual,
	}); err != nil {
		return 0
	}
	return len(targets)
}
