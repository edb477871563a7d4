package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

// MemoryGraphTool lets an agent explore entity relationships recorded by
// MemoryStoreTool's optional entity/related_to linking. Relations are stored
// as "relation.<key>" belief slots under the subject entity; this tool walks
// them via repeated RecallScoped calls instead of a separate graph schema.
type MemoryGraphTool struct {
	backend memory.Backend
}

func NewMemoryGraphTool(backend memory.Backend) *MemoryGraphTool {
	return &MemoryGraphTool{backend: backend}
}

func (t *MemoryGraphTool) Name() string {
	return "memory_graph"
}

func (t *MemoryGraphTool) Description() string {
	return `Explore the entity relationship graph built from memories stored with
entity/related_to links. Pass one or more entity names to walk outward from
them (up to max_hops).`
}

func (t *MemoryGraphTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"entities": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Entity names to start the walk from.",
			},
			"max_hops": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum relation hops to traverse from the starting entities. Default: 2",
			},
		},
		"required": []string{"entities"},
	}
}

// relationEdge is one "relation.<key>" slot decoded into label + targets.
type relationEdge struct {
	label   string
	targets []string
}

func decodeRelationValue(value string) relationEdge {
	label, rest, ok := strings.Cut(value, "|")
	if !ok {
		return relationEdge{label: "related_to", targets: strings.Split(value, ",")}
	}
	return relationEdge{label: label, targets: strings.Split(rest, ",")}
}

// outgoingEdges fetches every relation.* slot recorded under entityID.
func (t *MemoryGraphTool) outgoingEdges(entityID string) ([]relationEdge, error) {
	items, err := t.backend.RecallScoped(memory.RecallQuery{EntityID: entityID, Limit: 100})
	if err != nil {
		return nil, err
	}
	var edges []relationEdge
	for _, item := range items {
		if !strings.HasPrefix(item.Unit.SlotKey, "relation.") {
			continue
		}
		edges = append(edges, decodeRelationValue(item.Unit.Content))
	}
	return edges, nil
}

func (t *MemoryGraphTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	rawEntities, _ := args["entities"].([]interface{})
	var seeds []string
	for _, e := range rawEntities {
		if name, ok := e.(string); ok && strings.TrimSpace(name) != "" {
			seeds = append(seeds, strings.ToLower(strings.TrimSpace(name)))
		}
	}
	if len(seeds) == 0 {
		return "Error: 'entities' must contain at least one non-empty name.", nil
	}

	maxHops := 2
	if h, ok := args["max_hops"].(float64); ok && h > 0 {
		maxHops = int(h)
	}

	type visit struct {
		entity string
		depth  int
	}

	visited := map[string]bool{}
	queue := make([]visit, 0, len(seeds))
	for _, s := range seeds {
		queue = append(queue, visit{entity: s, depth: 0})
	}

	var b strings.Builder
	found := false
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.entity] {
			continue
		}
		visited[cur.entity] = true

		if cur.depth >= maxHops {
			continue
		}

		edges, err := t.outgoingEdges(cur.entity)
		if err != nil {
			return fmt.Sprintf("Error walking graph: %v", err), nil
		}
		if len(edges) == 0 {
			continue
		}

		found = true
		fmt.Fprintf(&b, "%s", cur.entity)
		var rels []string
		for _, e := range edges {
			for _, target := range e.targets {
				target = strings.TrimSpace(target)
				if target == "" {
					continue
				}
				rels = append(rels, fmt.Sprintf("%s -> %s", e.label, target))
				if !visited[target] {
					queue = append(queue, visit{entity: target, depth: cur.depth + 1})
				}
			}
		}
		fmt.Fprintf(&b, " [%s]\n", strings.Join(rels, "; "))
	}

	if !found {
		return fmt.Sprintf("No matching entities found for: %s", strings.Join(seeds, ", ")), nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
