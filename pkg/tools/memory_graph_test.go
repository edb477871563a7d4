package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

// seedRelation appends a relation.<key> slot directly, bypassing the store
// tool's note-slot bookkeeping, to set up graph fixtures.
func seedRelation(t *testing.T, db *memory.MemoryDB, entity, label, key string, targets ...string) {
	t.Helper()
	value := label + "|" + strings.Join(targets, ",")
	_, err := db.AppendEvent(memory.EventInput{
		EntityID:     entity,
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
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryGraphTool_RequiresEntities(t *testing.T) {
	tool := NewMemoryGraphTool(openTestMemoryDB(t))

	got, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "at least one non-empty name") {
		t.Errorf("expected validation error, got %q", got)
	}
}

func TestMemoryGraphTool_WalksFromEntity(t *testing.T) {
	db := openTestMemoryDB(t)
	seedRelation(t, db, "alice", "works_on", "m1", "picoclaw")
	tool := NewMemoryGraphTool(db)

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"entities": []interface{}{"alice"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "alice") {
		t.Errorf("expected alice in output, got %q", got)
	}
	if !strings.Contains(got, "picoclaw") {
		t.Errorf("expected picoclaw reachable in output, got %q", got)
	}
	if !strings.Contains(got, "works_on -> picoclaw") {
		t.Errorf("expected relation label in output, got %q", got)
	}
}

func TestMemoryGraphTool_UnknownEntity(t *testing.T) {
	tool := NewMemoryGraphTool(openTestMemoryDB(t))

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"entities": []interface{}{"ghost"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "No matching entities found") {
		t.Errorf("expected no-match message, got %q", got)
	}
}

func TestMemoryGraphTool_RejectsEmptyEntitiesList(t *testing.T) {
	tool := NewMemoryGraphTool(openTestMemoryDB(t))

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"entities": []interface{}{""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "at least one non-empty name") {
		t.Errorf("expected validation error, got %q", got)
	}
}

func TestMemoryGraphTool_RespectsMaxHops(t *testing.T) {
	db := openTestMemoryDB(t)
	seedRelation(t, db, "a", "knows", "m1", "b")
	seedRelation(t, db, "b", "knows", "m2", "c")
	tool := NewMemoryGraphTool(db)

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"entities": []interface{}{"a"},
		"max_hops": float64(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "knows -> c") {
		t.Errorf("expected c unreachable at max_hops=1, got %q", got)
	}
}
