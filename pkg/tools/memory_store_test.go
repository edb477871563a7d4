package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

func openTestMemoryDB(t *testing.T) *memory.MemoryDB {
	t.Helper()
	db, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// recallContent fetches the current value of a belief slot, or "" if absent.
func recallContent(t *testing.T, db *memory.MemoryDB, entityID, slotKey string) string {
	t.Helper()
	items, err := db.RecallScoped(memory.RecallQuery{EntityID: entityID, Slot: slotKey, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) == 0 {
		return ""
	}
	return items[0].Unit.Content
}

func TestMemoryStoreTool_RequiresKeyAndContent(t *testing.T) {
	tool := NewMemoryStoreTool(openTestMemoryDB(t))

	got, err := tool.Execute(context.Background(), map[string]interface{}{"content": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "'key' parameter is required") {
		t.Errorf("expected missing-key error, got %q", got)
	}

	got, err = tool.Execute(context.Background(), map[string]interface{}{"key": "k"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "'content' parameter is required") {
		t.Errorf("expected missing-content error, got %q", got)
	}
}

func TestMemoryStoreTool_StoresEntry(t *testing.T) {
	db := openTestMemoryDB(t)
	tool := NewMemoryStoreTool(db)
	tool.SetOwner("alice")

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"key":     "favorite_color",
		"content": "blue",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `key="favorite_color"`) {
		t.Errorf("expected confirmation, got %q", got)
	}

	if content := recallContent(t, db, "alice", noteSlot("favorite_color")); content != "blue" {
		t.Errorf("expected content 'blue', got %q", content)
	}
}

func TestMemoryStoreTool_DefaultCategoryIsIdentityLayer(t *testing.T) {
	db := openTestMemoryDB(t)
	tool := NewMemoryStoreTool(db)

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"key":     "k1",
		"content": "v1",
	}); err != nil {
		t.Fatal(err)
	}

	belief, err := db.ResolveSlot(sharedMemoryEntity, noteSlot("k1"))
	if err != nil {
		t.Fatal(err)
	}
	if belief == nil {
		t.Fatal("expected belief slot to exist")
	}
}

func TestMemoryStoreTool_LinksEntityGraph(t *testing.T) {
	db := openTestMemoryDB(t)
	tool := NewMemoryStoreTool(db)

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"key":        "alice_project",
		"content":    "Alice is working on project zeus",
		"entity":     "alice",
		"relation":   "works_on",
		"related_to": []interface{}{"project-zeus"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "1 entity link") {
		t.Errorf("expected link count in response, got %q", got)
	}

	content := recallContent(t, db, "alice", relationSlot("alice_project"))
	if !strings.Contains(content, "project-zeus") {
		t.Errorf("expected relation edge to project-zeus, got %q", content)
	}
}

func TestMemoryStoreTool_NoEntityMeansSharedSubject(t *testing.T) {
	db := openTestMemoryDB(t)
	tool := NewMemoryStoreTool(db)

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"key":     "plain_fact",
		"content": "no entities here",
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "entity link") {
		t.Errorf("expected no entity link mention, got %q", got)
	}

	content := recallContent(t, db, sharedMemoryEntity, relationSlot("plain_fact"))
	if content != "" {
		t.Errorf("expected no relation slot created, got %q", content)
	}
}

func TestMemoryStoreTool_UpdatesExistingKey(t *testing.T) {
	db := openTestMemoryDB(t)
	tool := NewMemoryStoreTool(db)

	ctx := context.Background()
	if _, err := tool.Execute(ctx, map[string]interface{}{"key": "k", "content": "first"}); err != nil {
		t.Fatal(err)
	}
	if _, err := tool.Execute(ctx, map[string]interface{}{"key": "k", "content": "second"}); err != nil {
		t.Fatal(err)
	}

	if content := recallContent(t, db, sharedMemoryEntity, noteSlot("k")); content != "second" {
		t.Errorf("expected updated content 'second', got %q", content)
	}
}
