package tools

import (
	"context"
	"strings"
	"testing"
)

func TestMemoryForgetTool_RequiresKey(t *testing.T) {
	tool := NewMemoryForgetTool(openTestMemoryDB(t))

	got, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "'key' parameter is required") {
		t.Errorf("expected missing-key error, got %q", got)
	}
}

func TestMemoryForgetTool_DeletesOwnEntry(t *testing.T) {
	db := openTestMemoryDB(t)
	store := NewMemoryStoreTool(db)
	store.SetOwner("alice")
	forget := NewMemoryForgetTool(db)
	forget.SetOwner("alice")

	ctx := context.Background()
	if _, err := store.Execute(ctx, map[string]interface{}{"key": "k", "content": "v"}); err != nil {
		t.Fatal(err)
	}

	got, err := forget.Execute(ctx, map[string]interface{}{"key": "k"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `key="k"`) {
		t.Errorf("expected deletion confirmation, got %q", got)
	}
	if content := recallContent(t, db, "alice", noteSlot("k")); content != "" {
		t.Error("expected entry to be deleted")
	}
}

func TestMemoryForgetTool_NotFound(t *testing.T) {
	forget := NewMemoryForgetTool(openTestMemoryDB(t))

	got, err := forget.Execute(context.Background(), map[string]interface{}{"key": "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "not found") {
		t.Errorf("expected not-found message, got %q", got)
	}
}

func TestMemoryForgetTool_RemovesGraphRelations(t *testing.T) {
	db := openTestMemoryDB(t)
	store := NewMemoryStoreTool(db)
	forget := NewMemoryForgetTool(db)

	ctx := context.Background()
	if _, err := store.Execute(ctx, map[string]interface{}{
		"key":        "alice_project",
		"content":    "Alice works on zeus",
		"entity":     "alice",
		"related_to": []interface{}{"project-zeus"},
	}); err != nil {
		t.Fatal(err)
	}

	if content := recallContent(t, db, "alice", relationSlot("alice_project")); !strings.Contains(content, "project-zeus") {
		t.Fatalf("expected relation recorded before forgetting, got %q", content)
	}

	if _, err := forget.Execute(ctx, map[string]interface{}{"key": "alice_project"}); err != nil {
		t.Fatal(err)
	}

	if content := recallContent(t, db, "alice", relationSlot("alice_project")); content != "" {
		t.Error("expected project-zeus relation removed after forgetting the memory")
	}
}

func TestMemoryForgetTool_SharedFlag(t *testing.T) {
	db := openTestMemoryDB(t)
	store := NewMemoryStoreTool(db)
	forget := NewMemoryForgetTool(db)
	forget.SetOwner("alice")

	ctx := context.Background()
	if _, err := store.Execute(ctx, map[string]interface{}{"key": "shared_fact", "content": "v"}); err != nil {
		t.Fatal(err)
	}

	got, err := forget.Execute(ctx, map[string]interface{}{"key": "shared_fact", "shared": true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Shared memory deleted") {
		t.Errorf("expected shared-deletion message, got %q", got)
	}
}
