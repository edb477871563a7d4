package tools

import (
	"context"
	"strings"
	"testing"
)

func TestMemorySearchTool_RequiresQuery(t *testing.T) {
	tool := NewMemorySearchTool(openTestMemoryDB(t))

	got, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "'query' parameter is required") {
		t.Errorf("expected missing-query error, got %q", got)
	}
}

func TestMemorySearchTool_FindsStoredContent(t *testing.T) {
	db := openTestMemoryDB(t)
	store := NewMemoryStoreTool(db)
	store.SetOwner("alice")

	if _, err := store.Execute(context.Background(), map[string]interface{}{
		"key":     "favorite_color",
		"content": "alice's favorite color is teal",
	}); err != nil {
		t.Fatal(err)
	}

	search := NewMemorySearchTool(db)
	search.SetOwner("alice")

	got, err := search.Execute(context.Background(), map[string]interface{}{"query": "favorite color"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "teal") {
		t.Errorf("expected recall to surface stored content, got %q", got)
	}
}

func TestMemorySearchTool_NoMatchesReportsClearly(t *testing.T) {
	tool := NewMemorySearchTool(openTestMemoryDB(t))
	tool.SetOwner("bob")

	got, err := tool.Execute(context.Background(), map[string]interface{}{"query": "nonexistent topic"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "No matching results") {
		t.Errorf("expected no-match message, got %q", got)
	}
}

func TestMemorySearchTool_NilBackendReturnsError(t *testing.T) {
	tool := NewMemorySearchTool(nil)

	got, err := tool.Execute(context.Background(), map[string]interface{}{"query": "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "memory is not configured") {
		t.Errorf("expected nil-backend error, got %q", got)
	}
}
