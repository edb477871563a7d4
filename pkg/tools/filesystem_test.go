package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileTool_RejectsSecretKeyFile(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool(dir)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    filepath.Join(dir, ".secret_key"),
		"content": "attacker-controlled",
	})
	if err == nil {
		t.Fatal("expected write to .secret_key to be rejected")
	}
}

func TestWriteFileTool_RejectsPersonaMirror(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool(dir)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    filepath.Join(dir, "persona.json"),
		"content": "{}",
	})
	if err == nil {
		t.Fatal("expected write to persona.json to be rejected")
	}
}

func TestWriteFileTool_AllowsOrdinaryFile(t *testing.T) {
	dir := t.TempDir()
	tool := NewWriteFileTool(dir)

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    filepath.Join(dir, "notes.txt"),
		"content": "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("expected file content 'hello', got %q", data)
	}
}

func TestReadFileTool_RejectsPathOutsideAllowedDir(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadFileTool(dir)

	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": "/etc/passwd"})
	if err == nil {
		t.Fatal("expected rejection of a path outside the allowed directory")
	}
}
