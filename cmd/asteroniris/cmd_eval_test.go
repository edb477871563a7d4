// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEvalCases(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "fixtures.jsonl")
	content := `# comment line, skipped
{"prompt": "what is 2+2", "contains": "4"}

{"prompt": "say hi", "contains": "hi"}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cases, err := loadEvalCases(path)
	if err != nil {
		t.Fatalf("loadEvalCases: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	if cases[0].Prompt != "what is 2+2" || cases[0].Contains != "4" {
		t.Errorf("unexpected first case: %+v", cases[0])
	}
}

func TestLoadEvalCases_MalformedLine(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "fixtures.jsonl")
	if err := os.WriteFile(path, []byte("not json\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := loadEvalCases(path); err == nil {
		t.Fatal("expected error for malformed fixture line")
	}
}

func TestLoadEvalCases_MissingFile(t *testing.T) {
	if _, err := loadEvalCases("/nonexistent/path/fixtures.jsonl"); err == nil {
		t.Fatal("expected error for missing fixture file")
	}
}

func TestRunEval_RequiresFile(t *testing.T) {
	old := evalFile
	evalFile = ""
	defer func() { evalFile = old }()

	if err := runEval(evalCmd, nil); err == nil {
		t.Fatal("expected error when --file is not set")
	}
}

func TestRunEval_RejectsEmptyFixtureFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "empty.jsonl")
	if err := os.WriteFile(path, []byte("# only a comment\n"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	old := evalFile
	evalFile = path
	defer func() { evalFile = old }()

	if err := runEval(evalCmd, nil); err == nil {
		t.Fatal("expected error for fixture file with no cases")
	}
}
