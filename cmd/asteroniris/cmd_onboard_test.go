// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func withConfigPath(t *testing.T, path string) {
	t.Helper()
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })
}

func TestRunOnboard_WritesConfigAndWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	withConfigPath(t, filepath.Join(tmpDir, "config.toml"))

	var buf bytes.Buffer
	onboardCmd.SetOut(&buf)
	if err := runOnboard(onboardCmd, nil); err != nil {
		t.Fatalf("runOnboard: %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config not written: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.WorkspacePath(), "state")); err != nil {
		t.Errorf("workspace state dir not created: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected output")
	}
}

func TestRunOnboard_SecondRunLeavesExistingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	withConfigPath(t, filepath.Join(tmpDir, "config.toml"))

	var buf bytes.Buffer
	onboardCmd.SetOut(&buf)
	if err := runOnboard(onboardCmd, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	buf.Reset()
	if err := runOnboard(onboardCmd, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	after, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("expected second onboard run to leave config unchanged")
	}
}
