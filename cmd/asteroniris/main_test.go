// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"user", errs.New(errs.KindUser, "bad flag"), exitUserError},
		{"policy", errs.New(errs.KindPolicy, "denied"), exitUserError},
		{"data", errs.New(errs.KindData, "bad config"), exitConfigInvalid},
		{"plain", errors.New("boom"), exitRuntimeError},
		{"transport", errs.New(errs.KindTransport, "timeout"), exitRuntimeError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitCodeFor(c.err); got != c.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := defaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".asteroniris", "config.toml")) {
		t.Errorf("defaultConfigPath() = %q, want suffix .asteroniris/config.toml", path)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	oldPath := configPath
	configPath = path
	defer func() { configPath = oldPath }()

	_, err := loadConfig()
	if err == nil {
		t.Fatal("expected error for malformed config")
	}
	if errs.KindOf(err) != errs.KindData {
		t.Errorf("expected KindData, got %v", errs.KindOf(err))
	}
}
