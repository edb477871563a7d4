// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/config"
)

func TestMaskKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"", "not set"},
		{"short", "set"},
		{"sk-abcdefghijklmnop", "sk-a...mnop"},
	}
	for _, c := range cases {
		if got := maskKey(c.key); got != c.want {
			t.Errorf("maskKey(%q) = %q, want %q", c.key, got, c.want)
		}
	}
}

func TestSetProviderAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()

	if err := setProviderAPIKey(cfg, "anthropic", "sk-test-1"); err != nil {
		t.Fatalf("setProviderAPIKey: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-1" {
		t.Errorf("anthropic key not set: %q", cfg.Providers.Anthropic.APIKey)
	}

	if err := setProviderAPIKey(cfg, "unknown-provider", "x"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestRunAuthLogin_PersistsKey(t *testing.T) {
	setupCLIWorkspace(t)

	authLoginCmd.SetIn(strings.NewReader("sk-persisted-key\n"))
	var out bytes.Buffer
	authLoginCmd.SetOut(&out)
	defer func() {
		authLoginCmd.SetIn(nil)
		authLoginCmd.SetOut(nil)
	}()

	if err := runAuthLogin(authLoginCmd, []string{"openai"}); err != nil {
		t.Fatalf("runAuthLogin: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-persisted-key" {
		t.Errorf("expected persisted key, got %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestRunAuthLogin_RejectsEmptyKey(t *testing.T) {
	setupCLIWorkspace(t)

	authLoginCmd.SetIn(strings.NewReader("\n"))
	var out bytes.Buffer
	authLoginCmd.SetOut(&out)
	defer func() {
		authLoginCmd.SetIn(nil)
		authLoginCmd.SetOut(nil)
	}()

	if err := runAuthLogin(authLoginCmd, []string{"openai"}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestRunAuthStatus(t *testing.T) {
	setupCLIWorkspace(t)

	var out bytes.Buffer
	authStatusCmd.SetOut(&out)
	if err := runAuthStatus(authStatusCmd, nil); err != nil {
		t.Fatalf("runAuthStatus: %v", err)
	}
	if !strings.Contains(out.String(), "Active provider:") {
		t.Errorf("unexpected output: %q", out.String())
	}
}
