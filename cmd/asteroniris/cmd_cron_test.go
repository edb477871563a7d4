// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/config"
)

func setupCLIWorkspace(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	withConfigPath(t, filepath.Join(tmpDir, "config.toml"))

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = filepath.Join(tmpDir, "workspace")
	if err := config.SaveConfig(configPath, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return tmpDir
}

func TestCronAddListRemove(t *testing.T) {
	setupCLIWorkspace(t)

	oldName, oldExpr, oldPayload := cronName, cronExpr, cronPayload
	oldEveryMs, oldAtMs := cronEveryMs, cronAtMs
	defer func() {
		cronName, cronExpr, cronPayload = oldName, oldExpr, oldPayload
		cronEveryMs, cronAtMs = oldEveryMs, oldAtMs
	}()

	cronName = "nightly-digest"
	cronExpr = "0 9 * * *"
	cronEveryMs = 0
	cronAtMs = 0
	cronPayload = "echo hello"

	var addOut bytes.Buffer
	cronAddCmd.SetOut(&addOut)
	if err := runCronAdd(cronAddCmd, nil); err != nil {
		t.Fatalf("runCronAdd: %v", err)
	}
	if !strings.Contains(addOut.String(), "added job") {
		t.Errorf("unexpected output: %q", addOut.String())
	}

	var listOut bytes.Buffer
	cronListCmd.SetOut(&listOut)
	if err := runCronList(cronListCmd, nil); err != nil {
		t.Fatalf("runCronList: %v", err)
	}
	if !strings.Contains(listOut.String(), "kind=user") {
		t.Errorf("expected job in list output, got %q", listOut.String())
	}

	sched, err := openSchedulerStore()
	if err != nil {
		t.Fatalf("openSchedulerStore: %v", err)
	}
	jobs := sched.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	jobID := jobs[0].ID

	var removeOut bytes.Buffer
	cronRemoveCmd.SetOut(&removeOut)
	if err := runCronRemove(cronRemoveCmd, []string{jobID}); err != nil {
		t.Fatalf("runCronRemove: %v", err)
	}

	sched2, err := openSchedulerStore()
	if err != nil {
		t.Fatalf("openSchedulerStore after remove: %v", err)
	}
	if len(sched2.ListJobs()) != 0 {
		t.Error("expected job store to be empty after removal")
	}
}

func TestCronAdd_RequiresSchedule(t *testing.T) {
	setupCLIWorkspace(t)

	oldExpr, oldEveryMs, oldAtMs, oldPayload := cronExpr, cronEveryMs, cronAtMs, cronPayload
	defer func() {
		cronExpr, cronEveryMs, cronAtMs, cronPayload = oldExpr, oldEveryMs, oldAtMs, oldPayload
	}()
	cronExpr, cronEveryMs, cronAtMs = "", 0, 0
	cronPayload = "echo hi"

	if err := runCronAdd(cronAddCmd, nil); err == nil {
		t.Fatal("expected error when no schedule is given")
	}
}

func TestCronRemove_UnknownID(t *testing.T) {
	setupCLIWorkspace(t)

	if err := runCronRemove(cronRemoveCmd, []string{"does-not-exist"}); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}
