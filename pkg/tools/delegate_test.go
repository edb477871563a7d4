package tools

import (
	"context"
	"strings"
	"testing"
)

type fakeDelegateRunner struct {
	calls int
}

func (f *fakeDelegateRunner) RunDelegate(ctx context.Context, agentID, task, channel, chatID string) (string, error) {
	f.calls++
	return "ok", nil
}

func (f *fakeDelegateRunner) RunDelegateAsync(ctx context.Context, agentID, task, label, channel, chatID string) (string, error) {
	f.calls++
	return "queued", nil
}

func (f *fakeDelegateRunner) ListAgents() []AgentInfo {
	return []AgentInfo{{ID: "helper", Name: "Helper", Description: "helps"}}
}

func TestDelegateTool_RejectsUnknownAgent(t *testing.T) {
	runner := &fakeDelegateRunner{}
	tool := NewDelegateTool(runner, []string{"helper"})

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"agent_id": "stranger",
		"task":     "do something",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "not in the allowed agents list") {
		t.Errorf("expected allowlist rejection, got %q", got)
	}
	if runner.calls != 0 {
		t.Error("runner should not have been invoked for a disallowed agent")
	}
}

func TestDelegateTool_RefusesBeyondMaxDepth(t *testing.T) {
	runner := &fakeDelegateRunner{}
	tool := NewDelegateTool(runner, []string{"helper"})

	ctx := withDelegateDepth(context.Background(), maxDelegateDepth)
	_, err := tool.Execute(ctx, map[string]interface{}{
		"agent_id": "helper",
		"task":     "do something",
	})
	if err == nil {
		t.Fatal("expected an error when the delegate chain is already at max depth")
	}
	if runner.calls != 0 {
		t.Error("runner should not have been invoked past the depth limit")
	}
}

func TestDelegateTool_SyncModeInvokesRunner(t *testing.T) {
	runner := &fakeDelegateRunner{}
	tool := NewDelegateTool(runner, []string{"helper"})

	got, err := tool.Execute(context.Background(), map[string]interface{}{
		"agent_id": "helper",
		"task":     "do something",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("expected runner result 'ok', got %q", got)
	}
	if runner.calls != 1 {
		t.Errorf("expected exactly one runner call, got %d", runner.calls)
	}
}
