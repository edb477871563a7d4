package planner

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// scriptedRunner resolves step IDs to a scripted outcome; any step id not
// present in fail succeeds and echoes its own id as output.
type scriptedRunner struct {
	mu   sync.Mutex
	fail map[string]int // step id -> number of times to fail before succeeding
}

func (r *scriptedRunner) RunStep(ctx context.Context, step *Step) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if remaining, ok := r.fail[step.ID]; ok && remaining > 0 {
		r.fail[step.ID] = remaining - 1
		return "", fmt.Errorf("scripted failure for %s", step.ID)
	}
	return step.ID + "-ok", nil
}

func mustParse(t *testing.T, raw string) *Plan {
	t.Helper()
	plan, err := NewParser().Parse([]byte(raw), "user:alice")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return plan
}

// TestExecutor_IndependentBranchSurvivesSiblingFailure covers the spec
// scenario: A->B, A->C; B fails, C succeeds. Expected: A completed,
// B failed, C completed, and nothing marked Skipped because neither B
// nor C depends on the other.
func TestExecutor_IndependentBranchSurvivesSiblingFailure(t *testing.T) {
	plan := mustParse(t, `{
		"description": "fan-out",
		"steps": [
			{"id": "a", "action": "checkpoint"},
			{"id": "b", "action": "checkpoint", "depends_on": ["a"]},
			{"id": "c", "action": "checkpoint", "depends_on": ["a"]}
		]
	}`)

	runner := &scriptedRunner{fail: map[string]int{"b": 999}}
	exec := NewExecutor(nil)
	report, err := exec.Execute(context.Background(), plan, runner)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	statuses := make(map[string]StepStatus, len(plan.Steps))
	for _, s := range plan.Steps {
		statuses[s.ID] = s.Status
	}
	if statuses["a"] != StepCompleted {
		t.Errorf("a: got %s, want completed", statuses["a"])
	}
	if statuses["b"] != StepFailed {
		t.Errorf("b: got %s, want failed", statuses["b"])
	}
	if statuses["c"] != StepCompleted {
		t.Errorf("c: got %s, want completed", statuses["c"])
	}
	if report.Skipped != 0 {
		t.Errorf("skipped: got %d, want 0", report.Skipped)
	}
	if report.Status != "failed" {
		t.Errorf("plan status: got %s, want failed", report.Status)
	}
}

// TestExecutor_PropagatesSkipToDownstreamDependents covers a linear chain
// where a mid-chain failure should skip everything after it but leave an
// unrelated sibling branch untouched.
func TestExecutor_PropagatesSkipToDownstreamDependents(t *testing.T) {
	plan := mustParse(t, `{
		"description": "chain-plus-sibling",
		"steps": [
			{"id": "a", "action": "checkpoint"},
			{"id": "b", "action": "checkpoint", "depends_on": ["a"]},
			{"id": "c", "action": "checkpoint", "depends_on": ["b"]},
			{"id": "sibling", "action": "checkpoint"}
		]
	}`)

	runner := &scriptedRunner{fail: map[string]int{"b": 999}}
	exec := NewExecutor(nil)
	report, err := exec.Execute(context.Background(), plan, runner)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	statuses := make(map[string]StepStatus, len(plan.Steps))
	for _, s := range plan.Steps {
		statuses[s.ID] = s.Status
	}
	if statuses["c"] != StepSkipped {
		t.Errorf("c: got %s, want skipped", statuses["c"])
	}
	if statuses["sibling"] != StepCompleted {
		t.Errorf("sibling: got %s, want completed", statuses["sibling"])
	}
	if report.Skipped != 1 {
		t.Errorf("skipped count: got %d, want 1", report.Skipped)
	}
}

// TestExecutor_RetriesWithinMaxAttempts verifies a step that fails once but
// succeeds on its second attempt completes rather than failing, as long as
// max_attempts allows it.
func TestExecutor_RetriesWithinMaxAttempts(t *testing.T) {
	plan := mustParse(t, `{
		"description": "flaky",
		"steps": [{"id": "a", "action": "checkpoint", "max_attempts": 3}]
	}`)

	runner := &scriptedRunner{fail: map[string]int{"a": 2}}
	exec := NewExecutor(nil)
	report, err := exec.Execute(context.Background(), plan, runner)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Status != "completed" {
		t.Errorf("plan status: got %s, want completed", report.Status)
	}
	if plan.Steps[0].Attempts != 3 {
		t.Errorf("attempts: got %d, want 3", plan.Steps[0].Attempts)
	}
}

func TestReconcileRunning_RequeuesStalePlans(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	plan := mustParse(t, `{"description":"stale","steps":[{"id":"a","action":"checkpoint"}]}`)
	plan.Status = "running"
	if err := store.Save(plan); err != nil {
		t.Fatalf("Save: %v", err)
	}

	requeued, err := ReconcileRunning(store)
	if err != nil {
		t.Fatalf("ReconcileRunning: %v", err)
	}
	if len(requeued) != 1 {
		t.Fatalf("requeued: got %d, want 1", len(requeued))
	}
	if requeued[0].Status != "requeued" {
		t.Errorf("status: got %s, want requeued", requeued[0].Status)
	}

	reloaded, err := store.Load(plan.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Status != "requeued" {
		t.Errorf("persisted status: got %s, want requeued", reloaded.Status)
	}
}
