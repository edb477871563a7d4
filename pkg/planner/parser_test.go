package planner

import "testing"

func TestParser_RejectsEmptySteps(t *testing.T) {
	p := NewParser()
	_, err := p.Parse([]byte(`{"description":"noop","steps":[]}`), "user:alice")
	if err == nil {
		t.Fatal("expected error for empty steps")
	}
}

func TestParser_NormalizesZeroMaxAttempts(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse([]byte(`{
		"description": "one step",
		"steps": [{"id": "a", "action": "checkpoint"}]
	}`), "user:alice")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if plan.Steps[0].MaxAttempts != 1 {
		t.Errorf("max_attempts: got %d, want 1", plan.Steps[0].MaxAttempts)
	}
}

func TestParser_RejectsDuplicateIDs(t *testing.T) {
	p := NewParser()
	_, err := p.Parse([]byte(`{
		"description": "dup",
		"steps": [
			{"id": "a", "action": "checkpoint"},
			{"id": "a", "action": "checkpoint"}
		]
	}`), "user:alice")
	if err == nil {
		t.Fatal("expected error for duplicate step id")
	}
}

func TestParser_RejectsUnresolvedDependency(t *testing.T) {
	p := NewParser()
	_, err := p.Parse([]byte(`{
		"description": "dangling",
		"steps": [{"id": "a", "action": "checkpoint", "depends_on": ["ghost"]}]
	}`), "user:alice")
	if err == nil {
		t.Fatal("expected error for unresolved depends_on")
	}
}

func TestParser_RejectsCycle(t *testing.T) {
	p := NewParser()
	_, err := p.Parse([]byte(`{
		"description": "cycle",
		"steps": [
			{"id": "a", "action": "checkpoint", "depends_on": ["b"]},
			{"id": "b", "action": "checkpoint", "depends_on": ["a"]}
		]
	}`), "user:alice")
	if err == nil {
		t.Fatal("expected error for cyclic DAG")
	}
}

func TestParser_AcceptsValidDiamond(t *testing.T) {
	p := NewParser()
	plan, err := p.Parse([]byte(`{
		"description": "diamond",
		"steps": [
			{"id": "a", "action": "checkpoint"},
			{"id": "b", "action": "checkpoint", "depends_on": ["a"]},
			{"id": "c", "action": "checkpoint", "depends_on": ["a"]},
			{"id": "d", "action": "checkpoint", "depends_on": ["b", "c"]}
		]
	}`), "user:alice")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(plan.Steps) != 4 {
		t.Fatalf("steps: got %d, want 4", len(plan.Steps))
	}
	if plan.Origin != "user:alice" {
		t.Errorf("origin: got %q", plan.Origin)
	}
}
