package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

func openTestBackend(t *testing.T) (memory.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := memory.Open(dir)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dir
}

func TestReconcile_SeedsMinimalWhenBothAbsent(t *testing.T) {
	backend, workspace := openTestBackend(t)
	store := Open(backend, workspace, "agent-1")

	st, err := store.Reconcile(State{
		SchemaVersion:          "v1",
		IdentityPrinciplesHash: "abc123",
		SafetyPosture:          "standard",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.SchemaVersion != "v1" {
		t.Errorf("schema version: got %q", st.SchemaVersion)
	}
	if _, err := os.Stat(filepath.Join(workspace, "persona.json")); err != nil {
		t.Errorf("expected mirror file written: %v", err)
	}
}

func TestReconcile_CanonicalWinsOverDivergentMirror(t *testing.T) {
	backend, workspace := openTestBackend(t)
	store := Open(backend, workspace, "agent-2")

	if _, err := store.Reconcile(State{SchemaVersion: "v1", SafetyPosture: "standard"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.ApplyObjective("ship the release"); err != nil {
		t.Fatalf("ApplyObjective: %v", err)
	}

	// Corrupt the mirror to simulate divergence.
	if err := os.WriteFile(filepath.Join(workspace, "persona.json"), []byte(`{"current_objective":"stale"}`), 0644); err != nil {
		t.Fatal(err)
	}

	st, err := store.Reconcile(State{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.CurrentObjective != "ship the release" {
		t.Errorf("expected canonical objective to win, got %q", st.CurrentObjective)
	}
}

func TestReconcile_SeedsCanonicalFromMirrorWhenCanonicalAbsent(t *testing.T) {
	backend, workspace := openTestBackend(t)
	if err := os.WriteFile(filepath.Join(workspace, "persona.json"), []byte(`{"agent_id":"agent-3","schema_version":"v1","safety_posture":"standard","current_objective":"from mirror"}`), 0644); err != nil {
		t.Fatal(err)
	}

	store := Open(backend, workspace, "agent-3")
	st, err := store.Reconcile(State{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.CurrentObjective != "from mirror" {
		t.Errorf("expected objective seeded from mirror, got %q", st.CurrentObjective)
	}
}
