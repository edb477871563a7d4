// Package persona owns the canonical/mirror reconciliation for agent
// identity and mutable working state. The canonical copy lives in the
// memory backend as identity-layer belief slots; the mirror is a plain JSON
// file on disk that survives a backend swap and gives operators something
// human-readable to inspect.
package persona

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

const entityPrefix = "persona:"

// immutable identity slot keys, set only by Seed.
const (
	slotSchemaVersion   = "identity.schema_version"
	slotPrinciplesHash  = "identity.principles_hash"
	slotSafetyPosture   = "identity.safety_posture"
)

// mutable working-state slot keys, updated by writebacks.
const (
	slotObjective     = "belief.objective.current"
	slotRecentContext = "belief.context.recent"
)

// State is the full persona snapshot: immutable identity plus mutable
// working state.
type State struct {
	AgentID            string    `json:"agent_id"`
	SchemaVersion       string    `json:"schema_version"`
	IdentityPrinciplesHash string `json:"identity_principles_hash"`
	SafetyPosture       string    `json:"safety_posture"`
	CurrentObjective    string    `json:"current_objective"`
	RecentContextSummary string   `json:"recent_context_summary"`
	OpenLoops           []string  `json:"open_loops"`
	NextActions         []string  `json:"next_actions"`
	Commitments         []string  `json:"commitments"`
	LastUpdatedAt       time.Time `json:"last_updated_at"`
}

// Store reconciles canonical (memory backend) and mirror (persona.json)
// copies of persona state for one agent.
type Store struct {
	backend    memory.Backend
	agentID    string
	mirrorPath string
}

// Open returns a Store for agentID, mirroring into workspace/persona.json.
func Open(backend memory.Backend, workspace, agentID string) *Store {
	return &Store{
		backend:    backend,
		agentID:    agentID,
		mirrorPath: filepath.Join(workspace, "persona.json"),
	}
}

func (s *Store) entity() string { return entityPrefix + s.agentID }

// Reconcile runs the supervisor-startup reconciliation rule: if canonical is
// absent, seed it from the mirror; if both are absent, seed a minimal
// identity header; if they diverge, canonical wins and the mirror is
// overwritten.
func (s *Store) Reconcile(minimalSeed State) (State, error) {
	canonical, canonicalErr := s.loadCanonical()
	mirror, mirrorErr := s.loadMirror()

	switch {
	case canonicalErr != nil && mirrorErr != nil:
		minimalSeed.AgentID = s.agentID
		minimalSeed.LastUpdatedAt = time.Now().UTC()
		if err := s.seedCanonical(minimalSeed); err != nil {
			return State{}, err
		}
		if err := s.writeMirror(minimalSeed); err != nil {
			return State{}, err
		}
		return minimalSeed, nil

	case canonicalErr != nil:
		// Canonical absent, mirror present: seed canonical from mirror.
		if err := s.seedCanonical(mirror); err != nil {
			return State{}, err
		}
		return mirror, nil

	default:
		// Canonical present (mirror present or not): canonical wins.
		if err := s.writeMirror(canonical); err != nil {
			return State{}, err
		}
		return canonical, nil
	}
}

func (s *Store) loadMirror() (State, error) {
	data, err := os.ReadFile(s.mirrorPath)
	if err != nil {
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (s *Store) writeMirror(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.mirrorPath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.mirrorPath, data, 0644)
}

// loadCanonical reconstructs State from identity-layer belief slots. A
// missing schema_version slot is treated as "canonical absent".
func (s *Store) loadCanonical() (State, error) {
	schemaVersion, err := s.resolveString(slotSchemaVersion)
	if err != nil || schemaVersion == "" {
		return State{}, os.ErrNotExist
	}
	principlesHash, _ := s.resolveString(slotPrinciplesHash)
	safetyPosture, _ := s.resolveString(slotSafetyPosture)
	objective, _ := s.resolveString(slotObjective)
	recentContext, _ := s.resolveString(slotRecentContext)

	return State{
		AgentID:                s.agentID,
		SchemaVersion:          schemaVersion,
		IdentityPrinciplesHash: principlesHash,
		SafetyPosture:          safetyPosture,
		CurrentObjective:       objective,
		RecentContextSummary:   recentContext,
		LastUpdatedAt:          time.Now().UTC(),
	}, nil
}

func (s *Store) resolveString(slotKey string) (string, error) {
	belief, err := s.backend.ResolveSlot(s.entity(), slotKey)
	if err != nil || belief == nil {
		return "", err
	}
	items, err := s.backend.RecallScoped(memory.RecallQuery{
		EntityID: s.entity(),
		Slot:     slotKey,
		Limit:    1,
	})
	if err != nil || len(items) == 0 {
		return "", nil
	}
	return items[0].Unit.Content, nil
}

// seedCanonical writes the immutable identity fields exactly once, via the
// only code path permitted to set them.
func (s *Store) seedCanonical(st State) error {
	identity := []struct {
		slot string
		val  string
	}{
		{slotSchemaVersion, st.SchemaVersion},
		{slotPrinciplesHash, st.IdentityPrinciplesHash},
		{slotSafetyPosture, st.SafetyPosture},
	}
	for _, f := range identity {
		if f.val == "" {
			continue
		}
		if _, err := s.backend.AppendEvent(memory.EventInput{
			EntityID:   s.entity(),
			SlotKey:    f.slot,
			Kind:       memory.EventFactAdded,
			Value:      f.val,
			Source:     memory.SourceSystem,
			Confidence: 1.0,
			Importance: 1.0,
			Layer:      memory.LayerIdentity,
			Privacy:    memory.PrivacyPrivate,
			SourceRef:  "persona-seed:" + s.agentID,
		}); err != nil {
			return err
		}
	}
	if st.CurrentObjective != "" {
		if err := s.writeMutable(slotObjective, st.CurrentObjective); err != nil {
			return err
		}
	}
	if st.RecentContextSummary != "" {
		if err := s.writeMutable(slotRecentContext, st.RecentContextSummary); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeMutable(slotKey, value string) error {
	_, err := s.backend.AppendEvent(memory.EventInput{
		EntityID:   s.entity(),
		SlotKey:    slotKey,
		Kind:       memory.EventFactUpdated,
		Value:      value,
		Source:     memory.SourceExplicitUser,
		Confidence: 0.9,
		Importance: 0.7,
		Layer:      memory.LayerIdentity,
		Privacy:    memory.PrivacyPrivate,
		SourceRef:  "persona-writeback:" + s.agentID,
	})
	return err
}

// ApplyObjective writes a validated new current-objective value to both
// canonical and mirror copies.
func (s *Store) ApplyObjective(objective string) error {
	if err := s.writeMutable(slotObjective, objective); err != nil {
		return err
	}
	return s.refreshMirror()
}

// ApplyRecentContext writes a validated new recent-context summary to both
// canonical and mirror copies.
func (s *Store) ApplyRecentContext(summary string) error {
	if err := s.writeMutable(slotRecentContext, summary); err != nil {
		return err
	}
	return s.refreshMirror()
}

func (s *Store) refreshMirror() error {
	canonical, err := s.loadCanonical()
	if err != nil {
		return err
	}
	return s.writeMirror(canonical)
}
