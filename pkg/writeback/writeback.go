// Package writeback validates self-produced updates to persona state and
// inferred memory writes before they are allowed to touch canonical storage.
// Every rule fails closed: the first violation rejects the whole payload,
// never a partial apply.
package writeback

import (
	"fmt"
	"regexp"
	"time"

	"github.com/asteroniris/asteroniris/pkg/security"
)

const (
	maxObjectiveChars   = 280
	maxRecentContext    = 1200
	maxMemoryItems      = 8
	maxSelfTasks        = 5
	maxSelfTaskSkewFrom = 72 * time.Hour
	maxFutureSkew       = 5 * time.Minute
)

// immutableFields are persona attributes that may only be set by the
// initial identity seed, never by a self-produced writeback.
var immutableFields = map[string]struct{}{
	"schema_version":          {},
	"identity_principles_hash": {},
	"safety_posture":          {},
}

// reservedTopLevelFields may only be set by the ingestion pipeline, which
// owns source identity; a writeback payload that sets them is rejected.
var reservedTopLevelFields = map[string]struct{}{
	"source_kind": {},
	"source_ref":  {},
}

type poisonCategory struct {
	name    string
	pattern *regexp.Regexp
}

// poisonCategories is the union of the PromptGuard-style system-override
// category plus the writeback-specific phrases spec.md calls out.
var poisonCategories = []poisonCategory{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(the\s+)?(previous|all|above|prior)\s+(instructions?|prompts?|commands?)`)},
	{"system_prompt_reference", regexp.MustCompile(`(?i)system\s+prompt`)},
	{"override_safety", regexp.MustCompile(`(?i)override\s+safety`)},
	{"exfiltrate", regexp.MustCompile(`(?i)exfiltrat`)},
}

// Violation is a structured deny reason; the guard always stops at the
// first violation it finds, so a caller never sees more than one.
type Violation struct {
	Field  string
	Reason string
}

func (v Violation) Error() string {
	if v.Field == "" {
		return v.Reason
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// PersonaWriteback is a self-produced update to the mutable persona fields.
type PersonaWriteback struct {
	Fields         map[string]string
	CurrentObjective *string
	RecentContext    *string
	MemoryItems      []string
	SelfTasks        []SelfTask
}

// SelfTask is a self-enqueued follow-up action proposed by reflection.
type SelfTask struct {
	Description string
	ExpiresAt   time.Time
}

// Guard validates writeback payloads against the fixed rule set. It holds
// no mutable state, so a single instance is safe to share across turns.
type Guard struct {
	now func() time.Time
}

// New returns a Guard using the real wall clock.
func New() *Guard {
	return &Guard{now: time.Now}
}

// Validate checks a persona writeback and returns the first violation, if
// any. A nil return means the payload may be applied in full.
func (g *Guard) Validate(w PersonaWriteback) *Violation {
	for field := range w.Fields {
		if _, immutable := immutableFields[field]; immutable {
			return &Violation{Field: field, Reason: "immutable persona field cannot be written by self-update"}
		}
		if _, reserved := reservedTopLevelFields[field]; reserved {
			return &Violation{Field: field, Reason: "source identity fields may only be set by the ingestion pipeline"}
		}
	}

	if w.CurrentObjective != nil {
		if len(*w.CurrentObjective) > maxObjectiveChars {
			return &Violation{Field: "current_objective", Reason: fmt.Sprintf("exceeds %d character cap", maxObjectiveChars)}
		}
		if v := g.scanPoison(*w.CurrentObjective); v != nil {
			v.Field = "current_objective"
			return v
		}
	}

	if w.RecentContext != nil {
		if len(*w.RecentContext) > maxRecentContext {
			return &Violation{Field: "recent_context", Reason: fmt.Sprintf("exceeds %d character cap", maxRecentContext)}
		}
		if v := g.scanPoison(*w.RecentContext); v != nil {
			v.Field = "recent_context"
			return v
		}
	}

	if len(w.MemoryItems) > maxMemoryItems {
		return &Violation{Field: "memory_items", Reason: fmt.Sprintf("exceeds %d items per writeback", maxMemoryItems)}
	}
	for _, item := range w.MemoryItems {
		if v := g.scanPoison(item); v != nil {
			v.Field = "memory_items"
			return v
		}
	}

	if len(w.SelfTasks) > maxSelfTasks {
		return &Violation{Field: "self_tasks", Reason: fmt.Sprintf("exceeds %d pending self-tasks", maxSelfTasks)}
	}
	now := g.now()
	for _, task := range w.SelfTasks {
		if v := g.scanPoison(task.Description); v != nil {
			v.Field = "self_tasks"
			return v
		}
		if task.ExpiresAt.IsZero() {
			continue
		}
		if task.ExpiresAt.After(now.Add(maxSelfTaskSkewFrom)) {
			return &Violation{Field: "self_tasks", Reason: "expiry is further than 72h in the future"}
		}
	}

	for field, val := range w.Fields {
		if v := g.scanPoison(val); v != nil {
			v.Field = field
			return v
		}
	}

	return nil
}

// scanPoison checks text for injection-poison phrasing after folding common
// homoglyph substitutions.
func (g *Guard) scanPoison(text string) *Violation {
	folded := security.FoldHomoglyphs(text)
	for _, cat := range poisonCategories {
		if cat.pattern.MatchString(folded) {
			return &Violation{Reason: fmt.Sprintf("poison pattern matched: %s", cat.name)}
		}
	}
	return nil
}

// ValidateTimestamp rejects any timestamp not in RFC3339 form, or one in
// the future beyond a small clock-skew allowance.
func (g *Guard) ValidateTimestamp(raw string) *Violation {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return &Violation{Field: "timestamp", Reason: "not in RFC3339 form"}
	}
	if ts.After(g.now().Add(maxFutureSkew)) {
		return &Violation{Field: "timestamp", Reason: "timestamp is in the future beyond allowed skew"}
	}
	return nil
}
