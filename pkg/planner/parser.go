package planner

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

// proposal is the wire shape a plan-generating LLM turn or a scheduler
// agent-job payload produces; Parser converts it into an internal Plan
// after validating the DAG.
type proposal struct {
	Description string `json:"description"`
	Steps       []struct {
		ID          string                 `json:"id"`
		Description string                 `json:"description"`
		Action      StepAction             `json:"action"`
		Tool        string                 `json:"tool,omitempty"`
		Args        map[string]interface{} `json:"args,omitempty"`
		Prompt      string                 `json:"prompt,omitempty"`
		DependsOn   []string               `json:"depends_on,omitempty"`
		MaxAttempts int                    `json:"max_attempts,omitempty"`
	} `json:"steps"`
}

// Parser converts a JSON plan proposal into a validated internal Plan.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

func newPlanID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "plan-" + hex.EncodeToString(b)
}

// Parse validates shape, resolves depends_on references, rejects cycles,
// and normalizes max_attempts=0 to 1.
func (p *Parser) Parse(raw []byte, origin string) (*Plan, error) {
	var prop proposal
	if err := json.Unmarshal(raw, &prop); err != nil {
		return nil, errs.Wrap(errs.KindData, "malformed plan JSON", err)
	}
	if len(prop.Steps) == 0 {
		return nil, errs.New(errs.KindData, "plan has no steps")
	}

	seen := make(map[string]struct{}, len(prop.Steps))
	plan := &Plan{
		ID:          newPlanID(),
		Description: prop.Description,
		Origin:      origin,
		Status:      "pending",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	for _, s := range prop.Steps {
		if s.ID == "" {
			return nil, errs.New(errs.KindData, "plan step missing id")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, errs.New(errs.KindData, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = struct{}{}

		maxAttempts := s.MaxAttempts
		if maxAttempts == 0 {
			maxAttempts = 1
		}
		plan.Steps = append(plan.Steps, &Step{
			ID:          s.ID,
			Description: s.Description,
			Action:      s.Action,
			Tool:        s.Tool,
			Args:        s.Args,
			Prompt:      s.Prompt,
			DependsOn:   s.DependsOn,
			MaxAttempts: maxAttempts,
			Status:      StepPending,
		})
	}

	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return nil, errs.New(errs.KindData, fmt.Sprintf("step %q depends on unresolved id %q", s.ID, dep))
			}
		}
	}

	if cyc := findCycle(plan); cyc != "" {
		return nil, errs.New(errs.KindData, fmt.Sprintf("plan DAG has a cycle involving step %q", cyc))
	}

	return plan, nil
}

// color marks DFS visitation state for three-color cycle detection:
// white (unvisited), gray (on the current DFS path), black (fully explored).
type color int

const (
	white color = iota
	gray
	black
)

// findCycle runs DFS with three-color marking over the depends_on edges
// (dependency -> dependent) and returns the id of a step on a discovered
// cycle, or "" if the DAG is acyclic.
func findCycle(plan *Plan) string {
	byID := plan.byID()
	colors := make(map[string]color, len(plan.Steps))

	var visit func(id string) string
	visit = func(id string) string {
		switch colors[id] {
		case gray:
			return id
		case black:
			return ""
		}
		colors[id] = gray
		for _, dep := range byID[id].DependsOn {
			if cyc := visit(dep); cyc != "" {
				return cyc
			}
		}
		colors[id] = black
		return ""
	}

	for _, s := range plan.Steps {
		if colors[s.ID] == white {
			if cyc := visit(s.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}
