// Package planner represents self-generated work as a DAG of steps and
// executes it under bounded, topological scheduling. It is the only path
// through which a self-generated ("agent") job may act: the scheduler
// routes agent-kind cron jobs here, never to a raw shell.
package planner

import "time"

// StepAction is the kind of work a Step performs.
type StepAction string

const (
	ActionToolCall   StepAction = "tool-call"
	ActionPrompt     StepAction = "prompt"
	ActionCheckpoint StepAction = "checkpoint"
)

// StepStatus is the lifecycle state of a single Step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is one node in a Plan's DAG.
type Step struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Action      StepAction             `json:"action"`
	Tool        string                 `json:"tool,omitempty"`
	Args        map[string]interface{} `json:"args,omitempty"`
	Prompt      string                 `json:"prompt,omitempty"`
	DependsOn   []string               `json:"depends_on,omitempty"`
	MaxAttempts int                    `json:"max_attempts,omitempty"`

	Status   StepStatus `json:"status"`
	Output   string     `json:"output,omitempty"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts"`
}

// Plan is a description + ordered steps forming a DAG, plus execution
// status. Plans in progress are persisted with Status "running"; at
// supervisor startup any plan still "running" is marked "requeued" (see
// ReconcileRunning) and its owning agent job is re-enqueued idempotently.
type Plan struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Origin      string    `json:"origin"` // entity that owns this plan
	Steps       []*Step   `json:"steps"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// byID indexes a plan's steps for O(1) dependency lookups.
func (p *Plan) byID() map[string]*Step {
	m := make(map[string]*Step, len(p.Steps))
	for _, s := range p.Steps {
		m[s.ID] = s
	}
	return m
}

// StepResult is one line of an execution Report.
type StepResult struct {
	ID     string     `json:"id"`
	Status StepStatus `json:"status"`
	Output string     `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Report summarizes one Execute call across every step in the plan.
type Report struct {
	PlanID    string       `json:"plan_id"`
	Status    string       `json:"status"`
	Steps     []StepResult `json:"steps"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
}
