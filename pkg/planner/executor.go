package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asteroniris/asteroniris/pkg/logger"
)

// StepRunner executes a single plan step and returns its output. Concrete
// runners dispatch tool-call steps through the Tool Registry and prompt
// steps through a Provider; see DefaultStepRunner.
type StepRunner interface {
	RunStep(ctx context.Context, step *Step) (string, error)
}

// Store persists Plan state across restarts so "running" executions can be
// reconciled at supervisor startup.
type Store interface {
	Save(plan *Plan) error
	Load(id string) (*Plan, error)
	ListByStatus(status string) ([]*Plan, error)
}

// Executor performs topological scheduling over a Plan's DAG: steps whose
// dependencies have all completed run as soon as they're ready. Independent
// steps within one ready round execute concurrently; the spec permits both
// serial and parallel execution of independent steps, so a round-based
// schedule (one wave of goroutines per round) satisfies it without
// requiring a full work-stealing scheduler.
type Executor struct {
	store Store
}

func NewExecutor(store Store) *Executor {
	return &Executor{store: store}
}

func (e *Executor) persist(plan *Plan) {
	if e.store == nil {
		return
	}
	plan.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(plan); err != nil {
		logger.ErrorCF("planner", "failed to persist plan", map[string]interface{}{"plan_id": plan.ID, "error": err.Error()})
	}
}

// Execute runs plan to completion (or until no more steps can become
// ready), respecting each step's max-attempts budget and propagating a
// step's failure only to its transitive downstream dependents as Skipped
// — independent branches continue.
func (e *Executor) Execute(ctx context.Context, plan *Plan, runner StepRunner) (*Report, error) {
	plan.Status = "running"
	e.persist(plan)

	byID := plan.byID()

	for {
		ready := readySteps(plan, byID)
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, step := range ready {
			step.Status = StepRunning
			wg.Add(1)
			go func(st *Step) {
				defer wg.Done()
				e.runWithRetry(ctx, st, runner)
			}(step)
		}
		wg.Wait()

		propagateSkips(plan, byID)
		e.persist(plan)
	}

	plan.Status = finalStatus(plan)
	e.persist(plan)
	return buildReport(plan), nil
}

// readySteps returns every pending step whose dependencies have all
// completed. A step whose dependency failed or was skipped is never
// "ready" — propagateSkips will have already moved it to Skipped.
func readySteps(plan *Plan, byID map[string]*Step) []*Step {
	var ready []*Step
	for _, s := range plan.Steps {
		if s.Status != StepPending {
			continue
		}
		allDone := true
		for _, dep := range s.DependsOn {
			if byID[dep].Status != StepCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, s)
		}
	}
	return ready
}

// propagateSkips marks every pending step reachable from a failed step as
// Skipped; a sibling that does not depend on the failed step, directly or
// transitively, is left untouched and keeps running in later rounds.
func propagateSkips(plan *Plan, byID map[string]*Step) {
	dependents := make(map[string][]string, len(plan.Steps))
	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var skip func(id string)
	skip = func(id string) {
		for _, childID := range dependents[id] {
			child := byID[childID]
			if child.Status == StepPending {
				child.Status = StepSkipped
				child.Error = "upstream dependency failed"
				skip(childID)
			}
		}
	}

	for _, s := range plan.Steps {
		if s.Status == StepFailed {
			skip(s.ID)
		}
	}
}

func (e *Executor) runWithRetry(ctx context.Context, step *Step, runner StepRunner) {
	maxAttempts := step.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		step.Attempts = attempt
		output, err := runner.RunStep(ctx, step)
		if err == nil {
			step.Status = StepCompleted
			step.Output = output
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	step.Status = StepFailed
	step.Error = lastErr.Error()
}

func finalStatus(plan *Plan) string {
	for _, s := range plan.Steps {
		if s.Status == StepPending || s.Status == StepRunning {
			return "running"
		}
	}
	for _, s := range plan.Steps {
		if s.Status == StepFailed {
			return "failed"
		}
	}
	return "completed"
}

func buildReport(plan *Plan) *Report {
	r := &Report{PlanID: plan.ID, Status: plan.Status}
	for _, s := range plan.Steps {
		r.Steps = append(r.Steps, StepResult{ID: s.ID, Status: s.Status, Output: s.Output, Error: s.Error})
		switch s.Status {
		case StepCompleted:
			r.Completed++
		case StepFailed:
			r.Failed++
		case StepSkipped:
			r.Skipped++
		}
	}
	return r
}

// ReconcileRunning marks every plan the store has left in "running" status
// (from a process that died mid-execution) as "requeued" and returns them
// so the caller can re-enqueue their owning agent job idempotently.
func ReconcileRunning(store Store) ([]*Plan, error) {
	running, err := store.ListByStatus("running")
	if err != nil {
		return nil, fmt.Errorf("list running plans: %w", err)
	}
	var requeued []*Plan
	for _, plan := range running {
		plan.Status = "requeued"
		if err := store.Save(plan); err != nil {
			return requeued, fmt.Errorf("save requeued plan %s: %w", plan.ID, err)
		}
		requeued = append(requeued, plan)
	}
	return requeued, nil
}
