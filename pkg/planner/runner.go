package planner

import (
	"context"
	"fmt"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/providers"
	"github.com/asteroniris/asteroniris/pkg/tools"
)

// DefaultStepRunner dispatches tool-call steps through the Tool Registry
// (so every tool invocation a plan makes still passes the full Security →
// RateLimit → Audit → OutputSize → Sanitize → Scrub chain) and prompt steps
// through a Provider. checkpoint steps are a no-op marker used to pace a
// plan or wait for an external condition a future step depends on.
type DefaultStepRunner struct {
	Tools    *tools.ToolRegistry
	Provider providers.LLMProvider
	Model    string
	Entity   string
	Channel  string
	ChatID   string
	Workspace string
}

func (r *DefaultStepRunner) RunStep(ctx context.Context, step *Step) (string, error) {
	switch step.Action {
	case ActionToolCall:
		if r.Tools == nil {
			return "", errs.New(errs.KindData, "step requires a tool but no tool registry is wired")
		}
		if step.Tool == "" {
			return "", errs.New(errs.KindData, "tool-call step missing tool name")
		}
		return r.Tools.ExecuteCall(ctx, tools.ExecCall{
			ToolName:  step.Tool,
			Args:      step.Args,
			Entity:    r.Entity,
			Workspace: r.Workspace,
			Channel:   r.Channel,
			ChatID:    r.ChatID,
		})
	case ActionPrompt:
		if r.Provider == nil {
			return "", errs.New(errs.KindData, "step requires a provider but none is wired")
		}
		if step.Prompt == "" {
			return "", errs.New(errs.KindData, "prompt step missing prompt text")
		}
		resp, err := r.Provider.Chat(ctx, []providers.Message{{Role: "user", Content: step.Prompt}}, nil, r.Model, nil)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	case ActionCheckpoint:
		return "checkpoint reached", nil
	default:
		return "", errs.New(errs.KindData, fmt.Sprintf("unknown step action %q", step.Action))
	}
}
