package tools

import (
	"context"
	"fmt"

	"github.com/asteroniris/asteroniris/pkg/audit"
	"github.com/asteroniris/asteroniris/pkg/scrub"
	"github.com/asteroniris/asteroniris/pkg/security"
)

// ExecCall carries everything a middleware stage needs to know about the
// tool invocation it's wrapping.
type ExecCall struct {
	ToolName  string
	Args      map[string]interface{}
	Entity    string // operator tag: channel:chatID, or a scheduler/self-task id
	Workspace string
	Channel   string
	ChatID    string
	CostCents int // estimated cost of this call, charged against the entity's daily budget
}

// Next invokes the remainder of the middleware chain and returns its result.
type Next func(ctx context.Context, call ExecCall) (string, error)

// Middleware wraps a tool invocation. Each stage decides whether to call
// Next at all, and may transform the result coming back up the chain.
type Middleware func(next Next) Next

// Chain composes middlewares in registration order, so the first Use call
// is the outermost wrapper. Security → RateLimit → Audit → OutputSize →
// Sanitize → Scrub is the registration order the agent loop wires up by
// default; the registry itself stays agnostic to what's installed.
type Chain struct {
	middlewares []Middleware
}

func (c *Chain) Use(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

func (c *Chain) build(final Next) Next {
	wrapped := final
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i](wrapped)
	}
	return wrapped
}

// SecurityMiddleware denies tool calls that fail command/path/tenant checks
// before any other stage runs. shellTools/pathTools name the argument keys
// each tool family uses, so the middleware knows which checks apply.
func SecurityMiddleware(policy *security.Policy, workspace string) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call ExecCall) (string, error) {
			if cmd, ok := call.Args["command"].(string); ok && cmd != "" {
				args := stringArgs(call.Args["args"])
				if d := policy.CheckCommand(cmd, args); !d.Allowed {
					return "", fmt.Errorf("security: %s", d.Reason)
				}
			}
			if path, ok := call.Args["path"].(string); ok && path != "" {
				if d := policy.CheckPath(path, workspace); !d.Allowed {
					return "", fmt.Errorf("security: %s", d.Reason)
				}
			}
			if call.Entity != "" {
				if d := policy.CheckTenant(call.Entity, workspace); !d.Allowed {
					return "", fmt.Errorf("security: %s", d.Reason)
				}
			}
			return next(ctx, call)
		}
	}
}

func stringArgs(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// RateLimitMiddleware rejects the Nth+1 action in the entity's rolling
// hourly window and enforces the daily cost budget.
func RateLimitMiddleware(policy *security.Policy) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call ExecCall) (string, error) {
			if call.Entity != "" {
				if d := policy.RecordAction(call.Entity); !d.Allowed {
					return "", fmt.Errorf("rate limit: %s", d.Reason)
				}
				if call.CostCents > 0 {
					if d := policy.RecordCost(call.Entity, call.CostCents); !d.Allowed {
						return "", fmt.Errorf("cost limit: %s", d.Reason)
					}
				}
			}
			return next(ctx, call)
		}
	}
}

// AuditMiddleware appends an Action Intent record regardless of outcome —
// it runs the rest of the chain first so the record can carry the final
// allow/deny decision, then logs it on the way back up.
func AuditMiddleware(ledger *audit.Ledger) Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call ExecCall) (string, error) {
			result, err := next(ctx, call)
			denyReason := ""
			if err != nil {
				denyReason = err.Error()
			}
			ledger.Record("tool_call", call.Entity, map[string]interface{}{
				"tool": call.ToolName, "channel": call.Channel, "chat_id": call.ChatID,
			}, err == nil, denyReason)
			return result, err
		}
	}
}

// maxToolOutputBytes bounds how much a single tool call can inject back
// into the conversation; past this the result is truncated rather than
// rejected, since a truncated tool result is still useful context.
const maxToolOutputBytes = 64 * 1024

// OutputSizeMiddleware truncates oversized tool output after the call
// completes, so a single runaway tool can't blow the context budget.
func OutputSizeMiddleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call ExecCall) (string, error) {
			result, err := next(ctx, call)
			if err != nil || len(result) <= maxToolOutputBytes {
				return result, err
			}
			return result[:maxToolOutputBytes] + "\n...[truncated]", nil
		}
	}
}

// SanitizeMiddleware strips content that would weaponize the next LLM
// turn against the agent itself (see the external-content defense
// package for the full classification; this stage applies only the
// cheapest structural pass — balanced-quote and control-character strip —
// so tool output is safe to splice into a prompt even before the defense
// layer runs its heavier classification).
func SanitizeMiddleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call ExecCall) (string, error) {
			result, err := next(ctx, call)
			if err != nil {
				return result, err
			}
			return stripControlChars(result), nil
		}
	}
}

func stripControlChars(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b == '\n' || b == '\t' || b == '\r' || b >= 0x20 {
			out = append(out, b)
		}
	}
	return string(out)
}

// ScrubMiddleware redacts credential-shaped tokens from tool output before
// it's persisted to memory or forwarded into the next LLM turn.
func ScrubMiddleware() Middleware {
	return func(next Next) Next {
		return func(ctx context.Context, call ExecCall) (string, error) {
			result, err := next(ctx, call)
			if err != nil {
				return result, err
			}
			return scrub.Text(result), nil
		}
	}
}
