// Package scheduler owns the cron job store and the per-entity self-task
// queue. kind=user jobs may invoke shell allowlist commands, still gated by
// the Security Policy; kind=agent jobs are never handed a raw shell — their
// payload is a serialized plan routed exclusively to the Planner.
package scheduler

import "time"

type JobKind string

const (
	KindUser  JobKind = "user"
	KindAgent JobKind = "agent"
)

// ScheduleKind selects how NextRun is computed.
type ScheduleKind string

const (
	ScheduleCron  ScheduleKind = "cron"  // Expr is a 5-or-6-field cron expression, evaluated by gronx
	ScheduleEvery ScheduleKind = "every" // fixed interval from last run
	ScheduleAt    ScheduleKind = "at"    // one-shot, fires once then disables itself
)

type Schedule struct {
	Kind    ScheduleKind `json:"kind"`
	Expr    string       `json:"expr,omitempty"`
	EveryMs int64        `json:"every_ms,omitempty"`
	AtMs    int64        `json:"at_ms,omitempty"`
}

// JobState tracks the last execution outcome of a Job.
type JobState struct {
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"` // "ok" | "error" | "retry_limit_reached"
	LastError   string `json:"last_error,omitempty"`
	Attempts    int    `json:"attempts"`
}

// Job is a scheduled unit of work: either a user-kind shell-allowlist
// command or an agent-kind plan routed through the Planner.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Kind           JobKind  `json:"kind"`
	Origin         string   `json:"origin"` // owning entity: channel:chatID
	Schedule       Schedule `json:"schedule"`
	Payload        string   `json:"payload"` // for kind=agent, must be "plan:<json>"
	MaxAttempts    int      `json:"max_attempts"`
	ExpiresAtMs    int64    `json:"expires_at_ms,omitempty"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
	State          JobState `json:"state"`
}

// Expired reports whether the job's expiry has passed as of now.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAtMs > 0 && now.UnixMilli() >= j.ExpiresAtMs
}

// SelfTask is an entry in an entity's self-task queue, proposed by the
// agent loop's reflection step and capped per entity (default 5).
type SelfTask struct {
	ID          string    `json:"id"`
	Entity      string    `json:"entity"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}
