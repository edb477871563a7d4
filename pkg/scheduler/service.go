package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

// JobRunner executes one job and returns a human-readable result. Service
// calls the runner registered for the job's Kind; a kind=agent job must
// never reach a shell-executing runner.
type JobRunner func(ctx context.Context, job Job) (string, error)

// Service owns the cron/self-task job store: a ticker loop evaluates
// cron/every/at schedules once per tick (default 1s) and dispatches due
// jobs to the runner registered for their kind. Grounded on the teacher's
// pkg/heartbeat/service.go ticker-loop shape, generalized from a single
// fixed-interval check into a persistent multi-job, multi-schedule-kind
// store (load/save idiom from yy1588133-myclaw's cron service).
type Service struct {
	workspace   string
	mu          sync.Mutex
	jobs        []Job
	selfTasks   []SelfTask
	selfTaskCap int

	runners map[JobKind]JobRunner
	gron    *gronx.Gronx

	tickInterval time.Duration
	stopChan     chan struct{}
	running      bool
}

func NewService(workspace string, tickIntervalSeconds, selfTaskCap int) *Service {
	if tickIntervalSeconds <= 0 {
		tickIntervalSeconds = 1
	}
	if selfTaskCap <= 0 {
		selfTaskCap = 5
	}
	return &Service{
		workspace:    workspace,
		selfTaskCap:  selfTaskCap,
		runners:      make(map[JobKind]JobRunner),
		gron:         gronx.New(),
		tickInterval: time.Duration(tickIntervalSeconds) * time.Second,
	}
}

// SetRunner registers the executor for one job kind. kind=agent must be
// wired to a Planner-backed runner; kind=user to a Security-Policy-gated
// shell runner. Calling this after Start is safe — runners are read under
// the same lock the tick loop holds while dispatching.
func (s *Service) SetRunner(kind JobKind, runner JobRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[kind] = runner
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if err := s.loadLocked(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: load store: %w", err)
	}
	s.stopChan = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.tickLoop(ctx)

	logger.InfoCF("scheduler", "scheduler started", map[string]interface{}{"jobs": len(s.jobs)})
	return nil
}

// Load populates the in-memory job/self-task lists from disk without
// starting the tick loop, for CLI tooling that lists or mutates jobs
// without running the scheduler as a service.
func (s *Service) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Service) loadLocked() error {
	f, err := load(s.workspace)
	if err != nil {
		return err
	}
	s.jobs = f.Jobs
	s.selfTasks = f.SelfTasks
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopChan)
	s.running = false
	logger.InfoCF("scheduler", "scheduler stopped", nil)
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []Job
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		if job.Expired(now) {
			job.Enabled = false
			job.State.LastStatus = "expired"
			continue
		}
		if s.isDue(job, now) {
			if job.Schedule.Kind == ScheduleAt {
				job.Enabled = false
			}
			due = append(due, *job)
		}
	}
	_ = saveLocked(s.workspace, s.jobs, s.selfTasks)
	s.mu.Unlock()

	for _, job := range due {
		s.executeJob(ctx, job)
	}
}

func (s *Service) isDue(job *Job, now time.Time) bool {
	switch job.Schedule.Kind {
	case ScheduleCron:
		due, err := s.gron.IsDue(job.Schedule.Expr, now)
		if err != nil {
			logger.ErrorCF("scheduler", "invalid cron expression", map[string]interface{}{"job_id": job.ID, "expr": job.Schedule.Expr, "error": err.Error()})
			return false
		}
		// gronx evaluates at minute granularity; guard against firing the
		// same minute twice when the tick interval is sub-minute.
		if due && now.UnixMilli()-job.State.LastRunAtMs < 55000 {
			return false
		}
		return due
	case ScheduleEvery:
		if job.Schedule.EveryMs <= 0 {
			return false
		}
		return now.UnixMilli() >= job.State.LastRunAtMs+job.Schedule.EveryMs
	case ScheduleAt:
		return job.Schedule.AtMs > 0 && now.UnixMilli() >= job.Schedule.AtMs
	default:
		return false
	}
}

func (s *Service) executeJob(ctx context.Context, job Job) {
	s.mu.Lock()
	runner := s.runners[job.Kind]
	s.mu.Unlock()

	var result string
	var err error
	if runner == nil {
		err = errs.New(errs.KindData, fmt.Sprintf("no runner registered for job kind %q", job.Kind))
	} else {
		result, err = runner(ctx, job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		st := &s.jobs[i].State
		st.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			st.Attempts++
			st.LastStatus = "error"
			st.LastError = err.Error()
			maxAttempts := s.jobs[i].MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = 1
			}
			if st.Attempts >= maxAttempts {
				st.LastStatus = "retry_limit_reached"
				s.jobs[i].Enabled = false
			}
			logger.ErrorCF("scheduler", "job execution failed", map[string]interface{}{"job_id": job.ID, "error": err.Error(), "attempts": st.Attempts})
		} else {
			st.Attempts = 0
			st.LastStatus = "ok"
			st.LastError = ""
			logger.InfoCF("scheduler", "job executed", map[string]interface{}{"job_id": job.ID, "result": truncate(result, 200)})
		}
		if s.jobs[i].DeleteAfterRun {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}
	_ = saveLocked(s.workspace, s.jobs, s.selfTasks)
}

func saveLocked(workspace string, jobs []Job, selfTasks []SelfTask) error {
	return save(workspace, &jobFile{Jobs: jobs, SelfTasks: selfTasks})
}

func newJobID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "job-" + hex.EncodeToString(b)
}

// AddJob validates and stores a new job. kind=agent jobs must carry a
// "plan:<json>" payload — they are never allowed to reach a shell.
func (s *Service) AddJob(job Job) (*Job, error) {
	if job.Kind == KindAgent && !strings.HasPrefix(job.Payload, "plan:") {
		return nil, errs.New(errs.KindPolicy, "agent-kind job payload must be plan:<json>")
	}
	if job.ID == "" {
		job.ID = newJobID()
	}
	job.Enabled = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := saveLocked(s.workspace, s.jobs, s.selfTasks); err != nil {
		return nil, fmt.Errorf("scheduler: save jobs: %w", err)
	}
	return &s.jobs[len(s.jobs)-1], nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			_ = saveLocked(s.workspace, s.jobs, s.selfTasks)
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].Enabled = enabled
			_ = saveLocked(s.workspace, s.jobs, s.selfTasks)
			job := s.jobs[i]
			return &job, nil
		}
	}
	return nil, errs.New(errs.KindData, fmt.Sprintf("job %s not found", id))
}

// HarvestExpired removes jobs past their expiry and returns them, for a
// heartbeat-driven sweep.
func (s *Service) HarvestExpired(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Job
	var kept []Job
	for _, job := range s.jobs {
		if job.Expired(now) {
			expired = append(expired, job)
			continue
		}
		kept = append(kept, job)
	}
	if len(expired) > 0 {
		s.jobs = kept
		_ = saveLocked(s.workspace, s.jobs, s.selfTasks)
	}
	return expired
}

// EnqueueSelfTask adds a reflection-proposed self-task for entity, rejecting
// the enqueue if the entity is already at its pending-task cap.
func (s *Service) EnqueueSelfTask(entity, description string, expiresAt time.Time) (*SelfTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, t := range s.selfTasks {
		if t.Entity == entity {
			pending++
		}
	}
	if pending >= s.selfTaskCap {
		return nil, errs.New(errs.KindExhaustion, fmt.Sprintf("self-task cap (%d) reached for entity %q", s.selfTaskCap, entity))
	}

	task := SelfTask{
		ID:          newJobID(),
		Entity:      entity,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
	s.selfTasks = append(s.selfTasks, task)
	if err := saveLocked(s.workspace, s.jobs, s.selfTasks); err != nil {
		return nil, fmt.Errorf("scheduler: save self-tasks: %w", err)
	}
	return &task, nil
}

func (s *Service) ListSelfTasks(entity string) []SelfTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SelfTask
	for _, t := range s.selfTasks {
		if t.Entity == entity {
			out = append(out, t)
		}
	}
	return out
}

// CompleteSelfTask removes a self-task from the queue once its plan has
// finished executing (successfully or not) so the entity's cap frees up.
func (s *Service) CompleteSelfTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.selfTasks {
		if t.ID == id {
			s.selfTasks = append(s.selfTasks[:i], s.selfTasks[i+1:]...)
			_ = saveLocked(s.workspace, s.jobs, s.selfTasks)
			return
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
