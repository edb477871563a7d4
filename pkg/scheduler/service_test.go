package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestAddJob_RejectsAgentJobWithoutPlanPayload(t *testing.T) {
	svc := NewService(t.TempDir(), 1, 5)
	_, err := svc.AddJob(Job{
		Name:    "bad-agent-job",
		Kind:    KindAgent,
		Payload: "not-a-plan",
	})
	if err == nil {
		t.Fatal("expected rejection of non plan: payload for agent-kind job")
	}
}

func TestAddJob_AcceptsAgentJobWithPlanPayload(t *testing.T) {
	svc := NewService(t.TempDir(), 1, 5)
	job, err := svc.AddJob(Job{
		Name:    "good-agent-job",
		Kind:    KindAgent,
		Payload: `plan:{"description":"noop","steps":[]}`,
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if job.ID == "" {
		t.Error("expected generated job ID")
	}
}

func TestEnqueueSelfTask_RejectsOverCap(t *testing.T) {
	svc := NewService(t.TempDir(), 1, 2)
	entity := "telegram:123"
	for i := 0; i < 2; i++ {
		if _, err := svc.EnqueueSelfTask(entity, "task", time.Time{}); err != nil {
			t.Fatalf("EnqueueSelfTask %d: %v", i, err)
		}
	}
	if _, err := svc.EnqueueSelfTask(entity, "one too many", time.Time{}); err == nil {
		t.Fatal("expected cap rejection on third self-task")
	}
}

func TestEnqueueSelfTask_CapIsPerEntity(t *testing.T) {
	svc := NewService(t.TempDir(), 1, 1)
	if _, err := svc.EnqueueSelfTask("telegram:1", "a", time.Time{}); err != nil {
		t.Fatalf("entity 1: %v", err)
	}
	if _, err := svc.EnqueueSelfTask("telegram:2", "b", time.Time{}); err != nil {
		t.Fatalf("entity 2 should not be blocked by entity 1's cap: %v", err)
	}
}

func TestExecuteJob_RetryLimitReachedDisablesJob(t *testing.T) {
	svc := NewService(t.TempDir(), 1, 5)
	svc.SetRunner(KindUser, func(ctx context.Context, job Job) (string, error) {
		return "", context.DeadlineExceeded
	})

	job, err := svc.AddJob(Job{
		Name:        "flaky",
		Kind:        KindUser,
		MaxAttempts: 2,
		Schedule:    Schedule{Kind: ScheduleAt, AtMs: time.Now().UnixMilli()},
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	svc.executeJob(context.Background(), *job)
	svc.executeJob(context.Background(), *job)

	jobs := svc.ListJobs()
	if jobs[0].State.LastStatus != "retry_limit_reached" {
		t.Errorf("status: got %s, want retry_limit_reached", jobs[0].State.LastStatus)
	}
	if jobs[0].Enabled {
		t.Error("expected job to be disabled after exhausting retries")
	}
}

func TestHarvestExpired_RemovesPastExpiry(t *testing.T) {
	svc := NewService(t.TempDir(), 1, 5)
	past := time.Now().Add(-time.Hour)
	_, err := svc.AddJob(Job{
		Name:        "stale",
		Kind:        KindUser,
		ExpiresAtMs: past.UnixMilli(),
		Schedule:    Schedule{Kind: ScheduleEvery, EveryMs: 1000},
	})
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	expired := svc.HarvestExpired(time.Now())
	if len(expired) != 1 {
		t.Fatalf("expired: got %d, want 1", len(expired))
	}
	if len(svc.ListJobs()) != 0 {
		t.Error("expected expired job removed from store")
	}
}
