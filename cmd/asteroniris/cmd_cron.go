// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/scheduler"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "List, add, or remove scheduler jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	RunE:  runCronList,
}

var (
	cronName     string
	cronKind     string
	cronOrigin   string
	cronExpr     string
	cronEveryMs  int64
	cronAtMs     int64
	cronPayload  string
)

var cronAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled job",
	RunE:  runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <job-id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

func init() {
	cronAddCmd.Flags().StringVar(&cronName, "name", "", "job name")
	cronAddCmd.Flags().StringVar(&cronKind, "kind", "user", "job kind: user or agent")
	cronAddCmd.Flags().StringVar(&cronOrigin, "origin", "cli", "owning entity, e.g. channel:chatID")
	cronAddCmd.Flags().StringVar(&cronExpr, "cron", "", "5/6-field cron expression (schedule kind=cron)")
	cronAddCmd.Flags().Int64Var(&cronEveryMs, "every-ms", 0, "fixed interval in ms (schedule kind=every)")
	cronAddCmd.Flags().Int64Var(&cronAtMs, "at-ms", 0, "one-shot unix ms timestamp (schedule kind=at)")
	cronAddCmd.Flags().StringVar(&cronPayload, "payload", "", "shell command for kind=user, or plan:<json> for kind=agent")

	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRemoveCmd)
}

func openSchedulerStore() (*scheduler.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	sched := scheduler.NewService(cfg.WorkspacePath(), cfg.Scheduler.TickIntervalSeconds, cfg.Scheduler.SelfTaskCap)
	if err := sched.Load(); err != nil {
		return nil, fmt.Errorf("load job store: %w", err)
	}
	return sched, nil
}

func runCronList(cmd *cobra.Command, args []string) error {
	sched, err := openSchedulerStore()
	if err != nil {
		return err
	}
	jobs := sched.ListJobs()
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no scheduled jobs")
		return nil
	}
	for _, j := range jobs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  kind=%s  enabled=%v  schedule=%s  last_status=%s\n",
			j.ID, j.Kind, j.Enabled, j.Schedule.Kind, j.State.LastStatus)
	}
	return nil
}

func runCronAdd(cmd *cobra.Command, args []string) error {
	sched, err := openSchedulerStore()
	if err != nil {
		return err
	}

	var sch scheduler.Schedule
	switch {
	case cronExpr != "":
		sch = scheduler.Schedule{Kind: scheduler.ScheduleCron, Expr: cronExpr}
	case cronEveryMs > 0:
		sch = scheduler.Schedule{Kind: scheduler.ScheduleEvery, EveryMs: cronEveryMs}
	case cronAtMs > 0:
		sch = scheduler.Schedule{Kind: scheduler.ScheduleAt, AtMs: cronAtMs}
	default:
		return errs.New(errs.KindUser, "one of --cron, --every-ms, or --at-ms is required")
	}
	if cronPayload == "" {
		return errs.New(errs.KindUser, "--payload is required")
	}

	job := scheduler.Job{
		Name:        cronName,
		Kind:        scheduler.JobKind(cronKind),
		Origin:      cronOrigin,
		Schedule:    sch,
		Payload:     cronPayload,
		MaxAttempts: 3,
	}
	saved, err := sched.AddJob(job)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added job %s\n", saved.ID)
	return nil
}

func runCronRemove(cmd *cobra.Command, args []string) error {
	sched, err := openSchedulerStore()
	if err != nil {
		return err
	}
	if !sched.RemoveJob(args[0]) {
		return errs.New(errs.KindUser, fmt.Sprintf("no job with id %q", args[0]))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed job %s\n", args[0])
	return nil
}
