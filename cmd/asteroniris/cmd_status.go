// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/scheduler"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status: config, workspace, channels, scheduler",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config: %s\n", configPath)
	fmt.Fprintf(out, "Workspace: %s\n", cfg.WorkspacePath())
	fmt.Fprintf(out, "Model: %s (%s)\n", cfg.Agents.Defaults.Model, cfg.Agents.Defaults.Provider)
	if key := cfg.GetAPIKey(); key != "" && len(key) > 8 {
		fmt.Fprintf(out, "API Key: %s...%s\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Fprintln(out, "API Key: set")
	} else {
		fmt.Fprintln(out, "API Key: not set")
	}

	fmt.Fprintf(out, "Memory backend: %s\n", cfg.Memory.Backend)
	fmt.Fprintf(out, "Autonomy level: %s\n", cfg.Autonomy.Level)

	for _, c := range listConfiguredChannels(cfg) {
		fmt.Fprintf(out, "Channel %s: enabled=%v\n", c.name, c.enabled)
	}

	if _, err := os.Stat(cfg.WorkspacePath()); err != nil {
		fmt.Fprintln(out, "Scheduler: workspace not found")
		return nil
	}
	sched := scheduler.NewService(cfg.WorkspacePath(), cfg.Scheduler.TickIntervalSeconds, cfg.Scheduler.SelfTaskCap)
	if err := sched.Load(); err != nil {
		fmt.Fprintf(out, "Scheduler: failed to read job store: %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "Scheduler: %d job(s)\n", len(sched.ListJobs()))

	return nil
}
