// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/memory"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose config, workspace, provider, and memory backend health",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] config: %v\n", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[ OK ] config: %s\n", configPath)

	failures := 0

	ws := cfg.WorkspacePath()
	if info, err := os.Stat(ws); err != nil || !info.IsDir() {
		fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] workspace: %s does not exist (run 'asteroniris onboard')\n", ws)
		failures++
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "[ OK ] workspace: %s\n", ws)
	}

	if cfg.GetAPIKey() == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "[FAIL] provider: no API key configured for", cfg.Agents.Defaults.Provider)
		failures++
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "[ OK ] provider: %s configured\n", cfg.Agents.Defaults.Provider)
	}

	backend, err := memory.OpenBackend(memory.BackendConfig{
		Kind:                memory.BackendKind(cfg.Memory.Backend),
		Workspace:           ws,
		PostgresDSN:         cfg.Memory.PostgresDSN,
		EmbeddingDimensions: cfg.Memory.EmbeddingDimensions,
	})
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] memory backend: %v\n", err)
		failures++
	} else {
		kind := cfg.Memory.Backend
		if kind == "" {
			kind = string(memory.BackendKVFTSVector)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[ OK ] memory backend: %s (%s)\n", kind, ws)
		backend.Close()
	}

	doctorReportChannels(cmd, cfg)
	doctorReportGateway(cmd, cfg)

	if failures > 0 {
		return fmt.Errorf("doctor found %d issue(s)", failures)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nall checks passed")
	return nil
}

func doctorReportChannels(cmd *cobra.Command, cfg *config.Config) {
	for _, c := range listConfiguredChannels(cfg) {
		status := "disabled"
		if c.enabled {
			status = "enabled"
			if !c.hasSecret {
				status = "enabled, missing token/secret"
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[INFO] channel %s: %s\n", c.name, status)
	}
}

func doctorReportGateway(cmd *cobra.Command, cfg *config.Config) {
	if cfg.Gateway.AllowPublicBind && cfg.Gateway.Host != "127.0.0.1" && cfg.Gateway.Host != "localhost" {
		fmt.Fprintf(cmd.OutOrStdout(), "[WARN] gateway: bound to %s with allow_public_bind=true\n", cfg.Gateway.Host)
	}
}
