// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/config"
)

// onboard is a thin wizard stub: it lays down a default config and
// workspace directory so 'agent'/'daemon' have somewhere to start from.
// The interactive provider-selection/channel-pairing wizard itself is out
// of scope for this runtime.
var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config and create the workspace directory",
	RunE:  runOnboard,
}

func runOnboard(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "config already exists: %s\n", configPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(configPath, cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote default config: %s\n", configPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws := cfg.WorkspacePath()
	if err := os.MkdirAll(filepath.Join(ws, "state"), 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workspace ready: %s\n", ws)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext: 'asteroniris auth login <provider>' to set an API key.")
	return nil
}
