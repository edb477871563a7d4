// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/agent"
	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/errs"
)

var agentMessageFlag string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the agent loop for a single message, or interactively",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessageFlag, "message", "m", "", "single message to send; omit for REPL mode")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.GetAPIKey() == "" {
		return errs.New(errs.KindUser, "no provider API key configured; run 'asteroniris onboard' or set an ASTERONIRIS_PROVIDERS_*_API_KEY env var")
	}

	msgBus := bus.NewMessageBus(32)
	loop, err := agent.NewAgentLoop(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create agent loop: %w", err)
	}
	defer loop.Shutdown()

	ctx := cmd.Context()

	if agentMessageFlag != "" {
		resp, err := loop.ProcessDirect(ctx, agentMessageFlag, "cli")
		if err != nil {
			return fmt.Errorf("agent: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "asteroniris agent (type 'exit' to quit)")
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(cmd.OutOrStdout(), "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		resp, err := loop.ProcessDirect(ctx, input, "cli-repl")
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp)
	}
	return nil
}
