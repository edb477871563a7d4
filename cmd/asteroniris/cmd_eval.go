// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/agent"
	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/utils"
)

var evalFile string

// evalCase is one line of an eval fixture file: a prompt and a substring
// the agent's reply must contain to count as a pass.
type evalCase struct {
	Prompt   string `json:"prompt"`
	Contains string `json:"contains"`
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Replay a fixture file of prompts through the agent loop and report pass/fail",
	RunE:  runEval,
}

func init() {
	evalCmd.Flags().StringVar(&evalFile, "file", "", "JSONL file of {\"prompt\":..., \"contains\":...} fixtures (required)")
}

func runEval(cmd *cobra.Command, args []string) error {
	if evalFile == "" {
		return errs.New(errs.KindUser, "--file is required")
	}
	cases, err := loadEvalCases(evalFile)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return errs.New(errs.KindUser, "fixture file has no cases")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	msgBus := bus.NewMessageBus(32)
	loop, err := agent.NewAgentLoop(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create agent loop: %w", err)
	}
	defer loop.Shutdown()

	ctx := cmd.Context()
	passed := 0
	for i, c := range cases {
		resp, err := loop.ProcessDirect(ctx, c.Prompt, fmt.Sprintf("eval-%d", i))
		ok := err == nil && strings.Contains(resp, c.Contains)
		if ok {
			passed++
			fmt.Fprintf(cmd.OutOrStdout(), "[PASS] %s\n", utils.Truncate(c.Prompt, 80))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] %s\n", utils.Truncate(c.Prompt, 80))
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "       error: %v\n", err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "       expected to contain %q, got %q\n", c.Contains, utils.Truncate(resp, 80))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d passed\n", passed, len(cases))
	if passed != len(cases) {
		return fmt.Errorf("eval: %d case(s) failed", len(cases)-passed)
	}
	return nil
}

func loadEvalCases(path string) ([]evalCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture file: %w", err)
	}
	defer f.Close()

	var cases []evalCase
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var c evalCase
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("parse fixture line: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, scanner.Err()
}
