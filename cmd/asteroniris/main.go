// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

// Command asteroniris is the CLI dispatcher: a thin wrapper around the
// runtime packages in pkg/. It owns flag parsing, config loading, and
// process lifecycle (signals, exit codes) and nothing else.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

// Exit codes per the CLI surface contract: 0 success, 1 user error,
// 2 config invalid, 3 runtime failure.
const (
	exitOK            = 0
	exitUserError     = 1
	exitConfigInvalid = 2
	exitRuntimeError  = 3
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "asteroniris",
	Short: "AsteronIris - secure, multi-channel AI assistant runtime",
	Long: `AsteronIris runs a persona-bearing agent across chat channels, a
pairing-gated gateway, and a cron/self-task scheduler, backed by an
append-only memory ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Configure(logLevel, os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config.toml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(memoryCmd)
}

func main() {
	err := rootCmd.Execute()
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps a command error to the CLI's 0/1/2/3 exit-code contract.
// Commands that want a specific code wrap their error in errs.Error with
// the matching Kind; everything else surfaces as a runtime failure.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	switch errs.KindOf(err) {
	case errs.KindUser, errs.KindPolicy:
		return exitUserError
	case errs.KindData:
		return exitConfigInvalid
	default:
		return exitRuntimeError
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".asteroniris/config.toml"
	}
	return filepath.Join(home, ".asteroniris", "config.toml")
}

// loadConfig wraps config.LoadConfig so a malformed or undecryptable file
// surfaces as exit code 2 (config invalid) rather than 3 (runtime failure).
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "config load failed", err)
	}
	return cfg, nil
}
