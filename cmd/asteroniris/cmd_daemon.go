// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/logger"
	"github.com/asteroniris/asteroniris/pkg/supervisor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the full runtime: gateway, channels, scheduler, heartbeat",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus(256)
	sup, err := supervisor.New(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	logger.InfoCF("cli", "daemon starting", nil)
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}
