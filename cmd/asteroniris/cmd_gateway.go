// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/gateway"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start only the pairing-gated HTTP/websocket gateway",
	Long: `Starts the gateway's /health, /pair, /webhook, and /ws surface
without channels, scheduler, or heartbeat. Use 'daemon' to run the full
runtime.`,
	RunE: runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus(64)
	gw := gateway.New(cfg.Gateway, msgBus)
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	logger.InfoCF("cli", "gateway listening", map[string]interface{}{"host": cfg.Gateway.Host, "port": cfg.Gateway.Port})

	<-ctx.Done()
	return gw.Stop(context.Background())
}
