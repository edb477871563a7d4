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

	"github.com/asteroniris/asteroniris/pkg/agent"
	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/channels"
	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Inspect or run a single channel adapter",
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured channels and their enabled state",
	RunE:  runChannelList,
}

var channelStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Run a single channel adapter standalone, routed through the agent loop",
	Args:  cobra.ExactArgs(1),
	RunE:  runChannelStart,
}

var channelDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check every configured channel for missing tokens or allow-lists",
	RunE:  runChannelDoctor,
}

func init() {
	channelCmd.AddCommand(channelListCmd, channelStartCmd, channelDoctorCmd)
}

type channelInfo struct {
	name      string
	enabled   bool
	hasSecret bool
}

// listConfiguredChannels reports the adapters this build actually wires
// (Telegram, Discord, Lark, and generic webhooks). WhatsApp, Feishu,
// MaixCam, QQ, and DingTalk are config-only placeholders with no adapter
// behind them yet.
func listConfiguredChannels(cfg *config.Config) []channelInfo {
	out := []channelInfo{
		{name: "telegram", enabled: cfg.Channels.Telegram.Enabled, hasSecret: cfg.Channels.Telegram.Token != ""},
		{name: "discord", enabled: cfg.Channels.Discord.Enabled, hasSecret: cfg.Channels.Discord.Token != ""},
	}
	if cfg.Channels.Lark.Name != "" || cfg.Channels.Lark.Enabled {
		out = append(out, channelInfo{name: "lark", enabled: cfg.Channels.Lark.Enabled, hasSecret: cfg.Channels.Lark.Secret != ""})
	}
	for _, wh := range cfg.Channels.Generic {
		out = append(out, channelInfo{name: wh.Name, enabled: wh.Enabled, hasSecret: wh.Secret != ""})
	}
	return out
}

func runChannelList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, c := range listConfiguredChannels(cfg) {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s enabled=%v\n", c.name, c.enabled)
	}
	return nil
}

func runChannelDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	issues := 0
	for _, c := range listConfiguredChannels(cfg) {
		if !c.enabled {
			continue
		}
		if !c.hasSecret {
			fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] %s: enabled but no token/secret set\n", c.name)
			issues++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[ OK ] %s\n", c.name)
	}
	if issues > 0 {
		return fmt.Errorf("channel doctor found %d issue(s)", issues)
	}
	return nil
}

// runChannelStart wires one channel adapter directly to the agent loop,
// bypassing the Supervisor's restart/circuit-breaker machinery — intended
// for foreground debugging of a single adapter.
func runChannelStart(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus(64)
	ch, err := buildNamedChannel(name, cfg, msgBus)
	if err != nil {
		return err
	}

	loop, err := agent.NewAgentLoop(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create agent loop: %w", err)
	}
	defer loop.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("start channel %s: %w", name, err)
	}
	defer ch.Stop(ctx)

	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("cli", "agent loop exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		for {
			msg, ok := msgBus.ConsumeOutbound(ctx)
			if !ok {
				return
			}
			if msg.Channel != name {
				continue
			}
			if err := ch.Send(ctx, msg); err != nil {
				logger.ErrorCF("cli", "channel send failed", map[string]interface{}{"channel": name, "error": err.Error()})
			}
		}
	}()

	logger.InfoCF("cli", "channel started", map[string]interface{}{"channel": name})
	<-ctx.Done()
	return nil
}

func buildNamedChannel(name string, cfg *config.Config, msgBus *bus.MessageBus) (channels.Channel, error) {
	switch name {
	case "telegram":
		return channels.NewTelegramChannel(cfg.Channels.Telegram, msgBus)
	case "discord":
		return channels.NewDiscordChannel(cfg.Channels.Discord, msgBus)
	case "lark":
		return channels.NewWebhookChannel(cfg.Channels.Lark, msgBus), nil
	default:
		for _, wh := range cfg.Channels.Generic {
			if wh.Name == name {
				return channels.NewWebhookChannel(wh, msgBus), nil
			}
		}
		return nil, errs.New(errs.KindUser, fmt.Sprintf("unknown channel %q", name))
	}
}
