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

	"github.com/asteroniris/asteroniris/pkg/config"
	"github.com/asteroniris/asteroniris/pkg/errs"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Inspect or set provider API keys",
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers and their key status",
	RunE:  runAuthList,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active provider and model",
	RunE:  runAuthStatus,
}

var authLoginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Set (or update) a provider's API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthLogin,
}

func init() {
	authCmd.AddCommand(authListCmd, authStatusCmd, authLoginCmd)
}

func maskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) <= 8 {
		return "set"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func runAuthList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for name, p := range cfg.Providers.NamedProviders() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, maskKey(p.APIKey))
	}
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider := cfg.Agents.Defaults.Provider
	fmt.Fprintf(cmd.OutOrStdout(), "Active provider: %s\n", provider)
	fmt.Fprintf(cmd.OutOrStdout(), "Active model: %s\n", cfg.Agents.Defaults.Model)
	fmt.Fprintf(cmd.OutOrStdout(), "API key: %s\n", maskKey(cfg.GetAPIKey()))
	return nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API key for %s: ", name)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, _ := reader.ReadString('\n')
	key := strings.TrimSpace(line)
	if key == "" {
		return errs.New(errs.KindUser, "no key entered")
	}

	if err := setProviderAPIKey(cfg, name, key); err != nil {
		return err
	}

	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s API key to %s\n", name, configPath)
	return nil
}

// setProviderAPIKey assigns directly into cfg.Providers rather than through
// GetProviderConfig, whose NamedProviders map is built from a by-value
// receiver and so returns pointers into a disconnected copy — fine for
// reads, not for writes.
func setProviderAPIKey(cfg *config.Config, name, key string) error {
	switch name {
	case "anthropic":
		cfg.Providers.Anthropic.APIKey = key
	case "openai":
		cfg.Providers.OpenAI.APIKey = key
	case "openrouter":
		cfg.Providers.OpenRouter.APIKey = key
	case "groq":
		cfg.Providers.Groq.APIKey = key
	case "zhipu":
		cfg.Providers.Zhipu.APIKey = key
	case "vllm":
		cfg.Providers.VLLM.APIKey = key
	case "gemini":
		cfg.Providers.Gemini.APIKey = key
	case "nvidia":
		cfg.Providers.Nvidia.APIKey = key
	default:
		return errs.New(errs.KindUser, fmt.Sprintf("unknown provider %q", name))
	}
	return nil
}
