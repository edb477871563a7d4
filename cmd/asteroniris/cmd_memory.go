// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the memory backend",
}

var memoryStatsEntity string
var memoryStatsSlot string

var memoryHygieneCmd = &cobra.Command{
	Use:   "hygiene",
	Short: "Run the retention/demotion/contradiction sweep now",
	RunE:  runMemoryHygiene,
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event counts and belief slot state for an entity",
	RunE:  runMemoryStats,
}

func init() {
	memoryStatsCmd.Flags().StringVar(&memoryStatsEntity, "entity", "", "entity id to report on (required)")
	memoryStatsCmd.Flags().StringVar(&memoryStatsSlot, "slot", "", "also resolve this belief slot for the entity")
	memoryStatsCmd.MarkFlagRequired("entity")

	memoryCmd.AddCommand(memoryHygieneCmd, memoryStatsCmd)
}

func openMemoryBackend() (memory.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	workspace := cfg.WorkspacePath()
	backend, err := memory.OpenBackend(memory.BackendConfig{
		Kind:                memory.BackendKind(cfg.Memory.Backend),
		Workspace:           workspace,
		PostgresDSN:         cfg.Memory.PostgresDSN,
		EmbeddingDimensions: cfg.Memory.EmbeddingDimensions,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "open memory backend failed", err)
	}
	return backend, nil
}

func runMemoryHygiene(cmd *cobra.Command, args []string) error {
	backend, err := openMemoryBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	report, err := backend.RunHygiene()
	if err != nil {
		return errs.Wrap(errs.KindData, "hygiene sweep failed", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "soft_deleted=%d hard_deleted=%d raw_demoted=%d trend_demoted=%d contradiction_ratio=%.3f slo_violation=%v\n",
		report.SoftDeleted, report.HardDeleted, report.RawDemoted, report.TrendDemoted, report.ContradictionRatio, report.SLOViolation)
	return nil
}

func runMemoryStats(cmd *cobra.Command, args []string) error {
	backend, err := openMemoryBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	count := backend.CountEvents(memoryStatsEntity)
	fmt.Fprintf(cmd.OutOrStdout(), "entity=%s events=%d\n", memoryStatsEntity, count)

	if memoryStatsSlot == "" {
		return nil
	}
	slot, err := backend.ResolveSlot(memoryStatsEntity, memoryStatsSlot)
	if err != nil {
		return errs.Wrap(errs.KindData, "resolve belief slot failed", err)
	}
	if slot == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "slot=%s: no belief recorded\n", memoryStatsSlot)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "slot=%s status=%s promotion=%s updated_at=%s\n",
		memoryStatsSlot, slot.Status, slot.PromotionStatus, slot.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
