// AsteronIris - secure multi-channel AI assistant runtime
// License: MIT
//
// Copyright (c) 2026 AsteronIris contributors

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

func TestMemoryHygieneRunsAndReports(t *testing.T) {
	setupCLIWorkspace(t)

	backend, err := openMemoryBackend()
	if err != nil {
		t.Fatalf("openMemoryBackend: %v", err)
	}
	if _, err := backend.AppendEvent(memory.EventInput{
		EntityID:     "alice",
		SlotKey:      "note.fact",
		Kind:         memory.EventFactAdded,
		Value:        "the sky is blue",
		Source:       memory.SourceExplicitUser,
		Confidence:   0.9,
		Importance:   0.5,
		Layer:        memory.LayerIdentity,
		Privacy:      memory.PrivacyPrivate,
		SignalTier:   memory.TierPromoted,
		SourceOrigin: memory.OriginManual,
	}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	backend.Close()

	var out bytes.Buffer
	memoryHygieneCmd.SetOut(&out)
	if err := runMemoryHygiene(memoryHygieneCmd, nil); err != nil {
		t.Fatalf("runMemoryHygiene: %v", err)
	}
	if !strings.Contains(out.String(), "soft_deleted=") {
		t.Errorf("unexpected hygiene output: %q", out.String())
	}
}

func TestMemoryStatsReportsEventCountAndSlot(t *testing.T) {
	setupCLIWorkspace(t)

	backend, err := openMemoryBackend()
	if err != nil {
		t.Fatalf("openMemoryBackend: %v", err)
	}
	if _, err := backend.AppendEvent(memory.EventInput{
		EntityID:     "alice",
		SlotKey:      "note.fact",
		Kind:         memory.EventFactAdded,
		Value:        "the sky is blue",
		Source:       memory.SourceExplicitUser,
		Confidence:   0.9,
		Importance:   0.5,
		Layer:        memory.LayerIdentity,
		Privacy:      memory.PrivacyPrivate,
		SignalTier:   memory.TierPromoted,
		SourceOrigin: memory.OriginManual,
	}); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	backend.Close()

	oldEntity, oldSlot := memoryStatsEntity, memoryStatsSlot
	memoryStatsEntity = "alice"
	memoryStatsSlot = "note.fact"
	defer func() { memoryStatsEntity, memoryStatsSlot = oldEntity, oldSlot }()

	var out bytes.Buffer
	memoryStatsCmd.SetOut(&out)
	if err := runMemoryStats(memoryStatsCmd, nil); err != nil {
		t.Fatalf("runMemoryStats: %v", err)
	}
	if !strings.Contains(out.String(), "events=1") {
		t.Errorf("expected event count in output, got %q", out.String())
	}
	if !strings.Contains(out.String(), "slot=note.fact") {
		t.Errorf("expected slot report in output, got %q", out.String())
	}
}

func TestMemoryStatsUnknownSlotReportsNoBelief(t *testing.T) {
	setupCLIWorkspace(t)

	oldEntity, oldSlot := memoryStatsEntity, memoryStatsSlot
	memoryStatsEntity = "ghost"
	memoryStatsSlot = "note.missing"
	defer func() { memoryStatsEntity, memoryStatsSlot = oldEntity, oldSlot }()

	var out bytes.Buffer
	memoryStatsCmd.SetOut(&out)
	if err := runMemoryStats(memoryStatsCmd, nil); err != nil {
		t.Fatalf("runMemoryStats: %v", err)
	}
	if !strings.Contains(out.String(), "no belief recorded") {
		t.Errorf("expected no-belief message, got %q", out.String())
	}
}
