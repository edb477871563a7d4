package ingestion

import (
	"testing"

	"github.com/asteroniris/asteroniris/pkg/memory"
)

// fakeBackend is a minimal in-memory memory.Backend stand-in, tracking only
// what the pipeline exercises: AppendEvent and RecallScoped by slot key.
type fakeBackend struct {
	memory.NoneBackend
	bySlot map[string][]memory.RecallItem
	events []memory.EventInput
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{bySlot: make(map[string][]memory.RecallItem)}
}

func (f *fakeBackend) AppendEvent(input memory.EventInput) (*memory.Event, error) {
	f.events = append(f.events, input)
	f.bySlot[input.SlotKey] = append(f.bySlot[input.SlotKey], memory.RecallItem{
		Unit: memory.RetrievalUnit{EntityID: input.EntityID, SlotKey: input.SlotKey, Content: input.Value},
	})
	return &memory.Event{EntityID: input.EntityID, SlotKey: input.SlotKey, Value: input.Value}, nil
}

func (f *fakeBackend) RecallScoped(q memory.RecallQuery) ([]memory.RecallItem, error) {
	return f.bySlot[q.Slot], nil
}

func TestPipeline_IngestAppendsAtRawTier(t *testing.T) {
	backend := newFakeBackend()
	p := NewPipeline(backend, nil)

	env, err := NewEnvelope("breaking news happened", memory.OriginNews, "article-42", "reporter", "", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event, err := p.Ingest("entity-1", env)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if event == nil {
		t.Fatalf("expected event, got nil")
	}
	if len(backend.events) != 1 {
		t.Fatalf("expected 1 appended event, got %d", len(backend.events))
	}
	if backend.events[0].SignalTier != memory.TierRaw {
		t.Fatalf("expected TierRaw, got %v", backend.events[0].SignalTier)
	}
	if backend.events[0].SourceOrigin != memory.OriginNews {
		t.Fatalf("expected OriginNews, got %v", backend.events[0].SourceOrigin)
	}
}

func TestPipeline_Classify_AppliesFallbackTopicByOrigin(t *testing.T) {
	backend := newFakeBackend()
	p := NewPipeline(backend, nil)

	env, err := NewEnvelope("hello there", memory.OriginDiscord, "msg-1", "", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Ingest("entity-1", env); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if env.Topic != "community" {
		t.Fatalf("expected fallback topic community for discord, got %q", env.Topic)
	}
}

func TestPipeline_DedupDropsSameSourceRef(t *testing.T) {
	backend := newFakeBackend()
	counters := NewCounters()
	p := NewPipeline(backend, counters)

	env1, _ := NewEnvelope("first draft", memory.OriginRSS, "feed-item-1", "", "", "")
	env2, _ := NewEnvelope("second draft", memory.OriginRSS, "feed-item-1", "", "", "")

	if _, err := p.Ingest("entity-1", env1); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	event, err := p.Ingest("entity-1", env2)
	if err != nil {
		t.Fatalf("second ingest returned error instead of dedup drop: %v", err)
	}
	if event != nil {
		t.Fatalf("expected nil event for duplicate source_ref, got %+v", event)
	}
	if len(backend.events) != 1 {
		t.Fatalf("expected only the first event to be appended, got %d", len(backend.events))
	}

	_, dedupDrops := counters.Snapshot()
	if dedupDrops[memory.OriginRSS] != 1 {
		t.Fatalf("expected 1 dedup drop recorded for rss, got %d", dedupDrops[memory.OriginRSS])
	}
}

func TestPipeline_SameContentDifferentSourceKindIsNotADuplicate(t *testing.T) {
	backend := newFakeBackend()
	p := NewPipeline(backend, nil)

	env1, _ := NewEnvelope("identical text", memory.OriginDiscord, "ref-a", "", "", "")
	env2, _ := NewEnvelope("identical text", memory.OriginX, "ref-a", "", "", "")

	if _, err := p.Ingest("entity-1", env1); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	event, err := p.Ingest("entity-1", env2)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if event == nil {
		t.Fatalf("expected distinct source_kind to not be deduplicated")
	}
	if len(backend.events) != 2 {
		t.Fatalf("expected both events appended, got %d", len(backend.events))
	}
}
