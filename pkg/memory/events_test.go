package memory

import (
	"testing"
)

func openTestDB(t *testing.T) *MemoryDB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendEvent_StaysRawWithoutIndependentRefs(t *testing.T) {
	db := openTestDB(t)

	evt, err := db.AppendEvent(EventInput{
		EntityID:     "feed:rss:example",
		SlotKey:      "belief.topic.sentiment",
		Source:       SourceExternalPrimary,
		SourceOrigin: OriginRSS,
		SourceRef:    "https://example.com/a",
		Confidence:   0.8,
		Importance:   0.5,
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	_ = evt

	slot, err := db.ResolveSlot("feed:rss:example", "belief.topic.sentiment")
	if err != nil {
		t.Fatalf("resolve slot: %v", err)
	}
	if slot == nil {
		t.Fatal("expected a belief slot to exist")
	}
	if slot.PromotionStatus != TierRaw {
		t.Errorf("expected raw tier with a single source ref, got %q", slot.PromotionStatus)
	}
}

func TestAppendEvent_PromotesToCandidateWithTwoIndependentRefs(t *testing.T) {
	db := openTestDB(t)

	input := EventInput{
		EntityID:     "feed:rss:example",
		SlotKey:      "belief.topic.sentiment",
		Source:       SourceExternalPrimary,
		SourceOrigin: OriginRSS,
		SourceRef:    "https://example.com/a",
		Confidence:   0.6,
		Importance:   0.3,
	}
	if _, err := db.AppendEvent(input); err != nil {
		t.Fatalf("append first event: %v", err)
	}

	input.SourceRef = "https://example.com/b"
	input.Confidence = 0.6
	if _, err := db.AppendEvent(input); err != nil {
		t.Fatalf("append second event: %v", err)
	}

	slot, err := db.ResolveSlot("feed:rss:example", "belief.topic.sentiment")
	if err != nil {
		t.Fatalf("resolve slot: %v", err)
	}
	if slot.PromotionStatus != TierCandidate && slot.PromotionStatus != TierPromoted {
		t.Errorf("expected candidate or promoted tier with two independent source refs, got %q", slot.PromotionStatus)
	}
}

func TestAppendEvent_PromotesOnSingleToolVerifiedSource(t *testing.T) {
	db := openTestDB(t)

	_, err := db.AppendEvent(EventInput{
		EntityID:     "user:alice",
		SlotKey:      "pref.timezone",
		Source:       SourceToolVerified,
		SourceOrigin: OriginAPI,
		SourceRef:    "calendar-api:tz-lookup-1",
		Confidence:   0.9,
		Importance:   0.4,
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}

	slot, err := db.ResolveSlot("user:alice", "pref.timezone")
	if err != nil {
		t.Fatalf("resolve slot: %v", err)
	}
	if slot.PromotionStatus != TierPromoted {
		t.Errorf("expected a single tool-verified source with no contradiction to promote, got %q", slot.PromotionStatus)
	}
}

func TestAppendEvent_ContradictionBlocksPromotion(t *testing.T) {
	db := openTestDB(t)

	base := EventInput{
		EntityID:     "feed:rss:example",
		SlotKey:      "belief.topic.sentiment",
		Source:       SourceExternalPrimary,
		SourceOrigin: OriginRSS,
		Confidence:   0.6,
		Importance:   0.3,
	}
	base.SourceRef = "https://example.com/a"
	if _, err := db.AppendEvent(base); err != nil {
		t.Fatalf("append first event: %v", err)
	}
	base.SourceRef = "https://example.com/b"
	if _, err := db.AppendEvent(base); err != nil {
		t.Fatalf("append second event: %v", err)
	}

	// A later conflicting claim with equal priority and a later timestamp
	// supersedes the belief and books a contradiction penalty against it.
	conflicting := base
	conflicting.SourceRef = "https://example.com/c"
	conflicting.Value = "a different claim"
	if _, err := db.AppendEvent(conflicting); err != nil {
		t.Fatalf("append conflicting event: %v", err)
	}

	slot, err := db.ResolveSlot("feed:rss:example", "belief.topic.sentiment")
	if err != nil {
		t.Fatalf("resolve slot: %v", err)
	}
	if slot.ContradictionPenalty <= 0 {
		t.Fatalf("expected a nonzero contradiction penalty, got %v", slot.ContradictionPenalty)
	}
	if slot.PromotionStatus == TierPromoted {
		t.Errorf("expected an active contradiction to block promotion, got %q", slot.PromotionStatus)
	}
}

func TestAppendEvent_ExternalOriginRequiresSourceRef(t *testing.T) {
	db := openTestDB(t)

	_, err := db.AppendEvent(EventInput{
		EntityID:     "feed:api:weather",
		SlotKey:      "signal.weather.current",
		Source:       SourceExternalPrimary,
		SourceOrigin: OriginAPI,
		Confidence:   0.5,
	})
	if err == nil {
		t.Fatal("expected an api-origin event without a source ref to be rejected")
	}
}

func TestAppendEvent_ManualOriginAllowsEmptySourceRef(t *testing.T) {
	db := openTestDB(t)

	_, err := db.AppendEvent(EventInput{
		EntityID:   "user:alice",
		SlotKey:    "pref.language",
		Source:     SourceExplicitUser,
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("expected a manual-origin event without a source ref to be accepted, got %v", err)
	}
}
