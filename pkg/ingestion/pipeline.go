package ingestion

import (
	"strings"
	"sync"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
	"github.com/asteroniris/asteroniris/pkg/memory"
)

// topicFallback maps a source kind to the topic assigned when classify has
// nothing more specific to go on.
var topicFallback = map[memory.SourceOriginKind]string{
	memory.OriginDiscord: "community",
	memory.OriginNews:    "editorial",
	memory.OriginRSS:     "editorial",
	memory.OriginX:       "social",
	memory.OriginAPI:     "data",
	memory.OriginManual:  "general",
	memory.OriginWebhook: "platform",
	memory.OriginTrend:   "trend",
}

var riskPatterns = map[string]string{
	"financial_advice": "(?i)\\b(buy|sell)\\s+(now|today)\\b.*\\b(stock|crypto|coin)\\b",
	"medical_claim":    "(?i)\\bcure[sd]?\\b.*\\b(cancer|disease)\\b",
}

// Counters tracks the ingest/dedup-drop metrics spec.md names, grounded on
// the cost tracker's in-memory counter-map shape rather than pulling in a
// full metrics client — ObservabilityConfig.Backend selects whether these
// are exported anywhere.
type Counters struct {
	mu         sync.Mutex
	ingested   map[memory.SourceOriginKind]int64
	dedupDrops map[memory.SourceOriginKind]int64
}

func NewCounters() *Counters {
	return &Counters{
		ingested:   make(map[memory.SourceOriginKind]int64),
		dedupDrops: make(map[memory.SourceOriginKind]int64),
	}
}

func (c *Counters) recordIngest(kind memory.SourceOriginKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingested[kind]++
}

func (c *Counters) recordDedupDrop(kind memory.SourceOriginKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dedupDrops[kind]++
}

func (c *Counters) Snapshot() (ingested, dedupDrops map[memory.SourceOriginKind]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ingested = make(map[memory.SourceOriginKind]int64, len(c.ingested))
	for k, v := range c.ingested {
		ingested[k] = v
	}
	dedupDrops = make(map[memory.SourceOriginKind]int64, len(c.dedupDrops))
	for k, v := range c.dedupDrops {
		dedupDrops[k] = v
	}
	return
}

// Pipeline runs envelope → normalize → classify → dedup → append for every
// external signal entering memory.
type Pipeline struct {
	backend  memory.Backend
	counters *Counters
}

func NewPipeline(backend memory.Backend, counters *Counters) *Pipeline {
	if counters == nil {
		counters = NewCounters()
	}
	return &Pipeline{backend: backend, counters: counters}
}

// Classify assigns a fallback topic (if none was supplied) and a set of
// risk flags from simple rule-based pattern matching.
func (p *Pipeline) classify(e *Envelope) {
	if e.Topic == "" {
		if fallback, ok := topicFallback[e.SourceKind]; ok {
			e.Topic = fallback
		} else {
			e.Topic = "general"
		}
	}
	lower := strings.ToLower(e.Content)
	for flag, needle := range riskPatterns {
		if strings.Contains(lower, strings.ToLower(needle)) {
			e.RiskFlags = append(e.RiskFlags, flag)
		}
	}
}

// exists reports whether memory already has an event for this
// (source_kind, source_ref) pair — the dedup key. Same content across a
// different source_kind or entity is deliberately NOT treated as a
// duplicate.
func (p *Pipeline) exists(entityID string, e *Envelope) (bool, error) {
	res, err := p.backend.RecallScoped(memory.RecallQuery{
		EntityID: entityID,
		Slot:     dedupSlotKey(e.SourceKind, e.SourceRef),
		Limit:    1,
	})
	if err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

func dedupSlotKey(kind memory.SourceOriginKind, ref string) string {
	return "ingest:" + string(kind) + ":" + ref
}

// Ingest runs one signal through the full pipeline and, unless dropped as a
// duplicate, appends it to memory at the raw signal tier.
func (p *Pipeline) Ingest(entityID string, e *Envelope) (*memory.Event, error) {
	if err := e.Normalize(); err != nil {
		return nil, err
	}
	p.classify(e)

	dup, err := p.exists(entityID, e)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "ingestion: dedup lookup failed", err)
	}
	if dup {
		p.counters.recordDedupDrop(e.SourceKind)
		logger.DebugCF("ingestion", "dropped duplicate signal", map[string]interface{}{
			"source_kind": e.SourceKind, "source_ref": e.SourceRef,
		})
		return nil, nil
	}

	event, err := p.backend.AppendEvent(memory.EventInput{
		EntityID:     entityID,
		SlotKey:      dedupSlotKey(e.SourceKind, e.SourceRef),
		Kind:         memory.EventFactAdded,
		Value:        e.Content,
		Source:       memory.SourceExternalSecondary,
		Layer:        memory.LayerEpisodic,
		Privacy:      memory.PrivacyPublic,
		SignalTier:   memory.TierRaw,
		SourceOrigin: e.SourceKind,
		SourceRef:    e.SourceRef,
		LanguageTag:  e.Lang,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "ingestion: append failed", err)
	}

	p.counters.recordIngest(e.SourceKind)
	return event, nil
}
