package memory

import "time"

// EventKind tags the semantics of a single append-only event.
type EventKind string

const (
	EventFactAdded          EventKind = "fact-added"
	EventFactUpdated        EventKind = "fact-updated"
	EventPreferenceSet      EventKind = "preference-set"
	EventPreferenceUnset    EventKind = "preference-unset"
	EventInferredClaim      EventKind = "inferred-claim"
	EventContradictionMark  EventKind = "contradiction-marked"
	EventSoftDeleted        EventKind = "soft-deleted"
	EventHardDeleted        EventKind = "hard-deleted"
	EventTombstoneWritten   EventKind = "tombstone-written"
	EventSummaryCompacted   EventKind = "summary-compacted"
)

// SourceKind classifies the provenance of a memory event's claim.
type SourceKind string

const (
	SourceExplicitUser   SourceKind = "explicit-user"
	SourceToolVerified   SourceKind = "tool-verified"
	SourceSystem         SourceKind = "system"
	SourceInferred       SourceKind = "inferred"
	SourceExternalPrimary   SourceKind = "external-primary"
	SourceExternalSecondary SourceKind = "external-secondary"
)

// sourcePriority gives the tie-break rank used during conflict resolution;
// lower is stronger. Order: explicit-user > tool-verified > system > inferred.
var sourcePriority = map[SourceKind]int{
	SourceExplicitUser:      0,
	SourceToolVerified:      1,
	SourceSystem:            2,
	SourceExternalPrimary:   3,
	SourceExternalSecondary: 4,
	SourceInferred:          5,
}

func priorityOf(s SourceKind) int {
	if p, ok := sourcePriority[s]; ok {
		return p
	}
	return len(sourcePriority)
}

// Layer is the memory layer an event/belief occupies.
type Layer string

const (
	LayerWorking    Layer = "working"
	LayerEpisodic   Layer = "episodic"
	LayerSemantic   Layer = "semantic"
	LayerProcedural Layer = "procedural"
	LayerIdentity   Layer = "identity"
)

// Privacy is the visibility class of an event/belief.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
	PrivacySecret  Privacy = "secret"
)

// SignalTier is the lifecycle stage of an externally observed signal.
type SignalTier string

const (
	TierRaw       SignalTier = "raw"
	TierCandidate SignalTier = "candidate"
	TierPromoted  SignalTier = "promoted"
	TierDemoted   SignalTier = "demoted"
)

// SourceOriginKind describes where a signal physically came from, distinct
// from SourceKind's trust classification.
type SourceOriginKind string

const (
	OriginDiscord SourceOriginKind = "discord"
	OriginX       SourceOriginKind = "x"
	OriginNews    SourceOriginKind = "news"
	OriginRSS     SourceOriginKind = "rss"
	OriginAPI     SourceOriginKind = "api"
	OriginManual  SourceOriginKind = "manual"
	OriginWebhook SourceOriginKind = "webhook"
	OriginTrend   SourceOriginKind = "trend"
)

// SlotStatus is the lifecycle status of a belief slot row.
type SlotStatus string

const (
	SlotActive       SlotStatus = "active"
	SlotSoftDeleted  SlotStatus = "soft-deleted"
	SlotHardDeleted  SlotStatus = "hard-deleted"
	SlotTombstoned   SlotStatus = "tombstoned"
)

// ForgetMode selects the strength of a forget operation.
type ForgetMode string

const (
	ForgetSoft      ForgetMode = "soft"
	ForgetHard      ForgetMode = "hard"
	ForgetTombstone ForgetMode = "tombstone"
)

// Event is an immutable record of an observation or claim.
type Event struct {
	ID                 int64
	EntityID           string
	SlotKey            string
	Kind               EventKind
	Value              string
	Source             SourceKind
	Confidence         float64
	Importance         float64
	Layer              Layer
	Privacy            Privacy
	SignalTier         SignalTier
	SourceOrigin       SourceOriginKind
	SourceRef          string
	LanguageTag        string
	IngestedAt         time.Time
	CreatedAt          time.Time
	RetentionExpiresAt *time.Time
}

// EventInput is the caller-supplied shape for AppendEvent, before
// normalization and validation.
type EventInput struct {
	EntityID           string
	SlotKey            string
	Kind               EventKind
	Value              string
	Source             SourceKind
	Confidence         float64
	Importance         float64
	Layer              Layer
	Privacy            Privacy
	SignalTier         SignalTier
	SourceOrigin       SourceOriginKind
	SourceRef          string
	LanguageTag        string
	RetentionExpiresAt *time.Time
}

// BeliefSlot is the current resolved value for an (entity, slot) pair.
type BeliefSlot struct {
	EntityID             string
	SlotKey              string
	WinningEventID       int64
	Status               SlotStatus
	ContradictionPenalty float64
	PromotionStatus      SignalTier
	UpdatedAt            time.Time
}

// RetrievalUnit is the projection consulted by recall.
type RetrievalUnit struct {
	CanonicalID     string
	EntityID        string
	SlotKey         string
	Content         string
	SignalTier      SignalTier
	SourceOrigin    SourceOriginKind
	Embedding       []float32
	PromotionStatus SignalTier
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecallQuery scopes a recall_scoped / recall_phased call.
type RecallQuery struct {
	EntityID string
	Slot     string
	Layer    Layer
	Privacy  Privacy
	Keywords string
	Vector   []float32
	Limit    int
}

// RecallItem is a single scored recall hit.
type RecallItem struct {
	Unit      RetrievalUnit
	Score     float64
	VecScore  float64
	KwScore   float64
}

// ForgetOutcome reports the result of a forget_slot call.
type ForgetOutcome struct {
	Applied bool
	Mode    ForgetMode
	Reason  string
}

// CapabilityMatrix declares what a backend honors natively vs. degraded.
type CapabilityMatrix struct {
	SupportsVectorRecall   bool
	SupportsKeywordRecall  bool
	SupportsSoftDelete     bool
	SupportsHardDelete     bool
	SupportsTombstone      bool
	Degraded               bool
	Notes                  string
}
