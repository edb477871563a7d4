package memory

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

// slotKeyPattern bounds belief slot keys to dotted lowercase paths, e.g.
// "pref.language" or "signal.discord.message".
var slotKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9_-]*)*$`)

const (
	maxEntityIDLen = 128
	maxSlotKeyLen  = 128
)

// normalizeEntitySlot lowercases and length-bounds the entity/slot pair,
// and rejects slot keys that don't match the dotted-path shape.
func normalizeEntitySlot(entityID, slotKey string) (string, string, error) {
	entityID = strings.ToLower(strings.TrimSpace(entityID))
	slotKey = strings.ToLower(strings.TrimSpace(slotKey))

	if entityID == "" || slotKey == "" {
		return "", "", errs.New(errs.KindData, "entity id and slot key are required")
	}
	if len(entityID) > maxEntityIDLen || len(slotKey) > maxSlotKeyLen {
		return "", "", errs.New(errs.KindData, "entity id or slot key exceeds length bound")
	}
	if !slotKeyPattern.MatchString(slotKey) {
		return "", "", errs.New(errs.KindData, "slot key must be a dotted lowercase path")
	}
	return entityID, slotKey, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// contradictionPenalty implements conf' = clamp(conf - (0.12 + 0.10*conf + 0.08*importance), 0, 1).
func contradictionPenalty(conf, importance float64) float64 {
	return clamp01(conf - (0.12 + 0.10*conf + 0.08*importance))
}

// AppendEvent validates shape, normalizes entity/slot names, resolves
// conflict against any existing belief for (entity, slot), writes the event,
// and updates the belief slot — all inside one transaction so readers never
// observe a partial state.
func (m *MemoryDB) AppendEvent(input EventInput) (*Event, error) {
	entityID, slotKey, err := normalizeEntitySlot(input.EntityID, input.SlotKey)
	if err != nil {
		return nil, err
	}
	if input.Kind == "" {
		input.Kind = EventFactAdded
	}
	input.Confidence = clamp01(input.Confidence)
	input.Importance = clamp01(input.Importance)
	if input.Layer == "" {
		input.Layer = LayerWorking
	}
	if input.Privacy == "" {
		input.Privacy = PrivacyPrivate
	}
	if input.SignalTier == "" {
		input.SignalTier = TierRaw
	}
	if input.SourceOrigin == "" {
		input.SourceOrigin = OriginManual
	}

	// manual is the only origin that represents a fact entered directly
	// rather than observed from an outside channel; api, discord, x, news,
	// rss, webhook, and trend are all externally-sourced per §3 and so all
	// require a source reference.
	isExternal := input.SourceOrigin != OriginManual
	if isExternal && strings.TrimSpace(input.SourceRef) == "" {
		return nil, errs.New(errs.KindData, "externally-sourced events require a non-empty source reference")
	}

	tx, err := m.db.Begin()
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "begin append_event transaction", err)
	}
	defer tx.Rollback()

	existing, err := m.lookupBeliefTx(tx, entityID, slotKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == SlotTombstoned {
		return nil, errs.New(errs.KindPolicy, "slot tombstoned")
	}

	now := time.Now().UTC()
	evt := Event{
		EntityID:     entityID,
		SlotKey:      slotKey,
		Kind:         input.Kind,
		Value:        input.Value,
		Source:       input.Source,
		Confidence:   input.Confidence,
		Importance:   input.Importance,
		Layer:        input.Layer,
		Privacy:      input.Privacy,
		SignalTier:   input.SignalTier,
		SourceOrigin: input.SourceOrigin,
		SourceRef:    input.SourceRef,
		LanguageTag:  input.LanguageTag,
		IngestedAt:   now,
		CreatedAt:    now,
	}
	if input.RetentionExpiresAt != nil {
		evt.RetentionExpiresAt = input.RetentionExpiresAt
	}

	eventID, err := m.insertEventTx(tx, evt)
	if err != nil {
		return nil, err
	}
	evt.ID = eventID

	winningEventID := eventID
	promotion := evt.SignalTier

	if existing != nil {
		accept, losingPenalty := resolveConflict(existing, &evt)
		if !accept {
			// Existing belief wins; this event is recorded for the trail but
			// does not become the new winner. Penalize the incoming claim,
			// but the penalty still lands on the surviving slot — it is the
			// slot's accumulated cost of being contradicted, not a property
			// of whichever event happened to win this round.
			winningEventID = existing.WinningEventID
			if losingPenalty > existing.ContradictionPenalty {
				existing.ContradictionPenalty = losingPenalty
			}
			if err := m.emitContradictionTx(tx, entityID, slotKey); err != nil {
				return nil, err
			}
			promotion, err = m.evaluatePromotionTx(tx, entityID, slotKey, existing.ContradictionPenalty, existing.Confidence)
			if err != nil {
				return nil, err
			}
			if err := m.upsertBeliefTx(tx, entityID, slotKey, winningEventID, existing.Status, existing.ContradictionPenalty, promotion); err != nil {
				return nil, err
			}
		} else {
			// Incoming event supersedes the existing belief; penalize the
			// loser using the superseded belief's own confidence and
			// importance. The new winning slot inherits that penalty — it
			// carries the scar of having overturned a prior belief, even
			// though the new value itself was never contradicted.
			penalty := contradictionPenalty(existing.Confidence, existing.Importance)
			if err := m.emitContradictionTx(tx, entityID, slotKey); err != nil {
				return nil, err
			}
			promotion, err = m.evaluatePromotionTx(tx, entityID, slotKey, penalty, evt.Confidence)
			if err != nil {
				return nil, err
			}
			if err := m.upsertBeliefTx(tx, entityID, slotKey, eventID, SlotActive, penalty, promotion); err != nil {
				return nil, err
			}
		}
	} else {
		promotion, err = m.evaluatePromotionTx(tx, entityID, slotKey, 0, evt.Confidence)
		if err != nil {
			return nil, err
		}
		if err := m.upsertBeliefTx(tx, entityID, slotKey, eventID, SlotActive, 0, promotion); err != nil {
			return nil, err
		}
	}

	if err := m.upsertRetrievalUnitTx(tx, entityID, slotKey, evt.Value, evt.SignalTier, evt.SourceOrigin, promotion); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.KindData, "commit append_event", err)
	}

	logger.DebugCF("memory", "event appended", map[string]interface{}{
		"entity_id": entityID, "slot_key": slotKey, "kind": string(evt.Kind),
	})
	return &evt, nil
}

// AppendInferenceEvent records a model-inferred claim: provenance is forced
// to "inferred" and confidence is capped at 0.70 regardless of caller input.
func (m *MemoryDB) AppendInferenceEvent(input EventInput) (*Event, error) {
	input.Source = SourceInferred
	input.Kind = EventInferredClaim
	if input.Confidence > 0.70 {
		input.Confidence = 0.70
	}
	return m.AppendEvent(input)
}

// AppendInferenceEvents records a batch of inference events, continuing past
// individual failures (data errors mark the specific record rejected, not
// the whole batch) and returning both the accepted events and failures.
func (m *MemoryDB) AppendInferenceEvents(inputs []EventInput) ([]*Event, []error) {
	var accepted []*Event
	var failures []error
	for _, in := range inputs {
		evt, err := m.AppendInferenceEvent(in)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		accepted = append(accepted, evt)
	}
	return accepted, failures
}

// resolveConflict decides whether the incoming event should become the
// belief slot's new winner, per the tie-break order: source priority first
// (lower number wins), then newer timestamp, then higher confidence.
// Returns (accept-incoming, penalty-to-apply-to-loser).
func resolveConflict(existing *beliefWithEvent, incoming *Event) (bool, float64) {
	ep := priorityOf(existing.Source)
	ip := priorityOf(incoming.Source)

	var incomingWins bool
	switch {
	case ip != ep:
		incomingWins = ip < ep
	case !incoming.CreatedAt.Equal(existing.EventCreatedAt):
		incomingWins = incoming.CreatedAt.After(existing.EventCreatedAt)
	default:
		incomingWins = incoming.Confidence > existing.Confidence
	}

	if incomingWins {
		return true, contradictionPenalty(existing.Confidence, existing.Importance)
	}
	return false, contradictionPenalty(incoming.Confidence, incoming.Importance)
}

// evaluatePromotionTx decides a belief's promotion_status on the
// raw/candidate/promoted/demoted ladder. Candidate requires either two
// independent source references or a single tool-verified source; promoted
// additionally requires no outstanding contradiction penalty and the
// winning confidence still above the decay floor. A penalty already past
// the demotion threshold overrides both and demotes outright, mirroring
// the same threshold the heartbeat uses in demoteHighPenaltyBeliefs.
func (m *MemoryDB) evaluatePromotionTx(tx *sql.Tx, entityID, slotKey string, penalty, winningConfidence float64) (SignalTier, error) {
	if penalty > demotionThreshold {
		return TierDemoted, nil
	}

	refs, err := m.countIndependentSourceRefsTx(tx, entityID, slotKey)
	if err != nil {
		return TierRaw, err
	}
	toolVerified, err := m.hasToolVerifiedEventTx(tx, entityID, slotKey)
	if err != nil {
		return TierRaw, err
	}

	eligible := refs >= minIndependentSourceRefs || toolVerified
	if !eligible {
		return TierRaw, nil
	}
	if penalty == 0 && winningConfidence >= decayFloor {
		return TierPromoted, nil
	}
	return TierCandidate, nil
}

// countIndependentSourceRefsTx counts the distinct non-empty source
// references observed for (entity, slot) across its full event history.
func (m *MemoryDB) countIndependentSourceRefsTx(tx *sql.Tx, entityID, slotKey string) (int, error) {
	var count int
	err := tx.QueryRow(`
		SELECT COUNT(DISTINCT source_ref) FROM events
		WHERE entity_id = ? AND slot_key = ? AND source_ref != ''`, entityID, slotKey).Scan(&count)
	if err != nil {
		return 0, errs.Wrap(errs.KindData, "count independent source refs", err)
	}
	return count, nil
}

// hasToolVerifiedEventTx reports whether any event for (entity, slot) was
// recorded with source=tool-verified.
func (m *MemoryDB) hasToolVerifiedEventTx(tx *sql.Tx, entityID, slotKey string) (bool, error) {
	var count int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM events WHERE entity_id = ? AND slot_key = ? AND source = ?`,
		entityID, slotKey, string(SourceToolVerified)).Scan(&count)
	if err != nil {
		return false, errs.Wrap(errs.KindData, "check tool-verified source", err)
	}
	return count > 0, nil
}

// beliefWithEvent joins a belief_slots row with its winning event's fields,
// which resolveConflict needs for the tie-break comparison.
type beliefWithEvent struct {
	BeliefSlot
	Source         SourceKind
	Confidence     float64
	Importance     float64
	EventCreatedAt time.Time
}

func (m *MemoryDB) lookupBeliefTx(tx *sql.Tx, entityID, slotKey string) (*beliefWithEvent, error) {
	row := tx.QueryRow(`
		SELECT b.winning_event_id, b.status, b.contradiction_penalty, b.promotion_status, b.updated_at,
			e.source, e.confidence, e.importance, e.created_at
		FROM belief_slots b JOIN events e ON e.id = b.winning_event_id
		WHERE b.entity_id = ? AND b.slot_key = ?`, entityID, slotKey)

	var bw beliefWithEvent
	var updatedAt, createdAt string
	err := row.Scan(&bw.WinningEventID, &bw.Status, &bw.ContradictionPenalty, &bw.PromotionStatus, &updatedAt,
		&bw.Source, &bw.Confidence, &bw.Importance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "lookup belief slot", err)
	}
	bw.EntityID = entityID
	bw.SlotKey = slotKey
	bw.UpdatedAt = parseTime(updatedAt)
	bw.EventCreatedAt = parseTime(createdAt)
	return &bw, nil
}

func (m *MemoryDB) insertEventTx(tx *sql.Tx, evt Event) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO events (entity_id, slot_key, kind, value, source, confidence, importance,
			layer, privacy, signal_tier, source_origin, source_ref, language_tag, ingested_at, created_at, retention_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.EntityID, evt.SlotKey, string(evt.Kind), evt.Value, string(evt.Source), evt.Confidence, evt.Importance,
		string(evt.Layer), string(evt.Privacy), string(evt.SignalTier), string(evt.SourceOrigin), evt.SourceRef,
		evt.LanguageTag, evt.IngestedAt.Format(sqliteTimeFormat), evt.CreatedAt.Format(sqliteTimeFormat), retentionArg(evt.RetentionExpiresAt))
	if err != nil {
		return 0, errs.Wrap(errs.KindData, "insert event", err)
	}
	return res.LastInsertId()
}

func retentionArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(sqliteTimeFormat)
}

func (m *MemoryDB) upsertBeliefTx(tx *sql.Tx, entityID, slotKey string, winningEventID int64, status SlotStatus, penalty float64, promotion SignalTier) error {
	_, err := tx.Exec(`
		INSERT INTO belief_slots (entity_id, slot_key, winning_event_id, status, contradiction_penalty, promotion_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, slot_key) DO UPDATE SET
			winning_event_id=excluded.winning_event_id,
			status=excluded.status,
			contradiction_penalty=excluded.contradiction_penalty,
			promotion_status=excluded.promotion_status,
			updated_at=excluded.updated_at`,
		entityID, slotKey, winningEventID, string(status), clamp01(penalty), string(promotion),
		time.Now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return errs.Wrap(errs.KindData, "upsert belief slot", err)
	}
	return nil
}

func (m *MemoryDB) emitContradictionTx(tx *sql.Tx, entityID, slotKey string) error {
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := tx.Exec(`
		INSERT INTO events (entity_id, slot_key, kind, value, source, confidence, importance,
			layer, privacy, signal_tier, source_origin, source_ref, language_tag, ingested_at, created_at)
		VALUES (?, ?, 'contradiction-marked', '', 'system', 0, 0, 'working', 'private', 'raw', 'manual', '', '', ?, ?)`,
		entityID, slotKey, now, now)
	if err != nil {
		return errs.Wrap(errs.KindData, "emit contradiction event", err)
	}
	return nil
}

func (m *MemoryDB) upsertRetrievalUnitTx(tx *sql.Tx, entityID, slotKey, content string, tier SignalTier, origin SourceOriginKind, promotion SignalTier) error {
	canonicalID := fmt.Sprintf("%s::%s", entityID, slotKey)
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := tx.Exec(`
		INSERT INTO retrieval_units (canonical_id, entity_id, slot_key, content, signal_tier, source_origin, promotion_status, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(canonical_id) DO UPDATE SET
			content=excluded.content,
			signal_tier=excluded.signal_tier,
			source_origin=excluded.source_origin,
			promotion_status=excluded.promotion_status,
			deleted=0,
			updated_at=excluded.updated_at`,
		canonicalID, entityID, slotKey, content, string(tier), string(origin), string(promotion), now, now)
	if err != nil {
		return errs.Wrap(errs.KindData, "upsert retrieval unit", err)
	}
	_, err = tx.Exec(`DELETE FROM retrieval_units_fts WHERE canonical_id = ?`, canonicalID)
	if err != nil {
		return errs.Wrap(errs.KindData, "clear retrieval unit fts", err)
	}
	_, err = tx.Exec(`INSERT INTO retrieval_units_fts (canonical_id, content) VALUES (?, ?)`, canonicalID, content)
	if err != nil {
		return errs.Wrap(errs.KindData, "index retrieval unit fts", err)
	}
	return nil
}

// ResolveSlot returns the current belief for (entity, slot), or nil if none
// exists or the slot has been hard-deleted.
func (m *MemoryDB) ResolveSlot(entityID, slotKey string) (*BeliefSlot, error) {
	entityID, slotKey, err := normalizeEntitySlot(entityID, slotKey)
	if err != nil {
		return nil, err
	}
	row := m.db.QueryRow(`
		SELECT entity_id, slot_key, winning_event_id, status, contradiction_penalty, promotion_status, updated_at
		FROM belief_slots WHERE entity_id = ? AND slot_key = ?`, entityID, slotKey)
	var b BeliefSlot
	var updatedAt string
	err = row.Scan(&b.EntityID, &b.SlotKey, &b.WinningEventID, &b.Status, &b.ContradictionPenalty, &b.PromotionStatus, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "resolve slot", err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// CountEvents returns the number of ledger events, optionally scoped to one
// entity.
func (m *MemoryDB) CountEvents(entityID string) int {
	var count int
	if entityID == "" {
		m.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
		return count
	}
	m.db.QueryRow("SELECT COUNT(*) FROM events WHERE entity_id = ?", strings.ToLower(strings.TrimSpace(entityID))).Scan(&count)
	return count
}
