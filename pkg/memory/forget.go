package memory

import (
	"database/sql"
	"time"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

// ForgetSlot applies a soft, hard, or tombstone forget to a belief slot.
//
// Soft: belief row status=soft-deleted; retrieval hides it; events remain.
// Hard: delete retrieval units, embedding-cache entries, and the belief row;
// the event ledger retains the trace.
// Tombstone: same as soft, but future writes to that slot are refused.
func (m *MemoryDB) ForgetSlot(entityID, slotKey string, mode ForgetMode, reason string) (ForgetOutcome, error) {
	entityID, slotKey, err := normalizeEntitySlot(entityID, slotKey)
	if err != nil {
		return ForgetOutcome{}, err
	}

	belief, err := m.ResolveSlot(entityID, slotKey)
	if err != nil {
		return ForgetOutcome{}, err
	}
	if belief == nil {
		return ForgetOutcome{Applied: false, Mode: mode, Reason: "no such belief slot"}, nil
	}
	if belief.Status == SlotTombstoned {
		return ForgetOutcome{Applied: false, Mode: mode, Reason: "slot already tombstoned"}, nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return ForgetOutcome{}, errs.Wrap(errs.KindData, "begin forget_slot", err)
	}
	defer tx.Rollback()

	canonicalID := entityID + "::" + slotKey
	now := time.Now().UTC().Format(sqliteTimeFormat)

	switch mode {
	case ForgetHard:
		if _, err := tx.Exec("DELETE FROM embedding_cache WHERE canonical_id = ?", canonicalID); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "hard forget embedding", err)
		}
		if _, err := tx.Exec("DELETE FROM retrieval_units WHERE canonical_id = ?", canonicalID); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "hard forget retrieval unit", err)
		}
		if _, err := tx.Exec("DELETE FROM retrieval_units_fts WHERE canonical_id = ?", canonicalID); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "hard forget fts", err)
		}
		if _, err := tx.Exec("DELETE FROM belief_slots WHERE entity_id = ? AND slot_key = ?", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "hard forget belief", err)
		}
		if err := m.insertLedgerMarkerTx(tx, entityID, slotKey, EventHardDeleted, reason); err != nil {
			return ForgetOutcome{}, err
		}
	case ForgetTombstone:
		if _, err := tx.Exec("UPDATE belief_slots SET status='tombstoned', updated_at=? WHERE entity_id=? AND slot_key=?", now, entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "tombstone belief", err)
		}
		if _, err := tx.Exec("UPDATE retrieval_units SET deleted=1, updated_at=? WHERE canonical_id=?", now, canonicalID); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "tombstone retrieval unit", err)
		}
		if err := m.insertLedgerMarkerTx(tx, entityID, slotKey, EventTombstoneWritten, reason); err != nil {
			return ForgetOutcome{}, err
		}
	default: // ForgetSoft
		mode = ForgetSoft
		if _, err := tx.Exec("UPDATE belief_slots SET status='soft-deleted', updated_at=? WHERE entity_id=? AND slot_key=?", now, entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "soft forget belief", err)
		}
		if _, err := tx.Exec("UPDATE retrieval_units SET deleted=1, updated_at=? WHERE canonical_id=?", now, canonicalID); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "soft forget retrieval unit", err)
		}
		if err := m.insertLedgerMarkerTx(tx, entityID, slotKey, EventSoftDeleted, reason); err != nil {
			return ForgetOutcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ForgetOutcome{}, errs.Wrap(errs.KindData, "commit forget_slot", err)
	}

	logger.InfoCF("memory", "slot forgotten", map[string]interface{}{
		"entity_id": entityID, "slot_key": slotKey, "mode": string(mode), "reason": reason,
	})
	return ForgetOutcome{Applied: true, Mode: mode, Reason: reason}, nil
}

func (m *MemoryDB) insertLedgerMarkerTx(tx *sql.Tx, entityID, slotKey string, kind EventKind, reason string) error {
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := tx.Exec(`
		INSERT INTO events (entity_id, slot_key, kind, value, source, confidence, importance,
			layer, privacy, signal_tier, source_origin, source_ref, language_tag, ingested_at, created_at)
		VALUES (?, ?, ?, ?, 'system', 0, 0, 'working', 'private', 'raw', 'manual', '', '', ?, ?)`,
		entityID, slotKey, string(kind), reason, now, now)
	if err != nil {
		return errs.Wrap(errs.KindData, "insert ledger marker", err)
	}
	return nil
}
