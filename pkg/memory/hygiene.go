package memory

import (
	"time"

	"github.com/asteroniris/asteroniris/pkg/logger"
)

// HygieneReport summarizes one heartbeat hygiene pass over the event/belief
// store, for diagnostics and the observability layer.
type HygieneReport struct {
	SoftDeleted        int
	HardDeleted        int
	RawDemoted         int
	TrendDemoted       int
	ContradictionRatio float64
	SLOViolation       bool
}

const (
	retentionWorkingDays  = 2
	retentionEpisodicDays = 30
	softDeleteGraceDays   = 7
	contradictionSLO      = 0.15
	demotionThreshold     = 0.5
	trendStaleDays        = 30

	// minIndependentSourceRefs and decayFloor gate the raw -> candidate ->
	// promoted ladder in events.go's evaluatePromotionTx.
	minIndependentSourceRefs = 2
	decayFloor               = 0.3
)

// RunHygiene performs the heartbeat maintenance pass over the event/belief
// store: retention-floor expiry, raw/trend demotion, and contradiction-ratio
// monitoring.
func (m *MemoryDB) RunHygiene() (HygieneReport, error) {
	var report HygieneReport

	soft, err := m.sweepExpiredUnits()
	if err != nil {
		return report, err
	}
	report.SoftDeleted = soft

	hard, err := m.hardDeleteGraced()
	if err != nil {
		return report, err
	}
	report.HardDeleted = hard

	raw, err := m.demoteUnreliableRaw()
	if err != nil {
		return report, err
	}
	report.RawDemoted = raw

	trend, err := m.demoteStaleTrend()
	if err != nil {
		return report, err
	}
	report.TrendDemoted = trend

	ratio, err := m.contradictionRatio()
	if err != nil {
		return report, err
	}
	report.ContradictionRatio = ratio
	report.SLOViolation = ratio > contradictionSLO

	if report.SLOViolation {
		logger.WarnCF("memory", "contradiction ratio exceeds SLO", map[string]interface{}{
			"ratio": ratio, "threshold": contradictionSLO,
		})
	}

	if err := m.demoteHighPenaltyBeliefs(); err != nil {
		return report, err
	}

	return report, nil
}

// sweepExpiredUnits marks retrieval units past their retention floor (based
// on layer) as soft-deleted.
func (m *MemoryDB) sweepExpiredUnits() (int, error) {
	now := time.Now().UTC()
	workingCutoff := now.AddDate(0, 0, -retentionWorkingDays).Format(sqliteTimeFormat)
	episodicCutoff := now.AddDate(0, 0, -retentionEpisodicDays).Format(sqliteTimeFormat)

	res, err := m.db.Exec(`
		UPDATE retrieval_units SET deleted = 1
		WHERE deleted = 0 AND canonical_id IN (
			SELECT ru.canonical_id FROM retrieval_units ru
			JOIN events e ON e.entity_id = ru.entity_id AND e.slot_key = ru.slot_key
			WHERE (e.layer = 'working' AND ru.updated_at < ?)
			   OR (e.layer = 'episodic' AND ru.updated_at < ?)
		)`, workingCutoff, episodicCutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

// hardDeleteGraced permanently removes retrieval units that have been
// soft-deleted for longer than the grace period.
func (m *MemoryDB) hardDeleteGraced() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -softDeleteGraceDays).Format(sqliteTimeFormat)
	res, err := m.db.Exec(`DELETE FROM retrieval_units WHERE deleted = 1 AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

// demoteUnreliableRaw bulk-demotes raw-tier units below a reliability floor.
// Reliability is approximated here by the winning event's confidence, since
// the reference backend has no separate reliability column.
func (m *MemoryDB) demoteUnreliableRaw() (int, error) {
	res, err := m.db.Exec(`
		UPDATE retrieval_units SET promotion_status = 'demoted'
		WHERE signal_tier = 'raw' AND promotion_status != 'demoted' AND canonical_id IN (
			SELECT ru.canonical_id FROM retrieval_units ru
			JOIN belief_slots b ON b.entity_id = ru.entity_id AND b.slot_key = ru.slot_key
			JOIN events e ON e.id = b.winning_event_id
			WHERE e.confidence < 0.3
		)`)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

// demoteStaleTrend demotes trend.* snapshots older than the staleness
// window, exempting the identity layer (governance tier).
func (m *MemoryDB) demoteStaleTrend() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -trendStaleDays).Format(sqliteTimeFormat)
	res, err := m.db.Exec(`
		UPDATE retrieval_units SET promotion_status = 'demoted'
		WHERE source_origin = 'trend' AND updated_at < ? AND promotion_status != 'demoted'
		  AND canonical_id NOT IN (
			SELECT ru.canonical_id FROM retrieval_units ru
			JOIN events e ON e.entity_id = ru.entity_id AND e.slot_key = ru.slot_key
			WHERE e.layer = 'identity'
		  )`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := res.RowsAffected()
	return int(rows), nil
}

// contradictionRatio computes contradiction-marked events as a fraction of
// all events, for SLO monitoring.
func (m *MemoryDB) contradictionRatio() (float64, error) {
	var total, contradictions int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	if err := m.db.QueryRow("SELECT COUNT(*) FROM events WHERE kind = 'contradiction-marked'").Scan(&contradictions); err != nil {
		return 0, err
	}
	return float64(contradictions) / float64(total), nil
}

// demoteHighPenaltyBeliefs demotes belief rows whose cumulative contradiction
// penalty exceeds the configured threshold.
func (m *MemoryDB) demoteHighPenaltyBeliefs() error {
	_, err := m.db.Exec(`UPDATE belief_slots SET promotion_status = 'demoted' WHERE contradiction_penalty > ?`, demotionThreshold)
	return err
}
