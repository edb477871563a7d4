package memory

import (
	"database/sql"
	"math"
	"strings"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

const (
	defaultVecWeight = 0.7
	defaultKwWeight  = 0.3
)

// RecallScoped performs entity/slot/layer/privacy-filtered recall, blending
// BM25 keyword rank with cosine vector similarity per the hybrid formula:
// score = w_vec*cos_sim(v_q, v_unit) + w_kw*norm(BM25).
func (m *MemoryDB) RecallScoped(q RecallQuery) ([]RecallItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	candidates, err := m.fetchCandidates(q, limit*3)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	bm25ByID := map[string]float64{}
	if strings.TrimSpace(q.Keywords) != "" {
		bm25ByID, err = m.bm25Scores(q.Keywords, candidates)
		if err != nil {
			return nil, err
		}
	}
	bm25Norm := minMaxNormalize(bm25ByID)

	items := make([]RecallItem, 0, len(candidates))
	for _, c := range candidates {
		kw := bm25Norm[c.CanonicalID]
		var vec float64
		if len(q.Vector) > 0 && len(c.Embedding) > 0 {
			vec = cosineSimilarity(q.Vector, c.Embedding)
		}
		score := defaultVecWeight*vec + defaultKwWeight*kw
		items = append(items, RecallItem{Unit: c, Score: score, VecScore: vec, KwScore: kw})
	}

	sortRecallItemsDesc(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// RecallPhased implements the four-phase recall sequence used by the agent
// loop's context enrichment: entity-scoped, recent trend within TTL,
// contradiction trail, and a final synthesis slice.
func (m *MemoryDB) RecallPhased(q RecallQuery) ([]RecallItem, error) {
	var out []RecallItem

	// R1: entity-scoped.
	r1, err := m.RecallScoped(q)
	if err != nil {
		return nil, err
	}
	out = append(out, r1...)

	// R2: recent trend within TTL — trend-origin units from the last 30 days.
	trendQ := q
	trendQ.Limit = 5
	trend, err := m.fetchTrendCandidates(trendQ)
	if err != nil {
		return nil, err
	}
	out = append(out, trend...)

	// R3: contradiction trail — contradiction-marked events for this entity/slot.
	if q.EntityID != "" {
		trail, err := m.fetchContradictionTrail(q.EntityID, q.Slot, 5)
		if err != nil {
			return nil, err
		}
		out = append(out, trail...)
	}

	// R4: final synthesis slice — top-scored items across R1-R3, deduped by id.
	return dedupByCanonicalID(out), nil
}

func (m *MemoryDB) fetchCandidates(q RecallQuery, limit int) ([]RetrievalUnit, error) {
	var conditions []string
	var args []interface{}

	if q.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, strings.ToLower(q.EntityID))
	}
	if q.Slot != "" {
		conditions = append(conditions, "slot_key = ?")
		args = append(args, strings.ToLower(q.Slot))
	}
	conditions = append(conditions, "deleted = 0")

	query := "SELECT canonical_id, entity_id, slot_key, content, signal_tier, source_origin, promotion_status, created_at, updated_at FROM retrieval_units"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "fetch recall candidates", err)
	}
	defer rows.Close()

	units, err := m.scanUnits(rows)
	if err != nil {
		return nil, err
	}
	return m.attachEmbeddings(units)
}

func (m *MemoryDB) fetchTrendCandidates(q RecallQuery) ([]RecallItem, error) {
	rows, err := m.db.Query(`
		SELECT canonical_id, entity_id, slot_key, content, signal_tier, source_origin, promotion_status, created_at, updated_at
		FROM retrieval_units
		WHERE source_origin = 'trend' AND deleted = 0
		ORDER BY updated_at DESC LIMIT ?`, q.Limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "fetch trend candidates", err)
	}
	defer rows.Close()

	units, err := m.scanUnits(rows)
	if err != nil {
		return nil, err
	}
	items := make([]RecallItem, 0, len(units))
	for _, u := range units {
		items = append(items, RecallItem{Unit: u, Score: 0.1})
	}
	return items, nil
}

func (m *MemoryDB) fetchContradictionTrail(entityID, slot string, limit int) ([]RecallItem, error) {
	query := "SELECT id, entity_id, slot_key, value, created_at FROM events WHERE entity_id = ? AND kind = 'contradiction-marked'"
	args := []interface{}{strings.ToLower(entityID)}
	if slot != "" {
		query += " AND slot_key = ?"
		args = append(args, strings.ToLower(slot))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "fetch contradiction trail", err)
	}
	defer rows.Close()

	var items []RecallItem
	for rows.Next() {
		var id int64
		var entity, slotKey, value, createdAt string
		if err := rows.Scan(&id, &entity, &slotKey, &value, &createdAt); err != nil {
			continue
		}
		items = append(items, RecallItem{
			Unit: RetrievalUnit{
				CanonicalID: "contradiction::" + entity + "::" + slotKey,
				EntityID:    entity,
				SlotKey:     slotKey,
				Content:     "contradiction marked at " + createdAt,
				CreatedAt:   parseTime(createdAt),
			},
			Score: 0.05,
		})
	}
	return items, nil
}

func (m *MemoryDB) scanUnits(rows *sql.Rows) ([]RetrievalUnit, error) {
	var units []RetrievalUnit
	for rows.Next() {
		var u RetrievalUnit
		var tier, origin, promotion, createdAt, updatedAt string
		if err := rows.Scan(&u.CanonicalID, &u.EntityID, &u.SlotKey, &u.Content, &tier, &origin, &promotion, &createdAt, &updatedAt); err != nil {
			continue
		}
		u.SignalTier = SignalTier(tier)
		u.SourceOrigin = SourceOriginKind(origin)
		u.PromotionStatus = SignalTier(promotion)
		u.CreatedAt = parseTime(createdAt)
		u.UpdatedAt = parseTime(updatedAt)
		units = append(units, u)
	}
	return units, rows.Err()
}

func (m *MemoryDB) attachEmbeddings(units []RetrievalUnit) ([]RetrievalUnit, error) {
	for i := range units {
		var dims int
		var blob []byte
		err := m.db.QueryRow("SELECT dims, vector FROM embedding_cache WHERE canonical_id = ?", units[i].CanonicalID).Scan(&dims, &blob)
		if err == nil {
			units[i].Embedding = decodeFloat32Blob(blob, dims)
		}
	}
	return units, nil
}

// bm25Scores runs the FTS5 query restricted to the given candidate ids and
// returns raw bm25() scores (more negative is a better match in SQLite's
// fts5 bm25 convention; we negate so higher is better before normalizing).
func (m *MemoryDB) bm25Scores(keywords string, candidates []RetrievalUnit) (map[string]float64, error) {
	ftsQuery := sanitizeFTS5Query(keywords)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := m.db.Query(`SELECT canonical_id, bm25(retrieval_units_fts) FROM retrieval_units_fts WHERE retrieval_units_fts MATCH ?`, ftsQuery)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "bm25 query", err)
	}
	defer rows.Close()

	allowed := map[string]bool{}
	for _, c := range candidates {
		allowed[c.CanonicalID] = true
	}

	scores := map[string]float64{}
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			continue
		}
		if !allowed[id] {
			continue
		}
		scores[id] = -rank
	}
	return scores, nil
}

// minMaxNormalize batch-normalizes BM25 scores to [0,1] within the candidate
// set. Comparability across different queries/batches is not guaranteed —
// see the open question in the design notes.
func minMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range scores {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make(map[string]float64, len(scores))
	if max == min {
		for k := range scores {
			out[k] = 1.0
		}
		return out
	}
	for k, v := range scores {
		out[k] = (v - min) / (max - min)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortRecallItemsDesc(items []RecallItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func dedupByCanonicalID(items []RecallItem) []RecallItem {
	seen := map[string]bool{}
	out := make([]RecallItem, 0, len(items))
	for _, it := range items {
		if seen[it.Unit.CanonicalID] {
			continue
		}
		seen[it.Unit.CanonicalID] = true
		out = append(out, it)
	}
	return out
}
