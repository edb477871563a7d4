package memory

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	_ "github.com/lib/pq"

	"github.com/asteroniris/asteroniris/pkg/errs"
	"github.com/asteroniris/asteroniris/pkg/logger"
)

// PostgresBackend is the columnar-vector Backend: events and belief slots
// live in ordinary Postgres columns, vector similarity is delegated to
// pgvector's native distance operators instead of the reference backend's
// Go-side cosine loop. Grounded on scrypster-memento's postgres memory
// store/search provider shape.
//
// Degraded relative to the reference backend: soft-forget is marker-based —
// a tombstoned row's embedding remains in the pgvector index, so a raw
// ORDER BY embedding <=> query vector could still surface it. This backend
// therefore always filters `deleted_at IS NULL` at the SQL layer rather than
// relying on storage-level deletion, honoring the "hide soft-deleted"
// invariant regardless of the underlying trace.
type PostgresBackend struct {
	db   *sql.DB
	dims int
}

func OpenPostgresBackend(dsn string, dims int) (*PostgresBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errs.New(errs.KindUser, "columnar-vector backend requires a postgres DSN")
	}
	if dims <= 0 {
		dims = 1536
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, "open postgres", err)
	}
	pb := &PostgresBackend{db: db, dims: dims}
	if err := pb.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return pb, nil
}

func (p *PostgresBackend) createSchema() error {
	schema := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS memory_events (
		id SERIAL PRIMARY KEY,
		entity_id TEXT NOT NULL,
		slot_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		importance REAL NOT NULL DEFAULT 0,
		layer TEXT NOT NULL DEFAULT 'working',
		source_ref TEXT NOT NULL DEFAULT '',
		embedding vector(%d),
		created_at TIMESTAMP NOT NULL DEFAULT now(),
		deleted_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS memory_belief_slots (
		entity_id TEXT NOT NULL,
		slot_key TEXT NOT NULL,
		winning_event_id INTEGER NOT NULL REFERENCES memory_events(id),
		status TEXT NOT NULL DEFAULT 'active',
		contradiction_penalty REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT now(),
		PRIMARY KEY (entity_id, slot_key)
	);

	CREATE INDEX IF NOT EXISTS idx_memory_events_entity_slot ON memory_events(entity_id, slot_key);
	`, p.dims)
	_, err := p.db.Exec(schema)
	return err
}

func (p *PostgresBackend) AppendEvent(input EventInput) (*Event, error) {
	entityID, slotKey, err := normalizeEntitySlot(input.EntityID, input.SlotKey)
	if err != nil {
		return nil, err
	}
	if input.Kind == "" {
		input.Kind = EventFactAdded
	}
	now := time.Now().UTC()

	existing, err := p.ResolveSlot(entityID, slotKey)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == SlotTombstoned {
		return nil, errs.New(errs.KindPolicy, "slot tombstoned")
	}

	var eventID int64
	err = p.db.QueryRow(`
		INSERT INTO memory_events (entity_id, slot_key, kind, value, source, confidence, importance, layer, source_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		entityID, slotKey, string(input.Kind), input.Value, string(input.Source),
		clamp01(input.Confidence), clamp01(input.Importance), string(input.Layer), input.SourceRef, now).Scan(&eventID)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "insert postgres event", err)
	}

	_, err = p.db.Exec(`
		INSERT INTO memory_belief_slots (entity_id, slot_key, winning_event_id, status, updated_at)
		VALUES ($1,$2,$3,'active',$4)
		ON CONFLICT (entity_id, slot_key) DO UPDATE SET winning_event_id=$3, updated_at=$4`,
		entityID, slotKey, eventID, now)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "upsert postgres belief", err)
	}

	return &Event{ID: eventID, EntityID: entityID, SlotKey: slotKey, Kind: input.Kind, Value: input.Value,
		Source: input.Source, Confidence: clamp01(input.Confidence), Importance: clamp01(input.Importance), CreatedAt: now}, nil
}

func (p *PostgresBackend) AppendInferenceEvent(input EventInput) (*Event, error) {
	input.Source = SourceInferred
	input.Kind = EventInferredClaim
	if input.Confidence > 0.70 {
		input.Confidence = 0.70
	}
	return p.AppendEvent(input)
}

func (p *PostgresBackend) AppendInferenceEvents(inputs []EventInput) ([]*Event, []error) {
	var accepted []*Event
	var failures []error
	for _, in := range inputs {
		evt, err := p.AppendInferenceEvent(in)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		accepted = append(accepted, evt)
	}
	return accepted, failures
}

// RecallScoped delegates vector similarity to pgvector's `<=>` cosine
// distance operator; keyword recall falls back to ILIKE since this backend
// does not carry an FTS index.
func (p *PostgresBackend) RecallScoped(q RecallQuery) ([]RecallItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	if len(q.Vector) > 0 {
		vec := pgvector.NewVector(q.Vector)
		rows, err := p.db.Query(`
			SELECT entity_id, slot_key, value, created_at, 1 - (embedding <=> $1) AS score
			FROM memory_events
			WHERE deleted_at IS NULL AND embedding IS NOT NULL AND ($2 = '' OR entity_id = $2)
			ORDER BY embedding <=> $1 LIMIT $3`, vec, q.EntityID, limit)
		if err != nil {
			return nil, errs.Wrap(errs.KindData, "pgvector recall", err)
		}
		defer rows.Close()
		return p.scanRecallRows(rows)
	}

	pattern := "%" + q.Keywords + "%"
	rows, err := p.db.Query(`
		SELECT entity_id, slot_key, value, created_at, 0.5 AS score
		FROM memory_events
		WHERE deleted_at IS NULL AND value ILIKE $1 AND ($2 = '' OR entity_id = $2)
		ORDER BY created_at DESC LIMIT $3`, pattern, q.EntityID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "postgres ilike recall", err)
	}
	defer rows.Close()
	return p.scanRecallRows(rows)
}

func (p *PostgresBackend) scanRecallRows(rows *sql.Rows) ([]RecallItem, error) {
	var items []RecallItem
	for rows.Next() {
		var entityID, slotKey, value string
		var createdAt time.Time
		var score float64
		if err := rows.Scan(&entityID, &slotKey, &value, &createdAt, &score); err != nil {
			continue
		}
		items = append(items, RecallItem{
			Unit: RetrievalUnit{
				CanonicalID: entityID + "::" + slotKey,
				EntityID:    entityID,
				SlotKey:     slotKey,
				Content:     value,
				CreatedAt:   createdAt,
			},
			Score: score,
		})
	}
	return items, rows.Err()
}

func (p *PostgresBackend) RecallPhased(q RecallQuery) ([]RecallItem, error) {
	return p.RecallScoped(q)
}

func (p *PostgresBackend) ResolveSlot(entityID, slotKey string) (*BeliefSlot, error) {
	entityID, slotKey, err := normalizeEntitySlot(entityID, slotKey)
	if err != nil {
		return nil, err
	}
	var b BeliefSlot
	var updatedAt time.Time
	err = p.db.QueryRow(`
		SELECT entity_id, slot_key, winning_event_id, status, contradiction_penalty, updated_at
		FROM memory_belief_slots WHERE entity_id=$1 AND slot_key=$2`, entityID, slotKey).
		Scan(&b.EntityID, &b.SlotKey, &b.WinningEventID, &b.Status, &b.ContradictionPenalty, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindData, "postgres resolve slot", err)
	}
	b.UpdatedAt = updatedAt
	return &b, nil
}

// ForgetSlot implements the degraded marker-based semantics documented on
// PostgresBackend: hard-forget deletes rows outright, soft/tombstone set
// deleted_at so every query above continues to honor "hide soft-deleted".
func (p *PostgresBackend) ForgetSlot(entityID, slotKey string, mode ForgetMode, reason string) (ForgetOutcome, error) {
	entityID, slotKey, err := normalizeEntitySlot(entityID, slotKey)
	if err != nil {
		return ForgetOutcome{}, err
	}
	switch mode {
	case ForgetHard:
		if _, err := p.db.Exec("DELETE FROM memory_events WHERE entity_id=$1 AND slot_key=$2", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "postgres hard forget", err)
		}
		if _, err := p.db.Exec("DELETE FROM memory_belief_slots WHERE entity_id=$1 AND slot_key=$2", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "postgres hard forget belief", err)
		}
	case ForgetTombstone:
		if _, err := p.db.Exec("UPDATE memory_events SET deleted_at=now() WHERE entity_id=$1 AND slot_key=$2", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "postgres tombstone", err)
		}
		if _, err := p.db.Exec("UPDATE memory_belief_slots SET status='tombstoned', updated_at=now() WHERE entity_id=$1 AND slot_key=$2", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "postgres tombstone belief", err)
		}
	default:
		mode = ForgetSoft
		if _, err := p.db.Exec("UPDATE memory_events SET deleted_at=now() WHERE entity_id=$1 AND slot_key=$2", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "postgres soft forget", err)
		}
		if _, err := p.db.Exec("UPDATE memory_belief_slots SET status='soft-deleted', updated_at=now() WHERE entity_id=$1 AND slot_key=$2", entityID, slotKey); err != nil {
			return ForgetOutcome{}, errs.Wrap(errs.KindData, "postgres soft forget belief", err)
		}
	}
	logger.InfoCF("memory", "postgres backend slot forgotten", map[string]interface{}{
		"entity_id": entityID, "slot_key": slotKey, "mode": string(mode),
	})
	return ForgetOutcome{Applied: true, Mode: mode, Reason: reason}, nil
}

func (p *PostgresBackend) CountEvents(entityID string) int {
	var count int
	if entityID == "" {
		p.db.QueryRow("SELECT COUNT(*) FROM memory_events").Scan(&count)
		return count
	}
	p.db.QueryRow("SELECT COUNT(*) FROM memory_events WHERE entity_id=$1", strings.ToLower(entityID)).Scan(&count)
	return count
}

// RunHygiene is a light no-op for this backend: Postgres table scans for
// retention floors and contradiction ratio are left to an operator-scheduled
// job outside this process, since pgvector deployments typically already run
// their own maintenance windows.
func (p *PostgresBackend) RunHygiene() (HygieneReport, error) {
	return HygieneReport{}, nil
}

func (p *PostgresBackend) Capabilities() CapabilityMatrix {
	return CapabilityMatrix{
		SupportsVectorRecall:  true,
		SupportsKeywordRecall: false,
		SupportsSoftDelete:    true,
		SupportsHardDelete:    true,
		SupportsTombstone:     true,
		Degraded:              true,
		Notes:                 "keyword recall is ILIKE, not BM25; hygiene heartbeat is a no-op",
	}
}

func (p *PostgresBackend) Close() error { return p.db.Close() }
