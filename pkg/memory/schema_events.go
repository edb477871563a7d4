package memory

// createEventSchema adds the event ledger, belief slot, retrieval unit, and
// embedding cache tables used by the reference (kv+fts+vector) backend's
// event/belief contract.
func (m *MemoryDB) createEventSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id            TEXT NOT NULL,
		slot_key             TEXT NOT NULL,
		kind                 TEXT NOT NULL,
		value                TEXT NOT NULL,
		source               TEXT NOT NULL,
		confidence           REAL NOT NULL DEFAULT 0,
		importance           REAL NOT NULL DEFAULT 0,
		layer                TEXT NOT NULL DEFAULT 'working',
		privacy              TEXT NOT NULL DEFAULT 'private',
		signal_tier          TEXT NOT NULL DEFAULT 'raw',
		source_origin        TEXT NOT NULL DEFAULT 'manual',
		source_ref           TEXT NOT NULL DEFAULT '',
		language_tag         TEXT NOT NULL DEFAULT '',
		ingested_at          DATETIME NOT NULL DEFAULT (datetime('now')),
		created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
		retention_expires_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_events_entity_slot ON events(entity_id, slot_key);
	CREATE INDEX IF NOT EXISTS idx_events_source_ref ON events(source_origin, source_ref);

	CREATE TABLE IF NOT EXISTS belief_slots (
		entity_id             TEXT NOT NULL,
		slot_key              TEXT NOT NULL,
		winning_event_id      INTEGER NOT NULL REFERENCES events(id),
		status                TEXT NOT NULL DEFAULT 'active',
		contradiction_penalty REAL NOT NULL DEFAULT 0,
		promotion_status      TEXT NOT NULL DEFAULT 'raw',
		updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (entity_id, slot_key)
	);

	CREATE TABLE IF NOT EXISTS retrieval_units (
		canonical_id     TEXT PRIMARY KEY,
		entity_id        TEXT NOT NULL,
		slot_key         TEXT NOT NULL,
		content          TEXT NOT NULL,
		signal_tier      TEXT NOT NULL DEFAULT 'raw',
		source_origin    TEXT NOT NULL DEFAULT 'manual',
		promotion_status TEXT NOT NULL DEFAULT 'raw',
		deleted          INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
		updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_ru_entity_slot ON retrieval_units(entity_id, slot_key);

	CREATE VIRTUAL TABLE IF NOT EXISTS retrieval_units_fts USING fts5(
		canonical_id, content
	);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		canonical_id TEXT PRIMARY KEY REFERENCES retrieval_units(canonical_id) ON DELETE CASCADE,
		dims         INTEGER NOT NULL,
		vector       BLOB NOT NULL
	);
	`
	_, err := m.db.Exec(schema)
	return err
}
