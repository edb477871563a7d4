package tools

import "strings"

// sharedMemoryEntity is the entity id used for memories with no owner and no
// explicit subject: facts everyone in the workspace can see.
const sharedMemoryEntity = "shared"

// sanitizeSlotSegment folds a caller-supplied key into the lowercase
// alphanumeric/underscore/hyphen shape a belief slot's second-and-later
// dotted segments allow.
func sanitizeSlotSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := b.String()
	if out == "" {
		return "x"
	}
	return out
}

// noteSlot maps a memory_store "key" onto a belief slot under the "note."
// namespace.
func noteSlot(key string) string {
	return "note." + sanitizeSlotSegment(key)
}

// relationSlot maps a memory_store "key" onto the belief slot holding that
// memory's entity-graph edge, so memory_forget can retire both together.
func relationSlot(key string) string {
	return "relation." + sanitizeSlotSegment(key)
}

// resolveMemoryEntity picks the belief-slot entity id for a memory: the
// explicit subject if the caller named one, else the calling owner, else the
// shared bucket.
func resolveMemoryEntity(explicitEntity, owner string) string {
	if explicitEntity != "" {
		return explicitEntity
	}
	if owner != "" {
		return owner
	}
	return sharedMemoryEntity
}
