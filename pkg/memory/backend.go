package memory

import (
	"fmt"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

// BackendKind selects which storage implementation satisfies the Backend
// contract. Only kv+fts+vector (the reference backend, *MemoryDB) supports
// the full semantics; the others degrade explicitly per their
// CapabilityMatrix.
type BackendKind string

const (
	BackendKVFTSVector    BackendKind = "kv+fts+vector"
	BackendColumnarVector BackendKind = "columnar-vector"
	BackendAppendOnlyText BackendKind = "append-only-text"
	BackendNone           BackendKind = "none"
)

// Backend is the contract every memory storage implementation satisfies.
// Memory, Provider, Tool, and Channel are all interface-polymorphic in this
// runtime so alternate implementations can be selected by the factory from
// config without touching call sites.
type Backend interface {
	AppendEvent(input EventInput) (*Event, error)
	AppendInferenceEvent(input EventInput) (*Event, error)
	AppendInferenceEvents(inputs []EventInput) ([]*Event, []error)
	RecallScoped(q RecallQuery) ([]RecallItem, error)
	RecallPhased(q RecallQuery) ([]RecallItem, error)
	ResolveSlot(entityID, slotKey string) (*BeliefSlot, error)
	ForgetSlot(entityID, slotKey string, mode ForgetMode, reason string) (ForgetOutcome, error)
	CountEvents(entityID string) int
	RunHygiene() (HygieneReport, error)
	Capabilities() CapabilityMatrix
	Close() error
}

// BackendConfig carries the subset of [memory] TOML keys the factory needs.
type BackendConfig struct {
	Kind                BackendKind
	Workspace           string
	PostgresDSN         string
	EmbeddingDimensions int
}

// Open constructs the Backend selected by cfg.Kind. Callers should treat the
// returned Backend as their only handle to storage — the factory, not the
// call site, knows which concrete type backs it.
func OpenBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", BackendKVFTSVector:
		db, err := Open(cfg.Workspace)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendColumnarVector:
		return OpenPostgresBackend(cfg.PostgresDSN, cfg.EmbeddingDimensions)
	case BackendAppendOnlyText:
		return OpenTextFileBackend(cfg.Workspace)
	case BackendNone:
		return NoneBackend{}, nil
	default:
		return nil, errs.New(errs.KindUser, fmt.Sprintf("unknown memory backend %q", cfg.Kind))
	}
}

// Capabilities reports the reference backend's full capability matrix.
func (m *MemoryDB) Capabilities() CapabilityMatrix {
	return CapabilityMatrix{
		SupportsVectorRecall:  true,
		SupportsKeywordRecall: true,
		SupportsSoftDelete:    true,
		SupportsHardDelete:    true,
		SupportsTombstone:     true,
		Degraded:              false,
		Notes:                 "reference backend: full semantics",
	}
}
