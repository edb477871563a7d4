package memory

import (
	"encoding/binary"
	"math"

	"github.com/asteroniris/asteroniris/pkg/errs"
)

// EmbeddingProvider computes a unit-normalized embedding vector for text.
// Implementations live outside this package (provider abstraction) and are
// injected by the caller; the memory backend only stores and compares
// vectors it is handed.
type EmbeddingProvider interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// StoreEmbedding unit-normalizes and persists an embedding for the given
// retrieval unit, overwriting any prior cached vector.
func (m *MemoryDB) StoreEmbedding(canonicalID string, vector []float32) error {
	normalized := normalizeUnit(vector)
	blob := encodeFloat32Blob(normalized)
	_, err := m.db.Exec(`
		INSERT INTO embedding_cache (canonical_id, dims, vector) VALUES (?, ?, ?)
		ON CONFLICT(canonical_id) DO UPDATE SET dims=excluded.dims, vector=excluded.vector`,
		canonicalID, len(normalized), blob)
	if err != nil {
		return errs.Wrap(errs.KindData, "store embedding", err)
	}
	return nil
}

func normalizeUnit(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func encodeFloat32Blob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeFloat32Blob(buf []byte, dims int) []float32 {
	if len(buf) < dims*4 {
		return nil
	}
	out := make([]float32, dims)
	for i := 0; i < dims; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
	}
	return out
}
