package vectorstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// serializeVector converts a float32 slice to a little-endian byte blob
// for storage in SQLite.
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts a byte blob back to a float32 slice.
func deserializeVector(blob []byte, dimension int) ([]float32, error) {
	if len(blob) != dimension*4 {
		return nil, fmt.Errorf("vector blob size %d does not match dimension %d", len(blob), dimension)
	}
	vector := make([]float32, dimension)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched dimensions or zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate is a scored chunk during retrieval, before ranking.
type candidate struct {
	path      string
	content   string
	startLine int
	endLine   int
	score     float64
	tagKey    string
}

// sortCandidates orders candidates by descending score, breaking ties by
// path so results are deterministic.
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].path < candidates[j].path
	})
}

// Exported wrappers for testing

// SerializeVector is exported for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is exported for testing
func DeserializeVector(blob []byte, dimension int) ([]float32, error) {
	return deserializeVector(blob, dimension)
}

// CosineSimilarity is exported for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
