package similarity

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("similarity: vector dimension mismatch")

// Candidate is a vector eligible for nearest-neighbor ranking.
type Candidate struct {
	ID     int64
	Vector []float32
}

// Match is a candidate that passed the threshold, with its score.
type Match struct {
	ID         int64
	Similarity float64
}

// Cosine returns dot(a,b) / (||a|| * ||b||). A zero-norm vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	sim, _, err := cosine(a, b)
	return sim, err
}

// cosine reports ok=false when either vector has zero norm.
func cosine(a, b []float32) (sim float64, ok bool, err error) {
	if len(a) != len(b) {
		return 0, false, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, false, nil
	}
	return dot / denom, true, nil
}

// TopK ranks candidates against query and returns at most k matches whose
// similarity is >= threshold, highest first. Equal scores keep candidate order.
func TopK(query []float32, candidates []Candidate, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sim, ok, err := cosine(query, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", c.ID, err)
		}
		// Zero-norm vectors are never a match, whatever the threshold.
		if !ok || sim < threshold {
			continue
		}
		matches = append(matches, Match{ID: c.ID, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
