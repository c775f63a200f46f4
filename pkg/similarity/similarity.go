package similarity

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DimensionMismatchError reports vectors of different length being compared.
// It indicates a bug or an inconsistent store, never a runtime condition to
// recover from.
type DimensionMismatchError struct {
	Left  int
	Right int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d vs %d", e.Left, e.Right)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Cosine computes dot(a,b) / (|a|*|b|). If either vector has zero norm the
// result is 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Left: len(a), Right: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Result pairs an item with its similarity to a query.
type Result[T any] struct {
	Item  T
	Score float64
}

// Rank scores every item against query and orders them by descending
// similarity. Items with equal scores keep their input order.
func Rank[T any](query []float64, items []T, embeddingOf func(T) []float64) ([]Result[T], error) {
	results := make([]Result[T], 0, len(items))
	for i, item := range items {
		score, err := Cosine(query, embeddingOf(item))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		results = append(results, Result[T]{Item: item, Score: score})
	}

	slices.SortStableFunc(results, func(a, b Result[T]) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	return results, nil
}

// TopK is Rank truncated to the first k results. A k larger than the number
// of items returns all of them.
func TopK[T any](query []float64, items []T, k int, embeddingOf func(T) []float64) ([]Result[T], error) {
	if k <= 0 || len(items) == 0 {
		return []Result[T]{}, nil
	}

	ranked, err := Rank(query, items, embeddingOf)
	if err != nil {
		return nil, err
	}

	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k], nil
}

// FindTopK returns the k items most similar to query, most similar first.
func FindTopK[T any](query []float64, items []T, k int, embeddingOf func(T) []float64) ([]T, error) {
	ranked, err := TopK(query, items, k, embeddingOf)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Item)
	}
	return out, nil
}
