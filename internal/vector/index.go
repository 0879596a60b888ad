// Package vector holds the persisted embedding store and the similarity
// indexes built over it.
package vector

import "context"

const (
	// ScoreScaleCosine scores are raw inner products of unit vectors, in [-1, 1].
	ScoreScaleCosine = "cosine"
	// ScoreScaleAngular scores are 100 * (2 - d) for angular distance d, in [0, 200].
	ScoreScaleAngular = "angular"
)

// SimilarityIndex answers top-k nearest neighbor queries over a frozen store.
// Scores are comparable only between results of the same index type.
type SimilarityIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Size() int
	Type() string
	ScoreScale() string
	Close() error
}

// VectorResult is a single search hit. Row is the position in the store.
type VectorResult struct {
	ID    int64
	Row   int
	Score float64
}
