package vector

import (
	"context"
	"fmt"
)

// IndexType names a similarity index implementation.
type IndexType string

const (
	// IndexTypeExact scans every row. Results are exact.
	IndexTypeExact IndexType = "exact"
	// IndexTypeForest uses a forest of random projection trees. Results are
	// approximate.
	IndexTypeForest IndexType = "forest"
)

// NewSimilarityIndex builds an index of the given type over store.
// Supported types: "exact" (default), "forest".
func NewSimilarityIndex(ctx context.Context, indexType string, store *Store, opts ForestOptions) (SimilarityIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeExact, "":
		return NewExactIndex(store), nil
	case IndexTypeForest:
		return NewForestIndex(ctx, store, opts)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: exact, forest)", indexType)
	}
}
