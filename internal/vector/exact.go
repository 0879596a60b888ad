package vector

import (
	"context"
	"fmt"
	"sort"
)

// ExactIndex scores every row by inner product with the query. Ties are
// broken by ascending id.
type ExactIndex struct {
	store *Store
}

// NewExactIndex creates an exact index over store.
func NewExactIndex(store *Store) *ExactIndex {
	return &ExactIndex{store: store}
}

// Type returns the index type identifier.
func (e *ExactIndex) Type() string {
	return string(IndexTypeExact)
}

// ScoreScale reports that scores are cosine similarities.
func (e *ExactIndex) ScoreScale() string {
	return ScoreScaleCosine
}

// Size returns the number of indexed rows.
func (e *ExactIndex) Size() int {
	return e.store.Len()
}

// Search returns the top-k rows by descending inner product with query,
// which should be unit length.
func (e *ExactIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != e.store.Dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), e.store.Dim)
	}
	n := e.store.Len()
	if k <= 0 || n == 0 {
		return []*VectorResult{}, nil
	}

	scores := make([]float64, n)
	for i, row := range e.store.Vectors {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scores[i] = InnerProduct(query, row)
	}

	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	sort.Slice(rows, func(a, b int) bool {
		ra, rb := rows[a], rows[b]
		if scores[ra] != scores[rb] {
			return scores[ra] > scores[rb]
		}
		return e.store.IDs[ra] < e.store.IDs[rb]
	})

	k = min(k, n)
	results := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		row := rows[i]
		results[i] = &VectorResult{ID: e.store.IDs[row], Row: row, Score: scores[row]}
	}
	return results, nil
}

// Close is a no-op; the store is owned by the caller.
func (e *ExactIndex) Close() error {
	return nil
}
