package indexer

import (
	"fmt"

	"github.com/hyperjump/dispict/internal/models"
)

// Reconcile pairs a chunk's IDs with the vectors produced for the positions
// that were not missing. vectors must be in input order with the missing
// positions removed, so len(ids) == len(missing) + len(vectors). Positions in
// missing must be in range and distinct. Any violation is a consistency error
// and no partial mapping is returned.
func Reconcile(ids []int64, missing []int, vectors [][]float32) (map[int64][]float32, error) {
	if len(ids) != len(missing)+len(vectors) {
		return nil, &models.ConsistencyError{
			Op:       "reconcile",
			Expected: len(ids),
			Actual:   len(missing) + len(vectors),
			Detail:   fmt.Sprintf("%d missing + %d vectors", len(missing), len(vectors)),
		}
	}

	isMissing := make([]bool, len(ids))
	for _, pos := range missing {
		if pos < 0 || pos >= len(ids) {
			return nil, &models.ConsistencyError{
				Op:       "reconcile",
				Expected: len(ids),
				Actual:   pos,
				Detail:   "missing position out of range",
			}
		}
		if isMissing[pos] {
			return nil, &models.ConsistencyError{
				Op:       "reconcile",
				Expected: len(missing),
				Actual:   len(missing) - 1,
				Detail:   fmt.Sprintf("missing position %d listed twice", pos),
			}
		}
		isMissing[pos] = true
	}

	out := make(map[int64][]float32, len(vectors))
	next := 0
	for pos, id := range ids {
		if isMissing[pos] {
			continue
		}
		if _, dup := out[id]; dup {
			return nil, &models.ConsistencyError{
				Op:       "reconcile",
				Expected: len(vectors),
				Actual:   len(out),
				Detail:   fmt.Sprintf("duplicate id %d in chunk", id),
			}
		}
		out[id] = vectors[next]
		next++
	}
	return out, nil
}
