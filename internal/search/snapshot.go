package search

import (
	"fmt"
	"time"

	"github.com/hyperjump/dispict/internal/catalog"
	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/vector"
)

// Snapshot is an immutable pairing of a similarity index with the catalog
// entries its rows refer to. Queries read a snapshot without locking.
type Snapshot struct {
	Catalog   *catalog.Catalog
	Index     vector.SimilarityIndex
	StorePath string
	LoadedAt  time.Time
}

// NewSnapshot checks that every id in store is present in cat.
func NewSnapshot(cat *catalog.Catalog, store *vector.Store, index vector.SimilarityIndex, storePath string) (*Snapshot, error) {
	var missing []int64
	for _, id := range store.IDs {
		if _, ok := cat.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &models.ConsistencyError{
			Op:       "load_store",
			Expected: store.Len(),
			Actual:   store.Len() - len(missing),
			Detail:   fmt.Sprintf("%d stored ids not in catalog, first %d", len(missing), missing[0]),
		}
	}
	return &Snapshot{
		Catalog:   cat,
		Index:     index,
		StorePath: storePath,
		LoadedAt:  time.Now(),
	}, nil
}

// Size returns the number of indexed artworks.
func (s *Snapshot) Size() int {
	return s.Index.Size()
}
