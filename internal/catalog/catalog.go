// Package catalog loads the artwork catalog and splits it into batch chunks.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hyperjump/dispict/internal/models"
)

// DefaultChunkSize is the number of items sent through fetch and encode together.
const DefaultChunkSize = 32

// Catalog is the immutable set of artworks, in file order, indexed by ID.
type Catalog struct {
	items []*models.Artwork
	byID  map[int64]*models.Artwork
}

// Load reads a JSON array of artworks from path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	var items []*models.Artwork
	if err := json.NewDecoder(f).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}
	return New(items)
}

// New builds a catalog from items. Duplicate IDs are rejected.
func New(items []*models.Artwork) (*Catalog, error) {
	c := &Catalog{
		items: make([]*models.Artwork, 0, len(items)),
		byID:  make(map[int64]*models.Artwork, len(items)),
	}
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("catalog entry %d is null", i)
		}
		if _, exists := c.byID[item.ID]; exists {
			return nil, &models.ConsistencyError{
				Op:       "catalog",
				Expected: len(c.byID),
				Actual:   len(c.byID) + 1,
				Detail:   fmt.Sprintf("duplicate artwork id %d at entry %d", item.ID, i),
			}
		}
		c.byID[item.ID] = item
		c.items = append(c.items, item)
	}
	return c, nil
}

// Len returns the number of artworks.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Items returns the artworks in file order. Callers must not modify the slice.
func (c *Catalog) Items() []*models.Artwork {
	return c.items
}

// Get returns the artwork with the given ID.
func (c *Catalog) Get(id int64) (*models.Artwork, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// Chunk splits the catalog in file order into chunks of at most size items.
func (c *Catalog) Chunk(size int) []models.BatchChunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]models.BatchChunk, 0, (len(c.items)+size-1)/size)
	for start := 0; start < len(c.items); start += size {
		end := min(start+size, len(c.items))
		chunk := models.BatchChunk{
			Index: len(chunks),
			IDs:   make([]int64, 0, end-start),
			URLs:  make([]string, 0, end-start),
		}
		for _, item := range c.items[start:end] {
			chunk.IDs = append(chunk.IDs, item.ID)
			chunk.URLs = append(chunk.URLs, item.ImageURL)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
