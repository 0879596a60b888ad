// Package keyword provides keyword search over catalog metadata.
package keyword

import (
	"context"

	"github.com/hyperjump/dispict/internal/models"
)

// SearchOptions are optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution of title matches. Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits (1 or 2, default 2).
	FuzzyEnabled bool
	Fuzziness    int
}

// KeywordIndex indexes artworks and answers text queries against their metadata.
type KeywordIndex interface {
	IndexCatalog(ctx context.Context, items []*models.Artwork) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    int64
	Score float64
}
