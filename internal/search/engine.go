// Package search answers text queries against the loaded artwork embeddings.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/dispict/internal/catalog"
	"github.com/hyperjump/dispict/internal/config"
	"github.com/hyperjump/dispict/internal/embedding"
	"github.com/hyperjump/dispict/internal/keyword"
	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/vector"
	"go.uber.org/zap"
)

// ErrNoKeywordIndex is returned by Find when no keyword index is configured.
var ErrNoKeywordIndex = errors.New("keyword index not configured")

// TextEncoder turns a query string into a vector in the image embedding space.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Engine runs suggestion queries against the current snapshot.
type Engine struct {
	catalog      *catalog.Catalog
	encoder      TextEncoder
	keywordIndex keyword.KeywordIndex
	cache        *embedding.EmbeddingCache
	config       *config.Config
	logger       *zap.Logger

	snapshot atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
}

type EngineOption func(*Engine)

func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithKeywordIndex enables Find.
func WithKeywordIndex(idx keyword.KeywordIndex) EngineOption {
	return func(e *Engine) {
		e.keywordIndex = idx
	}
}

// NewEngine creates a search engine. No store is loaded until Load is called.
func NewEngine(cat *catalog.Catalog, encoder TextEncoder, cfg *config.Config, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: cat,
		encoder: encoder,
		cache:   embedding.NewEmbeddingCache(cfg.Embedding.CacheSize),
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load reads the configured vector store and makes it queryable.
func (e *Engine) Load(ctx context.Context) error {
	return e.Reload(ctx, e.config.Storage.VectorStorePath)
}

// Reload reads the store at path, builds an index over it and swaps it in.
// On failure the previous snapshot stays active.
func (e *Engine) Reload(ctx context.Context, path string) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	start := time.Now()
	store, err := vector.ReadStore(path, e.encoder.Dimensions())
	if err != nil {
		return fmt.Errorf("failed to read vector store: %w", err)
	}
	index, err := vector.NewSimilarityIndex(ctx, e.config.Vector.IndexType, store, vector.ForestOptions{
		NumTrees: e.config.Vector.NumTrees,
		LeafSize: e.config.Vector.LeafSize,
		SearchK:  e.config.Vector.SearchK,
		Seed:     e.config.Vector.Seed,
	})
	if err != nil {
		return fmt.Errorf("failed to build similarity index: %w", err)
	}
	snap, err := NewSnapshot(e.catalog, store, index, path)
	if err != nil {
		index.Close()
		return err
	}

	if old := e.snapshot.Swap(snap); old != nil {
		old.Index.Close()
	}
	e.logger.Info("Vector store loaded",
		zap.String("path", path),
		zap.Int("rows", store.Len()),
		zap.String("index_type", index.Type()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Snapshot returns the active snapshot, or nil if none is loaded.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Suggest returns the artworks whose images are closest to the query text.
func (e *Engine) Suggest(ctx context.Context, query *models.SuggestionQuery) (*models.SuggestionResponse, error) {
	startTime := time.Now()
	if err := query.Validate(e.config.Search.DefaultLimit, e.config.Search.MaxLimit); err != nil {
		return nil, err
	}
	snap := e.snapshot.Load()
	if snap == nil {
		return nil, models.ErrStoreNotLoaded
	}

	vec, err := e.queryVector(ctx, query.Text)
	if err != nil {
		return nil, err
	}
	hits, err := snap.Index.Search(ctx, vec, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	response := &models.SuggestionResponse{
		Results:    make([]*models.SearchResult, 0, len(hits)),
		Total:      len(hits),
		Query:      query.Text,
		IndexType:  snap.Index.Type(),
		ScoreScale: snap.Index.ScoreScale(),
	}
	for i, hit := range hits {
		art, ok := snap.Catalog.Get(hit.ID)
		if !ok {
			return nil, fmt.Errorf("artwork %d: %w", hit.ID, models.ErrConsistency)
		}
		response.Results = append(response.Results, &models.SearchResult{
			Score:   hit.Score,
			Artwork: art,
			Rank:    i + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()

	e.logger.Debug("Suggest",
		zap.String("query", query.Text),
		zap.Int("limit", query.Limit),
		zap.Int("results", len(response.Results)),
		zap.Int64("query_time_ms", response.QueryTime))
	return response, nil
}

// queryVector embeds text and normalizes it. Results are cached by text; the
// returned slice must not be modified.
func (e *Engine) queryVector(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v, nil
	}
	raw, err := e.encoder.EncodeText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	vec := make([]float32, len(raw))
	copy(vec, raw)
	vector.NormalizeL2(vec)
	e.cache.Set(text, vec)
	return vec, nil
}

// Lookup returns a catalog entry by id.
func (e *Engine) Lookup(id int64) (*models.Artwork, bool) {
	return e.catalog.Get(id)
}

// Find runs a keyword query over catalog metadata. Results are in relevance order.
func (e *Engine) Find(ctx context.Context, text string, limit int) ([]*models.SearchResult, error) {
	if e.keywordIndex == nil {
		return nil, ErrNoKeywordIndex
	}
	q := &models.SuggestionQuery{Text: text, Limit: limit}
	if err := q.Validate(e.config.Search.DefaultLimit, e.config.Search.MaxLimit); err != nil {
		return nil, err
	}
	hits, err := e.keywordIndex.Search(ctx, q.Text, q.Limit, &keyword.SearchOptions{
		TitleBoost:   e.config.Search.KeywordTitleBoost,
		FuzzyEnabled: e.config.Search.KeywordFuzziness > 0,
		Fuzziness:    e.config.Search.KeywordFuzziness,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	results := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		art, ok := e.catalog.Get(hit.ID)
		if !ok {
			continue
		}
		results = append(results, &models.SearchResult{Score: hit.Score, Artwork: art, Rank: len(results) + 1})
	}
	return results, nil
}

// Status describes the engine state for the status endpoint and CLI.
type Status struct {
	Loaded       bool      `json:"loaded"`
	StorePath    string    `json:"store_path,omitempty"`
	LoadedAt     time.Time `json:"loaded_at"`
	Embeddings   int       `json:"embeddings"`
	CatalogSize  int       `json:"catalog_size"`
	IndexType    string    `json:"index_type,omitempty"`
	ScoreScale   string    `json:"score_scale,omitempty"`
	Dimensions   int       `json:"dimensions"`
	CacheEntries int       `json:"cache_entries"`
}

// Status returns a summary of the active snapshot.
func (e *Engine) Status() *Status {
	st := &Status{
		CatalogSize:  e.catalog.Len(),
		Dimensions:   e.encoder.Dimensions(),
		CacheEntries: e.cache.Len(),
	}
	if snap := e.snapshot.Load(); snap != nil {
		st.Loaded = true
		st.StorePath = snap.StorePath
		st.LoadedAt = snap.LoadedAt
		st.Embeddings = snap.Size()
		st.IndexType = snap.Index.Type()
		st.ScoreScale = snap.Index.ScoreScale()
	}
	return st
}
