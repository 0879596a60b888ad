package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/dispict/internal/models"
)

const batchSize = 1000

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// artworkDoc is the indexed projection of an artwork.
type artworkDoc struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	People         string `json:"people"`
	Culture        string `json:"culture"`
	Classification string `json:"classification"`
	Medium         string `json:"medium"`
	Technique      string `json:"technique"`
	Dated          string `json:"dated"`
	Department     string `json:"department"`
}

func newArtworkDoc(a *models.Artwork) *artworkDoc {
	return &artworkDoc{
		Title:          a.Title,
		Description:    strings.TrimSpace(a.Description + " " + a.LabelText),
		People:         strings.Join(a.People, ", "),
		Culture:        a.Culture,
		Classification: a.Classification,
		Medium:         a.Medium,
		Technique:      a.Technique,
		Dated:          a.Dated,
		Department:     a.Department,
	}
}

func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// standard analyzer (lowercase + tokenize, no stemming) so artist names match as written
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	for _, field := range []string{"title", "description", "people", "culture", "classification", "medium", "technique", "dated", "department"} {
		docMapping.AddFieldMappingsAt(field, text)
	}
	im.AddDocumentMapping("artwork", docMapping)
	im.DefaultType = "artwork"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates
// an in-memory index. If the mapping changes in code, remove the index
// directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexCatalog indexes items in batches, replacing any previous document
// with the same ID.
func (b *BleveIndex) IndexCatalog(ctx context.Context, items []*models.Artwork) error {
	batch := b.index.NewBatch()
	for _, a := range items {
		if err := batch.Index(strconv.FormatInt(a.ID, 10), newArtworkDoc(a)); err != nil {
			return fmt.Errorf("failed to index artwork %d: %w", a.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to write batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
	}
	return nil
}

// EnsureCatalog indexes items unless the index already holds exactly that
// many documents. It reports whether indexing ran.
func (b *BleveIndex) EnsureCatalog(ctx context.Context, items []*models.Artwork) (bool, error) {
	count, err := b.DocCount()
	if err != nil {
		return false, err
	}
	if count == uint64(len(items)) {
		return false, nil
	}
	return true, b.IndexCatalog(ctx, items)
}

// Search runs a match (or fuzzy) query over all fields and returns up to
// limit results. With TitleBoost > 1 a boosted title match is added to the
// disjunction so title hits rank first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	titleBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		if opts.FuzzyEnabled {
			fuzziness = 2
			if opts.Fuzziness > 0 {
				fuzziness = opts.Fuzziness
			}
		}
	}

	var q blevequery.Query = buildQuery(query, fuzziness, "")
	if titleBoost > 1 {
		tq := bleve.NewMatchQuery(query)
		tq.SetField("title")
		tq.SetBoost(titleBoost)
		if fuzziness > 0 {
			tq.SetFuzziness(fuzziness)
		}
		q = bleve.NewDisjunctionQuery(q, tq)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, &KeywordResult{ID: id, Score: hit.Score})
	}
	return out, nil
}

// buildQuery returns a match query, or with fuzziness a disjunction of one
// fuzzy query per term. An empty field searches all fields.
func buildQuery(queryStr string, fuzziness int, field string) blevequery.Query {
	terms := strings.Fields(strings.ToLower(queryStr))
	if fuzziness <= 0 || len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		if field != "" {
			mq.SetField(field)
		}
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		if field != "" {
			fq.SetField(field)
		}
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the number of indexed artworks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
