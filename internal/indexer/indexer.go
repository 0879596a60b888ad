// Package indexer runs the batch pipeline: catalog chunks are fetched,
// decoded, encoded and reconciled into one ID-to-embedding mapping, which is
// then published as a vector store.
package indexer

import (
	"context"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/dispict/internal/catalog"
	"github.com/hyperjump/dispict/internal/embedding"
	"github.com/hyperjump/dispict/internal/fetch"
	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/storage"
	"github.com/hyperjump/dispict/internal/vector"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxConcurrentChunks = 20
)

// Fetcher downloads a chunk's URLs, returning one response per position.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) []*fetch.Response
}

// ImageEncoder embeds a batch of decoded images as one call.
type ImageEncoder interface {
	EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error)
	Dimensions() int
}

// Options controls batching. Zero values take defaults.
type Options struct {
	ChunkSize           int
	MaxConcurrentChunks int
}

// RunResult is the merged output of a batch run. IDs are ascending and
// Vectors[i] is the embedding of IDs[i].
type RunResult struct {
	Run      *models.Run
	Total    int
	Embedded int
	Failures []*models.Failure
	IDs      []int64
	Vectors  [][]float32
	Duration time.Duration
}

// Summary reports how many catalog items were embedded.
func (r *RunResult) Summary() string {
	return fmt.Sprintf("Finished embedding %d images out of %d", r.Embedded, r.Total)
}

// Indexer runs batch embedding over a catalog.
type Indexer struct {
	fetcher  Fetcher
	encoder  ImageEncoder
	ledger   storage.Ledger
	opts     Options
	decode   func([]byte) (image.Image, error)
	progress *progressbar.ProgressBar
	logger   *zap.Logger // optional
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for run milestones and per-item failures.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithProgress advances bar by one for every finished chunk.
func WithProgress(bar *progressbar.ProgressBar) IndexerOption {
	return func(idx *Indexer) { idx.progress = bar }
}

// WithDecoder replaces the image decoder.
func WithDecoder(decode func([]byte) (image.Image, error)) IndexerOption {
	return func(idx *Indexer) { idx.decode = decode }
}

// NewIndexer creates an indexer. ledger may be nil.
func NewIndexer(fetcher Fetcher, encoder ImageEncoder, ledger storage.Ledger, opts Options, options ...IndexerOption) *Indexer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = catalog.DefaultChunkSize
	}
	if opts.MaxConcurrentChunks <= 0 {
		opts.MaxConcurrentChunks = DefaultMaxConcurrentChunks
	}
	idx := &Indexer{
		fetcher: fetcher,
		encoder: encoder,
		ledger:  ledger,
		opts:    opts,
		decode:  embedding.DecodeImage,
	}
	for _, opt := range options {
		opt(idx)
	}
	return idx
}

// ChunkCount returns how many chunks a run over cat will process.
func (idx *Indexer) ChunkCount(cat *catalog.Catalog) int {
	return (cat.Len() + idx.opts.ChunkSize - 1) / idx.opts.ChunkSize
}

type chunkResult struct {
	embedded map[int64][]float32
	failures []*models.Failure
}

// Run embeds every catalog item. Chunks run concurrently, at most
// MaxConcurrentChunks at a time; a failing chunk cancels the rest and the
// run returns its error. Items that cannot be fetched or decoded are
// reported in Failures and get no embedding.
func (idx *Indexer) Run(ctx context.Context, cat *catalog.Catalog) (*RunResult, error) {
	start := time.Now()
	run := &models.Run{
		ID:        uuid.New().String(),
		StartedAt: start,
		Status:    models.RunStatusRunning,
		Total:     cat.Len(),
	}
	idx.recordRunStart(ctx, run)

	chunks := cat.Chunk(idx.opts.ChunkSize)
	if idx.logger != nil {
		idx.logger.Info("Embedding run started",
			zap.String("run_id", run.ID),
			zap.Int("items", cat.Len()),
			zap.Int("chunks", len(chunks)),
			zap.Int("max_concurrent_chunks", idx.opts.MaxConcurrentChunks))
	}

	results := make([]*chunkResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.opts.MaxConcurrentChunks)
	for i := range chunks {
		i := i
		chunk := chunks[i]
		g.Go(func() error {
			res, err := idx.processChunk(gctx, run.ID, chunk)
			if err != nil {
				return err
			}
			results[i] = res
			if idx.progress != nil {
				_ = idx.progress.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		idx.recordRunFinish(ctx, run, nil)
		return nil, fmt.Errorf("embedding run %s failed: %w", run.ID, err)
	}

	result, err := merge(results)
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		idx.recordRunFinish(ctx, run, nil)
		return nil, err
	}
	result.Run = run
	result.Total = cat.Len()
	result.Duration = time.Since(start)

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.Embedded = result.Embedded
	run.Failed = len(result.Failures)
	idx.recordRunFinish(ctx, run, result.Failures)

	if idx.logger != nil {
		idx.logger.Info(result.Summary(),
			zap.String("run_id", run.ID),
			zap.Int("failed", len(result.Failures)),
			zap.Duration("duration", result.Duration))
	}
	return result, nil
}

// merge combines per-chunk mappings. An ID embedded by two chunks is a
// consistency error.
func merge(results []*chunkResult) (*RunResult, error) {
	all := make(map[int64][]float32)
	out := &RunResult{}
	for _, res := range results {
		for id, v := range res.embedded {
			if _, dup := all[id]; dup {
				return nil, &models.ConsistencyError{
					Op:       "merge",
					Expected: len(all),
					Actual:   len(all) + 1,
					Detail:   fmt.Sprintf("id %d embedded by more than one chunk", id),
				}
			}
			all[id] = v
		}
		out.Failures = append(out.Failures, res.failures...)
	}

	out.IDs = make([]int64, 0, len(all))
	for id := range all {
		out.IDs = append(out.IDs, id)
	}
	slices.Sort(out.IDs)
	out.Vectors = make([][]float32, len(out.IDs))
	for i, id := range out.IDs {
		out.Vectors[i] = all[id]
	}
	out.Embedded = len(out.IDs)
	slices.SortFunc(out.Failures, func(a, b *models.Failure) int {
		switch {
		case a.ArtworkID < b.ArtworkID:
			return -1
		case a.ArtworkID > b.ArtworkID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (idx *Indexer) processChunk(ctx context.Context, runID string, chunk models.BatchChunk) (*chunkResult, error) {
	responses := idx.fetcher.FetchAll(ctx, chunk.URLs)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(responses) != chunk.Len() {
		return nil, &models.ConsistencyError{Op: "fetch", Expected: chunk.Len(), Actual: len(responses), Detail: fmt.Sprintf("responses for chunk %d", chunk.Index)}
	}

	res := &chunkResult{}
	var missing []int
	images := make([]image.Image, 0, chunk.Len())
	for i, resp := range responses {
		failure := &models.Failure{RunID: runID, ArtworkID: chunk.IDs[i], URL: chunk.URLs[i]}
		if resp != nil {
			failure.StatusCode = resp.StatusCode
		}
		switch {
		case resp == nil || resp.Err != nil:
			failure.Reason = models.FailureReasonFetch
			if resp != nil {
				failure.Detail = resp.Err.Error()
			}
		case !resp.OK():
			failure.Reason = models.FailureReasonStatus
		default:
			img, err := idx.decode(resp.Body)
			if err == nil {
				images = append(images, img)
				continue
			}
			failure.Reason = models.FailureReasonDecode
			failure.Detail = err.Error()
		}
		missing = append(missing, i)
		res.failures = append(res.failures, failure)
		if idx.logger != nil {
			idx.logger.Debug("Item marked missing",
				zap.Int64("artwork_id", failure.ArtworkID),
				zap.String("url", failure.URL),
				zap.Int("status", failure.StatusCode),
				zap.String("reason", failure.Reason))
		}
	}

	vectors := [][]float32{}
	if len(images) > 0 {
		var err error
		vectors, err = idx.encoder.EncodeImages(ctx, images)
		if err != nil {
			return nil, &models.EmbeddingCallError{Chunk: chunk.Index, Err: err}
		}
	}
	embedded, err := Reconcile(chunk.IDs, missing, vectors)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", chunk.Index, err)
	}
	res.embedded = embedded

	if idx.logger != nil {
		idx.logger.Debug("Chunk embedded",
			zap.Int("chunk", chunk.Index),
			zap.Int("embedded", len(embedded)),
			zap.Int("missing", len(missing)))
	}
	return res, nil
}

// Persist publishes the run result as a vector store at path. The previous
// store, if any, is replaced only once the new file is complete.
func (idx *Indexer) Persist(ctx context.Context, result *RunResult, path string) error {
	if result.Embedded == 0 && idx.logger != nil {
		idx.logger.Warn("Publishing an empty vector store", zap.String("path", path))
	}
	if err := vector.WriteStore(path, idx.encoder.Dimensions(), result.IDs, result.Vectors); err != nil {
		return fmt.Errorf("failed to persist vector store: %w", err)
	}
	if result.Run != nil {
		result.Run.StorePath = path
		if idx.ledger != nil {
			if err := idx.ledger.FinishRun(ctx, result.Run); err != nil && idx.logger != nil {
				idx.logger.Warn("Failed to record store path", zap.String("run_id", result.Run.ID), zap.Error(err))
			}
		}
	}
	if idx.logger != nil {
		idx.logger.Info("Vector store published", zap.String("path", path), zap.Int("rows", len(result.IDs)))
	}
	return nil
}

func (idx *Indexer) recordRunStart(ctx context.Context, run *models.Run) {
	if idx.ledger == nil {
		return
	}
	if err := idx.ledger.CreateRun(ctx, run); err != nil && idx.logger != nil {
		idx.logger.Warn("Failed to record run start", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (idx *Indexer) recordRunFinish(ctx context.Context, run *models.Run, failures []*models.Failure) {
	if idx.ledger == nil {
		return
	}
	// ledger writes outlive run cancellation
	ctx = context.WithoutCancel(ctx)
	if err := idx.ledger.RecordFailures(ctx, failures); err != nil && idx.logger != nil {
		idx.logger.Warn("Failed to record failures", zap.String("run_id", run.ID), zap.Error(err))
	}
	if err := idx.ledger.FinishRun(ctx, run); err != nil && idx.logger != nil {
		idx.logger.Warn("Failed to record run finish", zap.String("run_id", run.ID), zap.Error(err))
	}
}
