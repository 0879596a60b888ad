package embedding

import (
	"context"
	"fmt"
	"image"

	"github.com/hyperjump/dispict/internal/models"
	"go.uber.org/zap"
)

// Encoder runs batches through an embedder and checks that the model
// returned exactly one row of the expected width per input.
type Encoder struct {
	text   TextEmbedder
	image  ImageEmbedder
	dim    int
	logger *zap.Logger
}

type EncoderOption func(*Encoder)

func WithEncoderLogger(logger *zap.Logger) EncoderOption {
	return func(e *Encoder) {
		e.logger = logger
	}
}

// NewEncoder wraps a model. Rows must have the model's dimension.
func NewEncoder(model Embedder, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		text:   model,
		image:  model,
		dim:    model.Dimensions(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimensions returns the width of every encoded row.
func (e *Encoder) Dimensions() int {
	return e.dim
}

// EncodeImages embeds a batch of images as one model call.
func (e *Encoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if len(images) == 0 {
		return [][]float32{}, nil
	}
	rows, err := e.image.EmbedImages(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("image embedding failed: %w", err)
	}
	if err := e.check("encode_images", len(images), rows); err != nil {
		return nil, err
	}
	e.logger.Debug("Encoded image batch", zap.Int("images", len(images)))
	return rows, nil
}

// EncodeTexts embeds a batch of texts as one model call.
func (e *Encoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	rows, err := e.text.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("text embedding failed: %w", err)
	}
	if err := e.check("encode_texts", len(texts), rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// EncodeText embeds a single text.
func (e *Encoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	rows, err := e.EncodeTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (e *Encoder) check(op string, inputs int, rows [][]float32) error {
	if len(rows) != inputs {
		return &models.ConsistencyError{Op: op, Expected: inputs, Actual: len(rows), Detail: "rows returned by model"}
	}
	for i, row := range rows {
		if len(row) != e.dim {
			return &models.ConsistencyError{
				Op:       op,
				Expected: e.dim,
				Actual:   len(row),
				Detail:   fmt.Sprintf("dimension of row %d", i),
			}
		}
	}
	return nil
}
