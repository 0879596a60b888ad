// Package embedding maps text and images into a shared vector space.
package embedding

import (
	"context"
	"image"
)

// DefaultDimensions is the width of a CLIP ViT-B/32 embedding.
const DefaultDimensions = 512

// TextEmbedder produces one embedding per input text.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ImageEmbedder produces one embedding per decoded image.
type ImageEmbedder interface {
	EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Embedder is a model that embeds both modalities into the same space.
type Embedder interface {
	TextEmbedder
	ImageEmbedder
}
