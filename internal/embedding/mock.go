package embedding

import (
	"context"
	"image"
	"math"
)

// MockEmbedder is a deterministic embedder for tests and for running without
// model files. Text vectors derive from the text hash; image vectors derive
// from a coarse grid of sampled pixels, so identical images embed identically.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock embedder producing vectors of the given width.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(HashString(text))
	}
	return out, nil
}

func (e *MockEmbedder) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(hashImage(img))
	}
	return out, nil
}

func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *MockEmbedder) Close() error {
	return nil
}

// vector is not unit length; consumers normalize.
func (e *MockEmbedder) vector(h int) []float32 {
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(float64(h%100003)*float64(i+1))*0.5 + 0.01)
	}
	return emb
}

func hashImage(img image.Image) int {
	b := img.Bounds()
	h := 17
	const grid = 8
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			x := b.Min.X + (2*gx+1)*b.Dx()/(2*grid)
			y := b.Min.Y + (2*gy+1)*b.Dy()/(2*grid)
			r, g, bl, _ := img.At(x, y).RGBA()
			h = 31*h + int(r>>8)
			h = 31*h + int(g>>8)
			h = 31*h + int(bl>>8)
			h &= math.MaxInt32
		}
	}
	return h
}

// HashString returns a deterministic non-negative hash.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
		h &= math.MaxInt32
	}
	return h
}
