package e2e

import (
	"context"
	"image"
	"testing"

	"github.com/hyperjump/dispict/internal/embedding"
)

func TestSwatchEmbedder_ImageMatchesText(t *testing.T) {
	e := &SwatchEmbedder{N: 8}
	ctx := context.Background()
	for i := 0; i < e.N; i++ {
		img, err := embedding.DecodeImage(EncodeSwatch(SwatchColor(i)))
		if err != nil {
			t.Fatalf("swatch %d: %v", i, err)
		}
		imgVecs, err := e.EmbedImages(ctx, []image.Image{img})
		if err != nil {
			t.Fatal(err)
		}
		textVecs, err := e.EmbedTexts(ctx, []string{SwatchName(i)})
		if err != nil {
			t.Fatal(err)
		}
		if imgVecs[0][i] != 1 || textVecs[0][i] != 1 {
			t.Errorf("swatch %d: image and text vectors disagree", i)
		}
	}
}

func TestSwatchEmbedder_UnknownText(t *testing.T) {
	e := &SwatchEmbedder{N: 4}
	vecs, err := e.EmbedTexts(context.Background(), []string{"a harbor at dusk", "swatch 99"})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range vecs {
		if len(v) != e.Dimensions() || v[e.N] != 1 {
			t.Errorf("text %d: expected the spare axis, got %v", i, v)
		}
	}
}
