package e2e

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"
)

// EncodeSwatch returns a small PNG filled with c.
func EncodeSwatch(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// SwatchEmbedder places the image of swatch i and the text "swatch i" on the
// same axis, so text queries retrieve the matching image.
type SwatchEmbedder struct {
	N int
}

func (e *SwatchEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(t), "swatch "))
		if err != nil {
			n = -1
		}
		out[i] = e.axis(n)
	}
	return out, nil
}

func (e *SwatchEmbedder) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = e.axis(e.nearestSwatch(img))
	}
	return out, nil
}

func (e *SwatchEmbedder) Dimensions() int {
	return e.N + 1
}

func (e *SwatchEmbedder) Close() error {
	return nil
}

// axis returns a one-hot vector; unknown inputs use the last slot.
func (e *SwatchEmbedder) axis(n int) []float32 {
	v := make([]float32, e.N+1)
	if n < 0 || n >= e.N {
		n = e.N
	}
	v[n] = 1
	return v
}

func (e *SwatchEmbedder) nearestSwatch(img image.Image) int {
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	best, bestDist := -1, math.MaxFloat64
	for i := 0; i < e.N; i++ {
		c := SwatchColor(i)
		dr := float64(r>>8) - float64(c.R)
		dg := float64(g>>8) - float64(c.G)
		db := float64(bl>>8) - float64(c.B)
		if d := dr*dr + dg*dg + db*db; d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
