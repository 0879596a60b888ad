package embedding

import (
	"bytes"
	"fmt"
	"image"
	"math"

	// Registered decoders for catalog images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ImageSize is the square input resolution of the CLIP vision tower.
const ImageSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// DecodeImage decodes a fetched payload. An error means the payload is not a
// usable image and the item counts as missing.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("image has zero size")
	}
	return img, nil
}

// Preprocess resizes the shortest side to ImageSize with bilinear sampling,
// center-crops to ImageSize x ImageSize, and returns a CHW tensor normalized
// with CLIP's channel mean and std.
func Preprocess(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := float64(ImageSize) / float64(min(w, h))
	resizedW := max(ImageSize, int(math.Round(float64(w)*scale)))
	resizedH := max(ImageSize, int(math.Round(float64(h)*scale)))
	offX := (resizedW - ImageSize) / 2
	offY := (resizedH - ImageSize) / 2

	plane := ImageSize * ImageSize
	out := make([]float32, 3*plane)
	for y := 0; y < ImageSize; y++ {
		sy := (float64(y+offY)+0.5)/scale - 0.5
		for x := 0; x < ImageSize; x++ {
			sx := (float64(x+offX)+0.5)/scale - 0.5
			rgb := bilinear(img, b, sx, sy)
			i := y*ImageSize + x
			for c := 0; c < 3; c++ {
				out[c*plane+i] = (rgb[c] - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

// bilinear samples img at fractional coordinates relative to b.Min, clamped
// to the image edge. Channels are in [0, 1].
func bilinear(img image.Image, b image.Rectangle, sx, sy float64) [3]float32 {
	x0 := int(math.Floor(sx))
	y0 := int(math.Floor(sy))
	fx := sx - float64(x0)
	fy := sy - float64(y0)

	clampX := func(x int) int { return b.Min.X + min(max(x, 0), b.Dx()-1) }
	clampY := func(y int) int { return b.Min.Y + min(max(y, 0), b.Dy()-1) }

	var out [3]float32
	corners := [4]struct {
		x, y int
		w    float64
	}{
		{clampX(x0), clampY(y0), (1 - fx) * (1 - fy)},
		{clampX(x0 + 1), clampY(y0), fx * (1 - fy)},
		{clampX(x0), clampY(y0 + 1), (1 - fx) * fy},
		{clampX(x0 + 1), clampY(y0 + 1), fx * fy},
	}
	for _, c := range corners {
		if c.w == 0 {
			continue
		}
		r, g, bl, _ := img.At(c.x, c.y).RGBA()
		out[0] += float32(c.w * float64(r) / 0xffff)
		out[1] += float32(c.w * float64(g) / 0xffff)
		out[2] += float32(c.w * float64(bl) / 0xffff)
	}
	return out
}
