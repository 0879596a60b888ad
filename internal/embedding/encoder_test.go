package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/dispict/internal/models"
)

type shapeEmbedder struct {
	*MockEmbedder
	dropRow  bool
	shortRow bool
	fail     error
	calls    int
}

func (s *shapeEmbedder) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	rows, _ := s.MockEmbedder.EmbedImages(ctx, images)
	if s.dropRow {
		rows = rows[1:]
	}
	if s.shortRow {
		rows[0] = rows[0][:3]
	}
	return rows, nil
}

func testImages(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = solidImage(4, 4, color.RGBA{uint8(40 * i), 10, 200, 255})
	}
	return out
}

func TestEncoder_EncodeImages(t *testing.T) {
	enc := NewEncoder(NewMockEmbedder(8))
	rows, err := enc.EncodeImages(context.Background(), testImages(3))
	if err != nil {
		t.Fatalf("EncodeImages: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	for i, row := range rows {
		if len(row) != 8 {
			t.Errorf("row %d has width %d", i, len(row))
		}
	}
}

func TestEncoder_EmptyBatchSkipsModel(t *testing.T) {
	model := &shapeEmbedder{MockEmbedder: NewMockEmbedder(8)}
	enc := NewEncoder(model)
	rows, err := enc.EncodeImages(context.Background(), nil)
	if err != nil || len(rows) != 0 {
		t.Fatalf("rows=%v err=%v", rows, err)
	}
	if model.calls != 0 {
		t.Errorf("model called %d times for empty batch", model.calls)
	}
}

func TestEncoder_RejectsBadShapes(t *testing.T) {
	tests := []struct {
		name  string
		model *shapeEmbedder
	}{
		{"missing row", &shapeEmbedder{MockEmbedder: NewMockEmbedder(8), dropRow: true}},
		{"short row", &shapeEmbedder{MockEmbedder: NewMockEmbedder(8), shortRow: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncoder(tt.model).EncodeImages(context.Background(), testImages(2))
			if !errors.Is(err, models.ErrConsistency) {
				t.Errorf("err = %v, want consistency error", err)
			}
		})
	}
}

func TestEncoder_PropagatesModelError(t *testing.T) {
	boom := errors.New("out of memory")
	enc := NewEncoder(&shapeEmbedder{MockEmbedder: NewMockEmbedder(8), fail: boom})
	_, err := enc.EncodeImages(context.Background(), testImages(1))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped model error", err)
	}
}

func TestEncoder_EncodeText(t *testing.T) {
	enc := NewEncoder(NewMockEmbedder(16))
	a, err := enc.EncodeText(context.Background(), "a quiet harbor")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := enc.EncodeText(context.Background(), "a quiet harbor")
	c, _ := enc.EncodeText(context.Background(), "a loud city")
	if len(a) != 16 {
		t.Fatalf("width = %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text must embed identically")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("different texts embedded identically")
	}
}

func TestMockEmbedder_ImagesDeterministic(t *testing.T) {
	m := NewMockEmbedder(8)
	imgs := testImages(2)
	first, _ := m.EmbedImages(context.Background(), imgs)
	second, _ := m.EmbedImages(context.Background(), imgs)
	for i := range first {
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Fatalf("image %d not deterministic", i)
			}
		}
	}
	differ := false
	for j := range first[0] {
		if first[0][j] != first[1][j] {
			differ = true
		}
	}
	if !differ {
		t.Error("distinct images embedded identically")
	}
}

func TestEncoder_BatchMatchesSingleCalls(t *testing.T) {
	enc := NewEncoder(NewMockEmbedder(12))
	ctx := context.Background()

	imgs := testImages(5)
	batch, err := enc.EncodeImages(ctx, imgs)
	if err != nil {
		t.Fatal(err)
	}
	for i, img := range imgs {
		single, err := enc.EncodeImages(ctx, []image.Image{img})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(batch[i], single[0]) {
			t.Errorf("image %d: batch row differs from single call", i)
		}
	}

	texts := []string{"a quiet harbor", "lemons on a table", "winter mountains"}
	textBatch, err := enc.EncodeTexts(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	for i, text := range texts {
		single, err := enc.EncodeText(ctx, text)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(textBatch[i], single) {
			t.Errorf("text %q: batch row differs from single call", text)
		}
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString(strings.Repeat("overflow", 50)) < 0 {
		t.Error("hash should be non-negative")
	}
}
