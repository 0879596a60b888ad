//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs CLIP text and vision towers exported to ONNX. It requires
// CGO and the onnxruntime shared library. Inputs are evaluated one at a time
// through pre-allocated tensors.
type ONNXEmbedder struct {
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	text  *onnxTower
	image *onnxTower

	textMu  sync.Mutex
	imageMu sync.Mutex
}

// onnxTower is one session with its bound input and output tensors.
type onnxTower struct {
	session *ort.AdvancedSession
	inputs  []ort.ArbitraryTensor
	output  *ort.Tensor[float32]
}

func (t *onnxTower) destroy() error {
	if t == nil {
		return nil
	}
	var err error
	if t.session != nil {
		err = t.session.Destroy()
		t.session = nil
	}
	for _, in := range t.inputs {
		_ = in.Destroy()
	}
	t.inputs = nil
	if t.output != nil {
		_ = t.output.Destroy()
		t.output = nil
	}
	return err
}

// NewONNXEmbedder loads the configured towers. InitializeEnvironment is called if not already done.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	cfg.applyDefaults()
	if cfg.TextModelPath == "" && cfg.ImageModelPath == "" {
		return nil, errors.New("no ONNX model paths configured")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
	}
	if cfg.TextModelPath != "" {
		tok, err := LoadCLIPTokenizer(cfg.TokenizerPath)
		if err != nil {
			return nil, err
		}
		e.tokenizer = tok
		tower, err := newTextTower(cfg.TextModelPath, cfg.MaxTokens, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		e.text = tower
	}
	if cfg.ImageModelPath != "" {
		tower, err := newImageTower(cfg.ImageModelPath, cfg.Dimensions)
		if err != nil {
			_ = e.text.destroy()
			return nil, err
		}
		e.image = tower
	}
	return e, nil
}

func newTextTower(modelPath string, maxTokens, dimensions int) (*onnxTower, error) {
	shape := ort.NewShape(1, int64(maxTokens))
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attentionMask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		return nil, fmt.Errorf("failed to create text_embeds tensor: %w", err)
	}

	tower := &onnxTower{
		inputs: []ort.ArbitraryTensor{inputIDs, attentionMask},
		output: output,
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		tower.inputs,
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		_ = tower.destroy()
		return nil, fmt.Errorf("failed to create text ONNX session: %w", err)
	}
	tower.session = session
	return tower, nil
}

func newImageTower(modelPath string, dimensions int) (*onnxTower, error) {
	pixels, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, ImageSize, ImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		pixels.Destroy()
		return nil, fmt.Errorf("failed to create image_embeds tensor: %w", err)
	}

	tower := &onnxTower{
		inputs: []ort.ArbitraryTensor{pixels},
		output: output,
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		tower.inputs,
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		_ = tower.destroy()
		return nil, fmt.Errorf("failed to create image ONNX session: %w", err)
	}
	tower.session = session
	return tower, nil
}

// EmbedTexts returns one raw (unnormalized) text embedding per input.
func (e *ONNXEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.text == nil {
		return nil, errors.New("text model not configured")
	}
	e.textMu.Lock()
	defer e.textMu.Unlock()

	inputIDs := e.text.inputs[0].(*ort.Tensor[int64])
	attentionMask := e.text.inputs[1].(*ort.Tensor[int64])

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask := e.tokenizer.Tokenize(text, e.maxTokens)
		copy(inputIDs.GetData(), ids)
		copy(attentionMask.GetData(), mask)
		if err := e.text.session.Run(); err != nil {
			return nil, fmt.Errorf("text inference failed: %w", err)
		}
		out[i] = e.readOutput(e.text)
	}
	return out, nil
}

// EmbedImages returns one raw (unnormalized) image embedding per input.
func (e *ONNXEmbedder) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if e.image == nil {
		return nil, errors.New("image model not configured")
	}
	e.imageMu.Lock()
	defer e.imageMu.Unlock()

	pixels := e.image.inputs[0].(*ort.Tensor[float32])

	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		copy(pixels.GetData(), Preprocess(img))
		if err := e.image.session.Run(); err != nil {
			return nil, fmt.Errorf("image inference failed: %w", err)
		}
		out[i] = e.readOutput(e.image)
	}
	return out, nil
}

func (e *ONNXEmbedder) readOutput(t *onnxTower) []float32 {
	emb := make([]float32, e.dimensions)
	copy(emb, t.output.GetData())
	return emb
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys both sessions and their tensors.
func (e *ONNXEmbedder) Close() error {
	e.textMu.Lock()
	defer e.textMu.Unlock()
	e.imageMu.Lock()
	defer e.imageMu.Unlock()

	errText := e.text.destroy()
	errImage := e.image.destroy()
	e.text, e.image = nil, nil
	return errors.Join(errText, errImage)
}
