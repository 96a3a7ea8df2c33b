//go:build onnx

// Package onnx embeds text locally with a sentence-transformer model
// (all-MiniLM-L6-v2 or similar) through ONNX Runtime. Build with -tags onnx.
package onnx

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the embedder.
type Config struct {
	// ModelPath is the path to the .onnx model file.
	ModelPath string

	// TokenizerPath is the path to the HuggingFace tokenizer.json.
	TokenizerPath string

	// LibraryPath points at libonnxruntime. Empty uses the system default.
	LibraryPath string

	// Dimensions is the hidden size. Default: 384.
	Dimensions int

	// MaxTokens bounds the sequence length, [CLS] and [SEP] included. Default: 128.
	MaxTokens int
}

// Embedder runs mean-pooled sentence embeddings.
type Embedder struct {
	session    *ort.DynamicAdvancedSession
	vocab      *vocabulary
	dimensions int
	maxTokens  int
}

var initOnce sync.Once
var initErr error

// New loads the tokenizer and model.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx embedder: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 128
	}

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", initErr)
	}

	vocab, err := loadVocabulary(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	log.Printf("[ONNX] Loaded %s (dims=%d, vocab=%d)", cfg.ModelPath, cfg.Dimensions, vocab.size())
	return &Embedder{
		session:    session,
		vocab:      vocab,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

// Embed converts text to a unit embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ids := e.vocab.encode(text, e.maxTokens)
	n := len(ids)

	inputIDs := make([]int64, e.maxTokens)
	mask := make([]int64, e.maxTokens)
	typeIDs := make([]int64, e.maxTokens)
	copy(inputIDs, ids)
	for i := 0; i < n; i++ {
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(e.maxTokens))
	var inputs []ort.Value
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, data := range [][]int64{inputIDs, mask, typeIDs} {
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	return e.pool(hidden.GetData(), hidden.GetShape(), n)
}

// pool mean-pools [1, seq, hidden] over the first n (attended) positions.
// Models that already pool return [1, hidden].
func (e *Embedder) pool(data []float32, shape ort.Shape, n int) ([]float32, error) {
	embedding := make([]float32, e.dimensions)

	switch len(shape) {
	case 2:
		if len(data) < e.dimensions {
			return nil, fmt.Errorf("output has %d values, want %d", len(data), e.dimensions)
		}
		copy(embedding, data[:e.dimensions])
	case 3:
		if shape[2] != int64(e.dimensions) {
			return nil, fmt.Errorf("hidden size %d, want %d", shape[2], e.dimensions)
		}
		for i := 0; i < n; i++ {
			row := data[i*e.dimensions : (i+1)*e.dimensions]
			for j, v := range row {
				embedding[j] += v
			}
		}
		for j := range embedding {
			embedding[j] /= float32(n)
		}
	default:
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}

	var norm float64
	for _, v := range embedding {
		norm += float64(v * v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for j := range embedding {
			embedding[j] *= scale
		}
	}
	return embedding, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the session.
func (e *Embedder) Close() error {
	return e.session.Destroy()
}
