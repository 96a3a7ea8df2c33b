//go:build onnx

package main

import (
	"github.com/becomeliminal/memento/config"
	"github.com/becomeliminal/memento/memory"
	"github.com/becomeliminal/memento/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *config.Config) (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:     cfg.ONNXModelPath,
		TokenizerPath: cfg.ONNXTokenizerPath,
		LibraryPath:   cfg.ONNXLibraryPath,
	})
}
