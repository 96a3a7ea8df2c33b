//go:build !onnx

package main

import (
	"errors"

	"github.com/becomeliminal/memento/config"
	"github.com/becomeliminal/memento/memory"
)

func newONNXEmbedder(*config.Config) (memory.Embedder, error) {
	return nil, errors.New("memento was built without onnx support (rebuild with -tags onnx)")
}
