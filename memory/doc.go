// Package memory turns chat messages into recallable memories.
//
// The package is split the same way the rest of the server is:
//   - Extractor: pure classification of message text into a category and an
//     optional date, driven by fixed keyword sets
//   - Manager: runs the Extractor on persisted messages and writes positive
//     results to a Store, and reads them back for recall and prompt context
//   - DocumentIndex: similarity search over arbitrary documents (ingested
//     email), backed by chromem-go and an Embedder
//
// Embedders live under memory/embedder: a deterministic mock for tests, an
// OpenAI-compatible HTTP embedder, and an ONNX embedder behind the onnx build
// tag.
package memory
