package memory

import (
	"context"

	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/store"
)

// Store is the persistence backend for memories.
// *store.Store satisfies it.
type Store interface {
	SaveMemory(ctx context.Context, mem *core.Memory) error
	ListMemories(ctx context.Context, filter store.MemoryFilter) ([]core.Memory, error)
	MeetingMemories(ctx context.Context, userID string) ([]core.Memory, error)
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), openai (HTTP API), onnx (local model).
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Document is a unit of searchable text owned by one user.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string

	// Similarity is set on search results only.
	Similarity float32
}

// DocumentIndex is a per-owner similarity index.
type DocumentIndex interface {
	// Ingest adds docs to owner's index. Re-ingesting an id replaces it.
	Ingest(ctx context.Context, ownerID string, docs []Document) error

	// Search returns up to k documents most similar to query, best first.
	// An empty index yields no results and no error.
	Search(ctx context.Context, ownerID, query string, k int) ([]Document, error)

	// Count returns how many documents owner has indexed.
	Count(ownerID string) int
}
