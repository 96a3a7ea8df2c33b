// Package chromem implements memory.DocumentIndex on chromem-go, an embedded
// pure-Go vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/memento/memory"
)

// Index keeps one chromem collection per owner.
type Index struct {
	db          *chromem.DB
	embedder    memory.Embedder
	concurrency int

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// Option configures an Index.
type Option func(*Index)

// WithConcurrency sets how many documents are embedded in parallel on ingest.
func WithConcurrency(n int) Option {
	return func(i *Index) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// New creates an in-memory index that embeds through embedder.
func New(embedder memory.Embedder, opts ...Option) *Index {
	i := &Index{
		db:          chromem.NewDB(),
		embedder:    embedder,
		concurrency: 4,
		collections: make(map[string]*chromem.Collection),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// collection returns the owner's collection, creating it on first use.
func (i *Index) collection(ownerID string) (*chromem.Collection, error) {
	i.mu.RLock()
	col, ok := i.collections[ownerID]
	i.mu.RUnlock()
	if ok {
		return col, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if col, ok := i.collections[ownerID]; ok {
		return col, nil
	}

	col, err := i.db.GetOrCreateCollection("owner_"+ownerID, nil, i.embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	i.collections[ownerID] = col
	return col, nil
}

// Ingest embeds and stores docs under ownerID.
func (i *Index) Ingest(ctx context.Context, ownerID string, docs []memory.Document) error {
	if len(docs) == 0 {
		return nil
	}
	col, err := i.collection(ownerID)
	if err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Content == "" {
			continue
		}
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}
	if len(chromemDocs) == 0 {
		return nil
	}

	if err := col.AddDocuments(ctx, chromemDocs, i.concurrency); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}

	log.Printf("[CHROMEM] Ingested %d documents for owner=%s (total=%d)", len(chromemDocs), ownerID, col.Count())
	return nil
}

// Search returns up to k documents closest to query.
func (i *Index) Search(ctx context.Context, ownerID, query string, k int) ([]memory.Document, error) {
	col, err := i.collection(ownerID)
	if err != nil {
		return nil, err
	}

	// chromem-go rejects nResults larger than the collection.
	n := k
	if count := col.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	embedding, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	docs := make([]memory.Document, len(results))
	for j, r := range results {
		docs[j] = memory.Document{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		}
	}

	log.Printf("[CHROMEM] Query for owner=%s returned %d of %d requested", ownerID, len(docs), k)
	return docs, nil
}

// Count returns how many documents ownerID has indexed.
func (i *Index) Count(ownerID string) int {
	i.mu.RLock()
	col, ok := i.collections[ownerID]
	i.mu.RUnlock()
	if !ok {
		return 0
	}
	return col.Count()
}

// Reset drops ownerID's collection.
func (i *Index) Reset(ownerID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.collections[ownerID]; !ok {
		return nil
	}
	if err := i.db.DeleteCollection("owner_" + ownerID); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(i.collections, ownerID)
	return nil
}

var _ memory.DocumentIndex = (*Index)(nil)
