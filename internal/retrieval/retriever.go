package retrieval

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrCollectionNotFound is returned by a VectorStore searching a collection
// that no longer exists.
var ErrCollectionNotFound = errors.New("collection not found")

// VectorStore is the similarity collaborator used by the Retriever.
type VectorStore interface {
	CollectionExists(ctx context.Context) (bool, error)
	CreateCollection(ctx context.Context) error
	Search(ctx context.Context, vector []float32, limit int) ([]string, error)
}

// Retriever returns a small deduplicated set of knowledge snippets for a
// query. It never fails: every problem degrades to an empty result.
type Retriever struct {
	embedder Embedder
	store    VectorStore
	timeout  time.Duration

	mu    sync.Mutex
	ready bool
}

func NewRetriever(embedder Embedder, store VectorStore, timeout time.Duration) *Retriever {
	return &Retriever{
		embedder: embedder,
		store:    store,
		timeout:  timeout,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) []string {
	if topK < 1 {
		topK = 1
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ok, err := r.ensureCollection(ctx)
	if err != nil {
		log.Printf("retrieval: collection check failed: %v", err)
		return []string{}
	}
	if !ok {
		return []string{}
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("retrieval: embed failed: %v", err)
		return []string{}
	}

	docs, err := r.store.Search(ctx, vector, topK*2)
	if err != nil {
		log.Printf("retrieval: search failed: %v", err)
		if errors.Is(err, ErrCollectionNotFound) {
			// dropped behind our back; provision again on the next call
			r.mu.Lock()
			r.ready = false
			r.mu.Unlock()
		}
		return []string{}
	}
	if len(docs) == 0 {
		log.Println("retrieval: no documents found in collection")
		return []string{}
	}

	return uniqueFirst(docs, topK)
}

// ensureCollection reports whether the collection is ready to search. A
// missing collection is created and reported as not ready, since it is empty.
func (r *Retriever) ensureCollection(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return true, nil
	}

	exists, err := r.store.CollectionExists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		r.ready = true
		return true, nil
	}

	log.Println("retrieval: collection not found, creating it")
	if err := r.store.CreateCollection(ctx); err != nil {
		return false, err
	}
	r.ready = true
	log.Println("✓ retrieval: collection created")
	return false, nil
}

// uniqueFirst keeps the first occurrence of each document, up to limit.
func uniqueFirst(docs []string, limit int) []string {
	seen := make(map[string]struct{}, len(docs))
	out := make([]string, 0, limit)
	for _, d := range docs {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out
}
