package knowledge

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// VectorIndex wraps an embedded chromem-go collection, treated as the
// paired vector table for the chunks store: every Upsert call carries
// the chunk row id as the document id, so deleting or overwriting a
// chunk row and its embedding stay in lockstep.
type VectorIndex struct {
	mu         sync.RWMutex
	collection *chromem.Collection
}

const collectionName = "chunks"

// identityEmbed is required by chromem-go's collection constructor but
// never invoked: every vector passed to Upsert/Query is precomputed by
// the provider adapter.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorindex: embedding function invoked; vectors must be precomputed")
}

// OpenVectorIndex opens a chromem-go database, in memory unless
// persistPath is set. A failure here is not fatal to the caller: it is
// reported so Store.SetVectorAvailable(false) can put the retriever
// into keyword-only degraded mode.
func OpenVectorIndex(persistPath string) (*VectorIndex, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("opening persistent vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("creating vector collection: %w", err)
	}
	return &VectorIndex{collection: col}, nil
}

// Upsert stores vector under chunkID with the chunk text and source
// metadata attached for retrieval-time joins.
func (v *VectorIndex) Upsert(ctx context.Context, chunkID string, vector []float32, text string, metadata map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	doc := chromem.Document{ID: chunkID, Content: text, Metadata: metadata, Embedding: vector}
	return v.collection.AddDocuments(ctx, []chromem.Document{doc}, 1)
}

// Delete removes the embedding row paired with chunkID.
func (v *VectorIndex) Delete(ctx context.Context, chunkID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collection.Delete(ctx, nil, nil, chunkID)
}

// VectorResult is one nearest-neighbor hit.
type VectorResult struct {
	ChunkID string
	Score   float32
}

// Query runs a k-NN search against the collection using a precomputed
// query vector, returning at most topK hits ordered by similarity.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]VectorResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	count := v.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	results, err := v.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	out := make([]VectorResult, 0, len(results))
	for _, r := range results {
		out = append(out, VectorResult{ChunkID: r.ID, Score: r.Similarity})
	}
	return out, nil
}
