package retrieval

import (
	"context"
	"fmt"

	"github.com/tuukaa/rag-gateway/internal/models"
)

// MaxTopK caps how many candidates one query may pull from the store,
// which in turn caps downstream context and generation cost.
const MaxTopK = 20

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Searcher interface {
	Search(ctx context.Context, tenantID int, vector []float64, topK int) ([]models.Chunk, error)
}

// Adapter embeds the query, searches the vector store with the
// mandatory tenant filter and applies the similarity-threshold policy.
type Adapter struct {
	embedder        Embedder
	store           Searcher
	distanceCeiling float64
}

func NewAdapter(embedder Embedder, store Searcher, distanceCeiling float64) *Adapter {
	return &Adapter{embedder: embedder, store: store, distanceCeiling: distanceCeiling}
}

// Retrieve returns the tenant's nearest chunks within the distance
// ceiling. A query can legitimately return zero chunks: every nearest
// neighbor may still be too dissimilar to use.
func (a *Adapter) Retrieve(ctx context.Context, query string, topK, tenantID int) ([]models.Chunk, error) {
	if topK < 1 {
		topK = 1
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := a.store.Search(ctx, tenantID, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance > a.distanceCeiling {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
