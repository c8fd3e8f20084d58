package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/vectorstore"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type Upserter interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
}

type Registry interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
}

// Ingestor turns normalized text into tenant-tagged chunk vectors and
// records the file in the document registry.
type Ingestor struct {
	embedder Embedder
	store    Upserter
	registry Registry
}

func NewIngestor(embedder Embedder, store Upserter, registry Registry) *Ingestor {
	return &Ingestor{embedder: embedder, store: store, registry: registry}
}

// Result reports what one ingestion produced.
type Result struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	ChunkCount int    `json:"chunks_count"`
	SourceType string `json:"source_type"`
}

// IngestText chunks, embeds and upserts one file's text for a tenant.
func (in *Ingestor) IngestText(ctx context.Context, tenantID int, filename, text, sourceType string, chunkSize, overlap int) (*Result, error) {
	chunks := SplitText(text, chunkSize, overlap)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text to ingest")
	}

	fileID := uuid.NewString()
	uploadTime := time.Now().UTC().Format(time.RFC3339)

	points := make([]vectorstore.Point, len(chunks))
	for i, chunk := range chunks {
		vector, err := in.embedder.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		// Point ids are derived from file_id and index so re-upserting
		// the same file never duplicates points.
		pointID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", fileID, i)))
		points[i] = vectorstore.Point{
			ID:     pointID.String(),
			Vector: vector,
			Payload: map[string]any{
				"tenant_id":   tenantID,
				"file_id":     fileID,
				"filename":    filename,
				"chunk_index": i,
				"source_type": sourceType,
				"upload_time": uploadTime,
				"text":        chunk,
			},
		}
	}

	if err := in.store.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}

	doc := &models.Document{
		TenantID:   tenantID,
		FileID:     fileID,
		Filename:   filename,
		SourceType: sourceType,
		ChunkCount: len(chunks),
	}
	if err := in.registry.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}

	return &Result{
		FileID:     fileID,
		Filename:   filename,
		ChunkCount: len(chunks),
		SourceType: sourceType,
	}, nil
}
