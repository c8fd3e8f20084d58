package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tuukaa/rag-gateway/internal/models"
)

// Client is a minimal REST client to Qdrant. One shared collection
// holds every tenant's chunks; the tenant payload filter on every read
// and delete is what keeps corpora isolated.
type Client struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Point is one chunk vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float64      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// EnsureCollection creates the collection if missing. Qdrant answers
// 200 when it already exists with the same schema.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s", c.url, c.collection), body, nil)
}

func (c *Client) Upsert(ctx context.Context, points []Point) error {
	body := map[string]any{"points": points}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("%s/collections/%s/points?wait=true", c.url, c.collection), body, nil)
}

func tenantFilter(tenantID int) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "tenant_id", "match": map[string]any{"value": tenantID}},
		},
	}
}

// Search returns up to topK chunks for one tenant, nearest first.
// Distance is 1 - cosine score, so lower means more relevant.
func (c *Client) Search(ctx context.Context, tenantID int, vector []float64, topK int) ([]models.Chunk, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"filter":       tenantFilter(tenantID),
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.url, c.collection)
	if err := c.do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk := models.Chunk{Distance: 1 - r.Score}
		if v, ok := r.Payload["text"].(string); ok {
			chunk.Text = v
		}
		if v, ok := r.Payload["file_id"].(string); ok {
			chunk.FileID = v
		}
		if v, ok := r.Payload["filename"].(string); ok {
			chunk.Filename = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			chunk.ChunkIndex = int(v)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// DeleteByFileID removes all points for one tenant's file.
func (c *Client) DeleteByFileID(ctx context.Context, tenantID int, fileID string) error {
	filter := tenantFilter(tenantID)
	filter["must"] = append(filter["must"].([]map[string]any), map[string]any{
		"key": "file_id", "match": map[string]any{"value": fileID},
	})
	body := map[string]any{"filter": filter}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", c.url, c.collection)
	return c.do(ctx, http.MethodPost, url, body, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
