package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/vectorstore"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
		want      []string
	}{
		{"empty", "", 10, 2, nil},
		{"fits one chunk", "hello", 10, 2, []string{"hello"}},
		{"no overlap", "abcdefghij", 4, 0, []string{"abcd", "efgh", "ij"}},
		{"with overlap", "abcdefgh", 4, 2, []string{"abcd", "cdef", "efgh"}},
		{"overlap ge size ignored", "abcdefgh", 4, 4, []string{"abcd", "efgh"}},
		{"runes not bytes", "あいうえおかきく", 4, 0, []string{"あいうえ", "おかきく"}},
		{"zero size", "abc", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitText(tt.text, tt.chunkSize, tt.overlap)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks %v, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("a\r\nb\rc\n\n\n\nd   e")
	if strings.Contains(got, "\r") {
		t.Fatal("carriage returns survived")
	}
	if strings.Contains(got, "  ") {
		t.Fatalf("whitespace runs survived: %q", got)
	}
}

func TestStripTags(t *testing.T) {
	html := `<html><head><script>var x = "<b>ignored</b>";</script><style>.a{}</style></head>
<body><h1>Title</h1><p>Body text</p><noscript>no js</noscript></body></html>`
	got := StripTags(html)

	for _, want := range []string{"Title", "Body text"} {
		if !strings.Contains(got, want) {
			t.Fatalf("StripTags lost %q: %q", want, got)
		}
	}
	for _, gone := range []string{"ignored", "no js", "<", ">"} {
		if strings.Contains(got, gone) {
			t.Fatalf("StripTags kept %q: %q", gone, got)
		}
	}
}

func TestExtract(t *testing.T) {
	text, source, err := Extract([]byte("\xEF\xBB\xBFhello world"), "txt")
	if err != nil {
		t.Fatalf("Extract txt: %v", err)
	}
	if text != "hello world" || source != "text" {
		t.Fatalf("Extract = (%q, %q)", text, source)
	}

	if _, _, err := Extract([]byte("%PDF-1.4"), "pdf"); err == nil {
		t.Fatal("Extract accepted an unsupported kind")
	}
}

type captureEmbedder struct{ calls int }

func (c *captureEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	c.calls++
	return []float64{0.1}, nil
}

type captureUpserter struct{ points []vectorstore.Point }

func (c *captureUpserter) Upsert(_ context.Context, points []vectorstore.Point) error {
	c.points = points
	return nil
}

type captureRegistry struct{ doc *models.Document }

func (c *captureRegistry) CreateDocument(_ context.Context, doc *models.Document) error {
	c.doc = doc
	return nil
}

func TestIngestText(t *testing.T) {
	embedder := &captureEmbedder{}
	store := &captureUpserter{}
	registry := &captureRegistry{}
	ing := NewIngestor(embedder, store, registry)

	text := strings.Repeat("規定の本文です。", 20)
	result, err := ing.IngestText(context.Background(), 7, "rules.md", text, "markdown", 50, 10)
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}

	if result.FileID == "" {
		t.Fatal("result has no file id")
	}
	if result.ChunkCount != len(store.points) {
		t.Fatalf("chunk count %d != upserted points %d", result.ChunkCount, len(store.points))
	}
	if embedder.calls != result.ChunkCount {
		t.Fatalf("embedded %d chunks, want %d", embedder.calls, result.ChunkCount)
	}

	for i, p := range store.points {
		if p.Payload["tenant_id"] != 7 {
			t.Fatalf("point %d missing tenant tag: %v", i, p.Payload)
		}
		if p.Payload["file_id"] != result.FileID {
			t.Fatalf("point %d has wrong file id", i)
		}
		if p.Payload["chunk_index"] != i {
			t.Fatalf("point %d has chunk_index %v", i, p.Payload["chunk_index"])
		}
	}

	if registry.doc == nil || registry.doc.ChunkCount != result.ChunkCount {
		t.Fatalf("registry row = %+v", registry.doc)
	}
}

func TestIngestTextPointIDsAreDeterministic(t *testing.T) {
	store1 := &captureUpserter{}
	ing1 := NewIngestor(&captureEmbedder{}, store1, &captureRegistry{})
	store2 := &captureUpserter{}
	ing2 := NewIngestor(&captureEmbedder{}, store2, &captureRegistry{})

	// Different files get different ids even for identical text.
	ing1.IngestText(context.Background(), 1, "a.txt", "same text here", "text", 50, 0)
	ing2.IngestText(context.Background(), 1, "a.txt", "same text here", "text", 50, 0)

	if store1.points[0].ID == store2.points[0].ID {
		t.Fatal("point ids collide across separate ingestions")
	}
}

func TestIngestTextEmpty(t *testing.T) {
	ing := NewIngestor(&captureEmbedder{}, &captureUpserter{}, &captureRegistry{})
	if _, err := ing.IngestText(context.Background(), 1, "a.txt", "", "text", 50, 0); err == nil {
		t.Fatal("IngestText accepted empty text")
	}
}
