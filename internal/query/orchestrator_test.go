package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tuukaa/rag-gateway/internal/admission"
	"github.com/tuukaa/rag-gateway/internal/analytics"
	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/pricing"
	"github.com/tuukaa/rag-gateway/internal/prompt"
	"github.com/tuukaa/rag-gateway/internal/tokenizer"
)

// test-model has no exact encoding, so token counts run on the
// counter's deterministic rune estimate. Prices are round per-token
// figures: 0.02 JPY in, 0.08 JPY out.
const testPricing = `
models:
  test-model:
    input_per_mtok: 20000
    output_per_mtok: 80000
    context_window: 8000
`

type fakeRetriever struct {
	chunks []models.Chunk
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _, _ int) ([]models.Chunk, error) {
	f.calls++
	return f.chunks, f.err
}

type fakeGenerator struct {
	answer string
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(_ context.Context, _, model string, _ float64, _ int) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return f.answer, model + "-2025", nil
}

type fakeDocs struct {
	total int
	err   error
}

func (f fakeDocs) TotalChunks(_ context.Context, _ int) (int, error) {
	return f.total, f.err
}

type fixture struct {
	orch      *Orchestrator
	retriever *fakeRetriever
	generator *fakeGenerator
	store     *admission.LocalStore
	agg       *analytics.Aggregator
}

func newFixture(t *testing.T, retriever *fakeRetriever, generator *fakeGenerator, docs fakeDocs) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte(testPricing), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := pricing.Load(path, 1.0, 8000)
	if err != nil {
		t.Fatal(err)
	}

	counter := tokenizer.NewCounter()
	store := admission.NewLocalStore()
	agg := analytics.NewAggregator(analytics.NewLocalSink(), 16)

	orch := NewOrchestrator(
		retriever,
		generator,
		docs,
		prompt.NewAssembler(counter, 10),
		admission.NewController(store, time.UTC),
		table,
		counter,
		agg,
		Defaults{
			Model:           "test-model",
			Temperature:     0.2,
			TopK:            10,
			MaxOutputTokens: 20,
			RateLimitRPM:    60,
			DailyBudgetJPY:  100,
		},
		func() string { return "2025-06-01" },
	)
	return &fixture{orch: orch, retriever: retriever, generator: generator, store: store, agg: agg}
}

func testTenant() *models.Tenant {
	return &models.Tenant{ID: 1, Name: "acme", APIKey: "key-1", RateLimitPerMinute: 60, DailyBudgetJPY: 100}
}

func askOpts() Options {
	return Options{ClientIP: "1.2.3.4", Route: "/api/ask"}
}

func relevantChunks() []models.Chunk {
	return []models.Chunk{
		{Text: strings.Repeat("a", 40), FileID: "f1", Filename: "rules.md", ChunkIndex: 0, Distance: 0.1},
		{Text: strings.Repeat("b", 40), FileID: "f1", Filename: "rules.md", ChunkIndex: 1, Distance: 0.2},
	}
}

func TestAnswerNoDocumentsShortCircuits(t *testing.T) {
	f := newFixture(t, &fakeRetriever{}, &fakeGenerator{answer: "x"}, fakeDocs{total: 0})

	resp, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？"}, askOpts())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != MsgNoDocuments {
		t.Fatalf("answer = %q, want the no-documents message", resp.Answer)
	}
	if len(resp.Documents) != 0 || len(resp.Citations) != 0 {
		t.Fatal("fixed answer carried documents or citations")
	}
	if f.retriever.calls != 0 {
		t.Fatal("retrieval ran for a tenant with nothing ingested")
	}
	if f.generator.calls != 0 {
		t.Fatal("generation ran for a tenant with nothing ingested")
	}
}

func TestAnswerNoRelevantChunks(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: nil}, &fakeGenerator{answer: "x"}, fakeDocs{total: 12})

	resp, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？"}, askOpts())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != MsgNoRelevantChunks {
		t.Fatalf("answer = %q, want the no-relevant message", resp.Answer)
	}
	if resp.Answer == MsgNoDocuments {
		t.Fatal("the two zero outcomes must stay distinguishable")
	}
	if f.generator.calls != 0 {
		t.Fatal("generation ran with no usable chunks")
	}
}

func TestAnswerSuccess(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "line1\nline2"}, fakeDocs{total: 12})

	resp, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？", ClientID: "client-a"}, askOpts())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if resp.Answer != "line1\nline2" {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if resp.LLMModel != "test-model-2025" {
		t.Fatalf("llm_model = %q, want the provider-reported name", resp.LLMModel)
	}
	if resp.Tokens <= 0 || resp.CostJPY <= 0 {
		t.Fatalf("tokens = %d, cost = %v, want both positive", resp.Tokens, resp.CostJPY)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("citations = %d, want 1 after dedup by file", len(resp.Citations))
	}
	if resp.Citations[0].FileID != "f1" || resp.Citations[0].Filename != "rules.md" {
		t.Fatalf("citation = %+v", resp.Citations[0])
	}
	if resp.ContextUsed == "" {
		t.Fatal("context_used is empty on a hit")
	}

	// The measured cost landed in the day's ledger.
	key := admission.NewDayKey(1, time.Now(), time.UTC)
	total, _ := f.store.ReadCost(context.Background(), key)
	if total != resp.CostJPY {
		t.Fatalf("ledger total = %v, want %v", total, resp.CostJPY)
	}
}

func TestAnswerRecordsAnalytics(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	_, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？", ClientID: "client-a"}, askOpts())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	f.agg.Close()

	snap, err := f.agg.Snapshot(context.Background(), 1, "2025-06-01")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Questions != 1 || snap.Hits != 1 {
		t.Fatalf("snapshot = %+v, want one question, one hit", snap)
	}
	if snap.Tokens <= 0 || snap.CostJPY <= 0 {
		t.Fatalf("snapshot tokens/cost = %d/%v, want positive", snap.Tokens, snap.CostJPY)
	}
}

func TestAnswerRateLimited(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	tenant := testTenant()
	tenant.RateLimitPerMinute = 1

	if _, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "q1 です"}, askOpts()); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "q2 です"}, askOpts())
	if !errors.Is(err, admission.ErrRateLimited) {
		t.Fatalf("second request = %v, want ErrRateLimited", err)
	}
}

func TestAnswerBudgetExceededAtPreCheck(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	tenant := testTenant()
	// Pre-estimate for this request is well above one yen.
	tenant.DailyBudgetJPY = 1

	_, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "社内規定は？"}, askOpts())
	if !errors.Is(err, admission.ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if f.generator.calls != 0 {
		t.Fatal("generation ran past a failed pre-check")
	}
}

func TestAnswerAdminBypassSkipsCostGates(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	tenant := testTenant()
	tenant.DailyBudgetJPY = 0.0001

	opt := askOpts()
	opt.AdminBypass = true
	resp, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "社内規定は？"}, opt)
	if err != nil {
		t.Fatalf("admin request rejected: %v", err)
	}
	if resp.Answer != "ok" {
		t.Fatalf("answer = %q", resp.Answer)
	}

	// Nothing was charged.
	key := admission.NewDayKey(1, time.Now(), time.UTC)
	if total, _ := f.store.ReadCost(context.Background(), key); total != 0 {
		t.Fatalf("ledger total = %v, want 0", total)
	}
}

func TestAnswerAdminStillRateLimited(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	tenant := testTenant()
	tenant.RateLimitPerMinute = 1
	opt := askOpts()
	opt.AdminBypass = true

	if _, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "q1 です"}, opt); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "q2 です"}, opt)
	if !errors.Is(err, admission.ErrRateLimited) {
		t.Fatalf("admin second request = %v, want ErrRateLimited", err)
	}
}

func TestAnswerTestRequestSkipsCommitAndAnalytics(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	opt := askOpts()
	opt.TestRequest = true
	resp, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？"}, opt)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.CostJPY <= 0 {
		t.Fatal("test requests still report their would-be cost")
	}

	key := admission.NewDayKey(1, time.Now(), time.UTC)
	if total, _ := f.store.ReadCost(context.Background(), key); total != 0 {
		t.Fatalf("ledger total = %v, want 0 for a test request", total)
	}

	f.agg.Close()
	snap, _ := f.agg.Snapshot(context.Background(), 1, "2025-06-01")
	if snap.Questions != 0 {
		t.Fatalf("analytics recorded %d questions for a test request", snap.Questions)
	}
}

func TestAnswerRetrievalUnavailable(t *testing.T) {
	f := newFixture(t, &fakeRetriever{err: errors.New("qdrant down")}, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	_, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？"}, askOpts())
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("err = %v, want ErrRetrievalUnavailable", err)
	}
}

func TestAnswerGenerationFailure(t *testing.T) {
	f := newFixture(t, &fakeRetriever{chunks: relevantChunks()}, &fakeGenerator{err: errors.New("provider 500")}, fakeDocs{total: 12})

	_, err := f.orch.Answer(context.Background(), testTenant(), models.QuestionRequest{Question: "社内規定は？"}, askOpts())
	if !errors.Is(err, ErrGenerationFailure) {
		t.Fatalf("err = %v, want ErrGenerationFailure", err)
	}

	// A failed generation charges nothing.
	key := admission.NewDayKey(1, time.Now(), time.UTC)
	if total, _ := f.store.ReadCost(context.Background(), key); total != 0 {
		t.Fatalf("ledger total = %v, want 0 after a generation failure", total)
	}
}

func TestAnswerDefaultsFillEmptyFields(t *testing.T) {
	retr := &fakeRetriever{chunks: relevantChunks()}
	f := newFixture(t, retr, &fakeGenerator{answer: "ok"}, fakeDocs{total: 12})

	tenant := testTenant()
	tenant.RateLimitPerMinute = 0 // falls back to the deployment default
	tenant.DailyBudgetJPY = 0     // same

	resp, err := f.orch.Answer(context.Background(), tenant, models.QuestionRequest{Question: "社内規定は？"}, askOpts())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.LLMModel != "test-model-2025" {
		t.Fatalf("default model not applied, llm_model = %q", resp.LLMModel)
	}
}
