package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tuukaa/rag-gateway/internal/admission"
	"github.com/tuukaa/rag-gateway/internal/analytics"
	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/pricing"
	"github.com/tuukaa/rag-gateway/internal/prompt"
	"github.com/tuukaa/rag-gateway/internal/tokenizer"
)

var (
	// ErrRetrievalUnavailable marks a failed vector store call; fatal
	// for the request, no partial-answer fallback.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailure marks a failed model call.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrInsufficientBudget means the question plus output allowance
	// left no token room for context at all.
	ErrInsufficientBudget = errors.New("insufficient context budget")
)

// Fixed answers for the two non-error zero outcomes. They are
// different user-facing conditions and must stay distinguishable.
const (
	MsgNoDocuments      = "まだドキュメントが登録されていません。先にドキュメントをアップロードしてください。"
	MsgNoRelevantChunks = "関連する文書が見つかりませんでした。"
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK, tenantID int) ([]models.Chunk, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt, model string, temperature float64, maxOutputTokens int) (answer, providerModel string, err error)
}

type ChunkCounter interface {
	TotalChunks(ctx context.Context, tenantID int) (int, error)
}

// Defaults fill request fields the client left empty.
type Defaults struct {
	Model           string
	Temperature     float64
	TopK            int
	MaxOutputTokens int
	RateLimitRPM    int
	DailyBudgetJPY  float64
}

// Options carry per-request flags resolved by the HTTP layer.
type Options struct {
	ClientIP string
	Route    string
	// AdminBypass skips both cost-gate steps (never the rate gate).
	AdminBypass bool
	// TestRequest passes the gates' read paths but skips ledger
	// commits and analytics.
	TestRequest bool
}

// Orchestrator sequences admission, retrieval, assembly, generation,
// commit and analytics for one question. Any stage's failure aborts
// all later stages; only analytics is best-effort.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	docs      ChunkCounter
	assembler *prompt.Assembler
	admission *admission.Controller
	pricing   *pricing.Table
	counter   *tokenizer.Counter
	analytics *analytics.Aggregator
	defaults  Defaults
	dayFn     func() string
}

func NewOrchestrator(
	retriever Retriever,
	generator Generator,
	docs ChunkCounter,
	assembler *prompt.Assembler,
	ctrl *admission.Controller,
	table *pricing.Table,
	counter *tokenizer.Counter,
	agg *analytics.Aggregator,
	defaults Defaults,
	dayFn func() string,
) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		docs:      docs,
		assembler: assembler,
		admission: ctrl,
		pricing:   table,
		counter:   counter,
		analytics: agg,
		defaults:  defaults,
		dayFn:     dayFn,
	}
}

func (o *Orchestrator) fill(req *models.QuestionRequest) {
	if req.Model == "" {
		req.Model = o.defaults.Model
	}
	if req.TopK == 0 {
		req.TopK = o.defaults.TopK
	}
	if req.Temperature == 0 {
		req.Temperature = o.defaults.Temperature
	}
	if req.MaxOutputTokens == 0 {
		req.MaxOutputTokens = o.defaults.MaxOutputTokens
	}
}

// Answer runs the full pipeline for one authenticated tenant request.
func (o *Orchestrator) Answer(ctx context.Context, tenant *models.Tenant, req models.QuestionRequest, opt Options) (*models.AnswerResponse, error) {
	o.fill(&req)

	// Rate gate applies to everyone, admin included.
	limit := tenant.RateLimitPerMinute
	if limit == 0 {
		limit = o.defaults.RateLimitRPM
	}
	if err := o.admission.AllowRate(ctx, opt.ClientIP, tenant.APIKey, opt.Route, limit); err != nil {
		return nil, err
	}

	ceiling := tenant.DailyBudgetJPY
	if ceiling == 0 {
		ceiling = o.defaults.DailyBudgetJPY
	}

	questionTokens := o.counter.Count(req.Question, req.Model)

	if !opt.AdminBypass {
		pre := o.pricing.PreEstimateJPY(req.Model, questionTokens, req.MaxOutputTokens)
		if err := o.admission.PreCheck(ctx, tenant.ID, pre, ceiling); err != nil {
			return nil, err
		}
	}

	// A tenant with nothing ingested at all gets a distinct outcome
	// and never reaches retrieval or generation.
	total, err := o.docs.TotalChunks(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	if total == 0 {
		resp := o.fixedAnswer(req, MsgNoDocuments)
		o.record(tenant, req, opt, resp, nil, false)
		return resp, nil
	}

	chunks, err := o.retriever.Retrieve(ctx, req.Question, req.TopK, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	if len(chunks) == 0 {
		resp := o.fixedAnswer(req, MsgNoRelevantChunks)
		o.record(tenant, req, opt, resp, nil, false)
		return resp, nil
	}

	window := o.pricing.ContextWindow(req.Model)
	context, used := o.assembler.Assemble(chunks, req.Question, req.Model, window, req.MaxOutputTokens)
	if context == "" {
		return nil, ErrInsufficientBudget
	}

	answer, providerModel, err := o.generator.Generate(ctx,
		prompt.Build(context, req.Question), req.Model, req.Temperature, req.MaxOutputTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	inputTokens := questionTokens + o.counter.Count(context, req.Model)
	outputTokens := o.counter.Count(answer, req.Model)
	actual := o.pricing.ActualJPY(req.Model, inputTokens, outputTokens)

	if !opt.AdminBypass && !opt.TestRequest {
		if _, err := o.admission.Commit(ctx, tenant.ID, actual, ceiling); err != nil {
			return nil, err
		}
	}

	resp := &models.AnswerResponse{
		Answer:      answer,
		Question:    req.Question,
		Documents:   chunks,
		Citations:   citations(used),
		ContextUsed: context,
		LLMModel:    providerModel,
		Tokens:      inputTokens + outputTokens,
		CostJPY:     actual,
	}

	o.record(tenant, req, opt, resp, used, true)
	o.logQuery(tenant, req, opt, resp)

	return resp, nil
}

func (o *Orchestrator) fixedAnswer(req models.QuestionRequest, message string) *models.AnswerResponse {
	return &models.AnswerResponse{
		Answer:    message,
		Question:  req.Question,
		Documents: []models.Chunk{},
		Citations: []models.Citation{},
		LLMModel:  req.Model,
	}
}

// record enqueues the analytics event; it never blocks or fails the
// response path.
func (o *Orchestrator) record(tenant *models.Tenant, req models.QuestionRequest, opt Options, resp *models.AnswerResponse, used []models.Chunk, hit bool) {
	if opt.AdminBypass || opt.TestRequest {
		return
	}
	chunkIDs := make([]string, 0, len(used))
	for _, c := range used {
		chunkIDs = append(chunkIDs, fmt.Sprintf("%s:%d", c.FileID, c.ChunkIndex))
	}
	o.analytics.Enqueue(analytics.Event{
		TenantID:     tenant.ID,
		Day:          o.dayFn(),
		ClientID:     req.ClientID,
		IP:           opt.ClientIP,
		KeyHash:      shortHash(tenant.APIKey),
		QuestionHash: shortHash(req.Question),
		Tokens:       resp.Tokens,
		CostJPY:      resp.CostJPY,
		Hit:          hit,
		UsedChunks:   chunkIDs,
	})
}

// logQuery emits one structured JSON line per answered question.
func (o *Orchestrator) logQuery(tenant *models.Tenant, req models.QuestionRequest, opt Options, resp *models.AnswerResponse) {
	line, err := json.Marshal(map[string]any{
		"ip":            opt.ClientIP,
		"tenant":        tenant.Name,
		"key_hash":      shortHash(tenant.APIKey),
		"question_hash": shortHash(req.Question),
		"model":         resp.LLMModel,
		"tokens":        resp.Tokens,
		"cost_jpy":      resp.CostJPY,
		"status":        "ok",
	})
	if err == nil {
		log.Printf("query %s", line)
	}
}

func citations(used []models.Chunk) []models.Citation {
	seen := make(map[string]bool)
	out := make([]models.Citation, 0, len(used))
	for _, c := range used {
		key := c.Filename + ":" + c.FileID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.Citation{
			Label:    c.Filename,
			Filename: c.Filename,
			FileID:   c.FileID,
		})
	}
	return out
}

func shortHash(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:16]
}
