package prompt

import (
	"strings"

	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/tokenizer"
)

// ragTemplate is the instruction wrapper around the assembled context.
const ragTemplate = `あなたは優秀な社内ルールのアシスタントです。
提供されたコンテキスト情報を基に、ユーザーの質問に正確で実用的な回答を提供してください。

**重要な指示:**
- コンテキストに含まれている情報のみを使用してください
- コードの例やベストプラクティスを含めて、実用的な回答を心がけてください
- 回答は日本語で行い、わかりやすく説明してください

**コンテキスト:**
{context}

**質問:**
{question}

**回答:**`

// Assembler packs similarity-ranked chunks into the token budget left
// over after the template, the question and the output allowance.
type Assembler struct {
	counter  *tokenizer.Counter
	overhead int
}

func NewAssembler(counter *tokenizer.Counter, overheadTokens int) *Assembler {
	return &Assembler{counter: counter, overhead: overheadTokens}
}

// Budget returns the token budget available for context, floored at zero.
func (a *Assembler) Budget(question, model string, contextWindow, maxOutputTokens int) int {
	remaining := contextWindow - a.overhead - a.counter.Count(question, model) - maxOutputTokens
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Assemble walks chunks in the order received. A chunk is included
// whole while it fits; the first chunk that would overflow is clipped
// to the exact remainder and iteration stops. Returns the assembled
// context and the chunks that contributed to it.
func (a *Assembler) Assemble(chunks []models.Chunk, question, model string, contextWindow, maxOutputTokens int) (string, []models.Chunk) {
	remaining := a.Budget(question, model, contextWindow, maxOutputTokens)
	if remaining == 0 || len(chunks) == 0 {
		return "", nil
	}

	var parts []string
	var used []models.Chunk
	budget := remaining

	for _, chunk := range chunks {
		tok := a.counter.Count(chunk.Text, model)
		if tok <= budget {
			parts = append(parts, chunk.Text)
			used = append(used, chunk)
			budget -= tok
			continue
		}
		if budget > 0 {
			clipped := a.counter.Clip(chunk.Text, model, budget)
			if clipped != "" {
				c := chunk
				c.Text = clipped
				parts = append(parts, clipped)
				used = append(used, c)
			}
		}
		// First-fit-then-stop: nothing after the overflowing chunk.
		break
	}

	return strings.Join(parts, "\n\n"), used
}

// Build renders the final prompt sent to the model.
func Build(context, question string) string {
	p := strings.Replace(ragTemplate, "{context}", context, 1)
	return strings.Replace(p, "{question}", question, 1)
}
