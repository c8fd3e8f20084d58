package models

import "time"

type Tenant struct {
	ID                 int       `json:"id"`
	Name               string    `json:"name"`
	APIKey             string    `json:"api_key"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	DailyBudgetJPY     float64   `json:"daily_budget_jpy"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Document is one registry row per ingested file. The chunk vectors
// themselves live in the vector store; the registry is the source of
// truth for "has this tenant ingested anything at all".
type Document struct {
	ID         int64     `json:"id"`
	TenantID   int       `json:"tenant_id"`
	FileID     string    `json:"file_id"`
	Filename   string    `json:"filename"`
	SourceType string    `json:"source_type"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is a retrieved span of document text. Distance is the store's
// dissimilarity score: lower means more relevant.
type Chunk struct {
	Text       string  `json:"text"`
	FileID     string  `json:"file_id"`
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
}

// Citation is the condensed reference shown to the user, deduplicated
// by (filename, file_id).
type Citation struct {
	Label    string `json:"label"`
	Filename string `json:"filename"`
	FileID   string `json:"file_id"`
}

type QuestionRequest struct {
	Question        string  `json:"question"`
	TopK            int     `json:"top_k,omitempty"`
	Model           string  `json:"model,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	ClientID        string  `json:"client_id,omitempty"`
	SessionID       string  `json:"session_id,omitempty"`
	MessageID       string  `json:"message_id,omitempty"`
}

type AnswerResponse struct {
	Answer      string     `json:"answer"`
	Question    string     `json:"question"`
	Documents   []Chunk    `json:"documents"`
	Citations   []Citation `json:"citations"`
	ContextUsed string     `json:"context_used"`
	LLMModel    string     `json:"llm_model"`
	Tokens      int        `json:"tokens"`
	CostJPY     float64    `json:"cost_jpy"`
}

type SearchResponse struct {
	Documents  []Chunk `json:"documents"`
	Query      string  `json:"query"`
	TotalFound int     `json:"total_found"`
}

type FeedbackRequest struct {
	MessageID string `json:"message_id"`
	Resolved  bool   `json:"resolved"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type AccessLog struct {
	ID             int64     `json:"id"`
	TenantID       int       `json:"tenant_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	RequestSize    int64     `json:"request_size"`
	ResponseSize   int64     `json:"response_size"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReportSummary aggregates one tenant's counters over a date range.
type ReportSummary struct {
	Tenant       string            `json:"tenant"`
	Questions    int64             `json:"questions"`
	UniqueUsers  int64             `json:"unique_users"`
	ResolvedRate *float64          `json:"resolved_rate"`
	ZeroHitRate  *float64          `json:"zero_hit_rate"`
	Tokens       int64             `json:"tokens"`
	CostJPY      float64           `json:"cost_jpy"`
	TopDocs      []TopDoc          `json:"top_docs"`
	Period       map[string]string `json:"period"`
}

type TopDoc struct {
	ID    string `json:"id"`
	Count int64  `json:"count"`
}
