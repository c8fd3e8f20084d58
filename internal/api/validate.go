package api

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/retrieval"
)

const (
	maxQuestionLen    = 1000
	maxOutputTokenCap = 4096
)

// Opaque identifiers are restricted to a conservative character set;
// anything else is malformed input, not data to sanitize.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Model names additionally allow dots ("gpt-4.1" and friends).
var modelPattern = regexp.MustCompile(`^[A-Za-z0-9.-]{1,64}$`)

// validateQuestion normalizes and bounds the request in place.
// Validation failures reject before admission control runs.
func validateQuestion(req *models.QuestionRequest) error {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return fmt.Errorf("question is required")
	}
	if utf8.RuneCountInString(req.Question) > maxQuestionLen {
		return fmt.Errorf("question exceeds %d characters", maxQuestionLen)
	}

	if req.TopK < 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if req.TopK > retrieval.MaxTopK {
		req.TopK = retrieval.MaxTopK
	}

	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if req.MaxOutputTokens < 0 || req.MaxOutputTokens > maxOutputTokenCap {
		return fmt.Errorf("max_output_tokens must be between 1 and %d", maxOutputTokenCap)
	}

	if req.Model != "" && !modelPattern.MatchString(req.Model) {
		return fmt.Errorf("invalid model name")
	}
	for name, id := range map[string]string{
		"client_id":  req.ClientID,
		"session_id": req.SessionID,
		"message_id": req.MessageID,
	} {
		if id != "" && !idPattern.MatchString(id) {
			return fmt.Errorf("invalid %s", name)
		}
	}
	return nil
}

func validateFeedback(req *models.FeedbackRequest) error {
	if req.MessageID == "" || !idPattern.MatchString(req.MessageID) {
		return fmt.Errorf("invalid message_id")
	}
	if req.ClientID != "" && !idPattern.MatchString(req.ClientID) {
		return fmt.Errorf("invalid client_id")
	}
	if req.SessionID != "" && !idPattern.MatchString(req.SessionID) {
		return fmt.Errorf("invalid session_id")
	}
	return nil
}
