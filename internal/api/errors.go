package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tuukaa/rag-gateway/internal/admission"
	"github.com/tuukaa/rag-gateway/internal/query"
)

// writeError emits the structured error body every rejection uses: a
// stable machine-readable code plus a short human message. No stack
// traces, no internal identifiers.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writePipelineError maps orchestrator failures onto the error
// taxonomy. Rate and budget rejections get distinct statuses so
// callers can back off or wait.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admission.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded, retry after the current window")
	case errors.Is(err, admission.ErrBudgetExceeded):
		writeError(w, http.StatusPaymentRequired, "budget_exceeded", "daily budget exceeded")
	case errors.Is(err, query.ErrInsufficientBudget):
		writeError(w, http.StatusBadRequest, "validation_error", "question and output allowance leave no token room for context")
	case errors.Is(err, query.ErrRetrievalUnavailable):
		writeError(w, http.StatusBadGateway, "retrieval_unavailable", "document search is temporarily unavailable")
	case errors.Is(err, query.ErrGenerationFailure):
		writeError(w, http.StatusBadGateway, "generation_failure", "answer generation failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
