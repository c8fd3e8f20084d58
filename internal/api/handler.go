package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tuukaa/rag-gateway/internal/analytics"
	"github.com/tuukaa/rag-gateway/internal/auth"
	"github.com/tuukaa/rag-gateway/internal/db"
	"github.com/tuukaa/rag-gateway/internal/ingest"
	"github.com/tuukaa/rag-gateway/internal/models"
	"github.com/tuukaa/rag-gateway/internal/query"
)

// maxUploadBytes caps plain-text uploads.
const maxUploadBytes = 2 * 1024 * 1024

type VectorDeleter interface {
	DeleteByFileID(ctx context.Context, tenantID int, fileID string) error
}

type Handler struct {
	db           *db.DB
	orchestrator *query.Orchestrator
	retriever    query.Retriever
	ingestor     *ingest.Ingestor
	vectors      VectorDeleter
	analytics    *analytics.Aggregator
	chunkSize    int
	chunkOverlap int
	dayFn        func() string
}

func NewHandler(
	database *db.DB,
	orchestrator *query.Orchestrator,
	retriever query.Retriever,
	ingestor *ingest.Ingestor,
	vectors VectorDeleter,
	agg *analytics.Aggregator,
	chunkSize, chunkOverlap int,
	dayFn func() string,
) *Handler {
	return &Handler{
		db:           database,
		orchestrator: orchestrator,
		retriever:    retriever,
		ingestor:     ingestor,
		vectors:      vectors,
		analytics:    agg,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		dayFn:        dayFn,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ask", h.Ask).Methods("POST")
	router.HandleFunc("/search", h.Search).Methods("POST")
	router.HandleFunc("/docs/upload", h.Upload).Methods("POST")
	router.HandleFunc("/docs/url", h.IngestURL).Methods("POST")
	router.HandleFunc("/docs", h.ListDocuments).Methods("GET")
	router.HandleFunc("/docs", h.DeleteDocument).Methods("DELETE")
	router.HandleFunc("/feedback", h.Feedback).Methods("POST")
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	var req models.QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := validateQuestion(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	opt := query.Options{
		ClientIP:    clientIP(r),
		Route:       r.URL.Path,
		AdminBypass: auth.IsAdminRequest(r.Context()),
		TestRequest: auth.IsTestRequest(r.Context()),
	}

	resp, err := h.orchestrator.Answer(r.Context(), tenant, req, opt)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	if wantsStream(r) {
		streamAnswer(w, r, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	var req models.QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := validateQuestion(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = 10
	}
	chunks, err := h.retriever.Retrieve(r.Context(), req.Question, topK, tenant.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "retrieval_unavailable", "document search is temporarily unavailable")
		return
	}

	respondJSON(w, http.StatusOK, models.SearchResponse{
		Documents:  chunks,
		Query:      req.Question,
		TotalFound: len(chunks),
	})
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "file is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "failed to read file")
		return
	}
	if len(content) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "validation_error", "file exceeds size limit")
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	text, sourceType, err := ingest.Extract(content, ext)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "no text could be extracted")
		return
	}

	chunkSize, overlap := h.chunkParams(r.FormValue("chunk_size"), r.FormValue("chunk_overlap"))
	result, err := h.ingestor.IngestText(r.Context(), tenant.ID, header.Filename, text, sourceType, chunkSize, overlap)
	if err != nil {
		log.Printf("ingest failed for tenant %d: %v", tenant.ID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "ingestion failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) IngestURL(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	var req struct {
		URL          string `json:"url"`
		ChunkSize    int    `json:"chunk_size,omitempty"`
		ChunkOverlap int    `json:"chunk_overlap,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "url is required")
		return
	}

	body, err := ingest.FetchURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "failed to fetch url")
		return
	}

	text := ingest.StripTags(string(bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})))
	if text == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "no text could be extracted")
		return
	}

	chunkSize, overlap := h.chunkSize, h.chunkOverlap
	if req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	if req.ChunkOverlap > 0 {
		overlap = req.ChunkOverlap
	}
	result, err := h.ingestor.IngestText(r.Context(), tenant.ID, req.URL, text, "url", chunkSize, overlap)
	if err != nil {
		log.Printf("url ingest failed for tenant %d: %v", tenant.ID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "ingestion failed")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	docs, err := h.db.ListDocuments(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list documents")
		return
	}

	totalChunks := 0
	for _, d := range docs {
		totalChunks += d.ChunkCount
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"files":        docs,
		"total_files":  len(docs),
		"total_chunks": totalChunks,
	})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	var req struct {
		FileID   string `json:"file_id"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "file_id and filename are required")
		return
	}

	if err := h.vectors.DeleteByFileID(r.Context(), tenant.ID, req.FileID); err != nil {
		writeError(w, http.StatusBadGateway, "retrieval_unavailable", "failed to delete document vectors")
		return
	}

	deletedChunks, found, err := h.db.DeleteDocument(r.Context(), tenant.ID, req.FileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete document")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"deleted_file_id":  req.FileID,
		"deleted_filename": req.Filename,
		"deleted_chunks":   deletedChunks,
	})
}

func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	tenant, ok := auth.GetTenantFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "auth_error", "unauthorized")
		return
	}

	var req models.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if err := validateFeedback(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if !auth.IsTestRequest(r.Context()) {
		h.analytics.Feedback(r.Context(), tenant.ID, h.dayFn(), req.Resolved)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) chunkParams(sizeStr, overlapStr string) (int, int) {
	size, overlap := h.chunkSize, h.chunkOverlap
	if n, err := strconv.Atoi(sizeStr); err == nil && n > 0 {
		size = n
	}
	if n, err := strconv.Atoi(overlapStr); err == nil && n >= 0 {
		overlap = n
	}
	return size, overlap
}

// AccessLog records one access_logs row per request, best-effort and
// off the response path.
func (h *Handler) AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		tenant, ok := auth.GetTenantFromContext(r.Context())
		if !ok {
			return
		}
		entry := &models.AccessLog{
			TenantID:       tenant.ID,
			Endpoint:       r.URL.Path,
			Method:         r.Method,
			StatusCode:     recorder.statusCode,
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			RequestSize:    r.ContentLength,
			ResponseSize:   int64(recorder.size),
		}
		go func() {
			if err := h.db.LogAccess(context.Background(), entry); err != nil {
				log.Printf("access log write failed: %v", err)
			}
		}()
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	size          int
	headerWritten bool
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.ResponseWriter.WriteHeader(statusCode)
		r.headerWritten = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Flush keeps event streams working through the recorder.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
