package admin

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"crypto/rand"
	"encoding/hex"

	"github.com/gorilla/mux"

	"github.com/tuukaa/rag-gateway/internal/analytics"
	"github.com/tuukaa/rag-gateway/internal/db"
	"github.com/tuukaa/rag-gateway/internal/models"
)

// maxReportDays bounds how wide a report date range may be.
const maxReportDays = 92

type AdminHandler struct {
	db        *db.DB
	analytics *analytics.Aggregator
	loc       *time.Location
}

func NewAdminHandler(database *db.DB, agg *analytics.Aggregator, loc *time.Location) *AdminHandler {
	return &AdminHandler{db: database, analytics: agg, loc: loc}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	// Tenant management
	router.HandleFunc("/admin/tenants", h.ListTenants).Methods("GET")
	router.HandleFunc("/admin/tenants", h.CreateTenant).Methods("POST")
	router.HandleFunc("/admin/tenants/{id}", h.GetTenant).Methods("GET")
	router.HandleFunc("/admin/tenants/{id}", h.UpdateTenant).Methods("PUT")
	router.HandleFunc("/admin/tenants/{id}", h.DeleteTenant).Methods("DELETE")
	router.HandleFunc("/admin/tenants/{id}/rotate-key", h.RotateAPIKey).Methods("POST")

	// Usage reporting
	router.HandleFunc("/admin/reports/summary", h.ReportSummary).Methods("GET")
}

func (h *AdminHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name               string  `json:"name"`
		RateLimitPerMinute int     `json:"rate_limit_per_minute"`
		DailyBudgetJPY     float64 `json:"daily_budget_jpy"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}

	if req.RateLimitPerMinute <= 0 {
		req.RateLimitPerMinute = 60 // Default
	}
	if req.DailyBudgetJPY < 0 {
		http.Error(w, "daily_budget_jpy must not be negative", http.StatusBadRequest)
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		http.Error(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	tenant := &models.Tenant{
		Name:               req.Name,
		APIKey:             apiKey,
		RateLimitPerMinute: req.RateLimitPerMinute,
		DailyBudgetJPY:     req.DailyBudgetJPY,
	}

	if err := h.db.CreateTenant(r.Context(), tenant); err != nil {
		log.Printf("Failed to create tenant: %v", err)
		http.Error(w, "Failed to create tenant", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tenant)
}

func (h *AdminHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.db.ListTenants(r.Context())
	if err != nil {
		http.Error(w, "Failed to list tenants", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tenants)
}

func (h *AdminHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tenant ID", http.StatusBadRequest)
		return
	}

	tenant, err := h.db.GetTenantByID(r.Context(), id)
	if err != nil {
		http.Error(w, "Tenant not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tenant)
}

func (h *AdminHandler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tenant ID", http.StatusBadRequest)
		return
	}

	var updates db.TenantUpdates
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if updates.RateLimitPerMinute != nil && *updates.RateLimitPerMinute <= 0 {
		http.Error(w, "rate_limit_per_minute must be positive", http.StatusBadRequest)
		return
	}
	if updates.DailyBudgetJPY != nil && *updates.DailyBudgetJPY < 0 {
		http.Error(w, "daily_budget_jpy must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.db.UpdateTenant(r.Context(), id, updates); err != nil {
		http.Error(w, "Failed to update tenant", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

func (h *AdminHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tenant ID", http.StatusBadRequest)
		return
	}

	if err := h.db.DeleteTenant(r.Context(), id); err != nil {
		http.Error(w, "Failed to delete tenant", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "Invalid tenant ID", http.StatusBadRequest)
		return
	}

	newAPIKey, err := generateAPIKey()
	if err != nil {
		http.Error(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	if err := h.db.RotateAPIKey(r.Context(), id, newAPIKey); err != nil {
		http.Error(w, "Failed to rotate API key", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"api_key": newAPIKey,
		"status":  "rotated",
	})
}

// ReportSummary aggregates one tenant's daily counters over an
// inclusive date range. Dates are interpreted in the billing timezone.
func (h *AdminHandler) ReportSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.Atoi(r.URL.Query().Get("tenant"))
	if err != nil {
		http.Error(w, "tenant query param is required", http.StatusBadRequest)
		return
	}

	tenant, err := h.db.GetTenantByID(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "Tenant not found", http.StatusNotFound)
		return
	}

	today := time.Now().In(h.loc).Format("2006-01-02")
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" {
		start = today
	}
	if end == "" {
		end = today
	}

	startDay, err := time.ParseInLocation("2006-01-02", start, h.loc)
	if err != nil {
		http.Error(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	endDay, err := time.ParseInLocation("2006-01-02", end, h.loc)
	if err != nil {
		http.Error(w, "end must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if endDay.Before(startDay) {
		http.Error(w, "end must not be before start", http.StatusBadRequest)
		return
	}
	if endDay.Sub(startDay) > maxReportDays*24*time.Hour {
		http.Error(w, "date range too wide", http.StatusBadRequest)
		return
	}

	summary := models.ReportSummary{
		Tenant: tenant.Name,
		Period: map[string]string{"start": start, "end": end},
	}
	var feedbackYes, feedbackNo, hits, zeroHits int64
	topChunks := map[string]int64{}

	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		snap, err := h.analytics.Snapshot(r.Context(), tenantID, day.Format("2006-01-02"))
		if err != nil {
			log.Printf("report: snapshot %s failed for tenant %d: %v", day.Format("2006-01-02"), tenantID, err)
			continue
		}
		summary.Questions += snap.Questions
		summary.UniqueUsers += snap.UniqueUsers
		summary.Tokens += snap.Tokens
		summary.CostJPY += snap.CostJPY
		feedbackYes += snap.FeedbackYes
		feedbackNo += snap.FeedbackNo
		hits += snap.Hits
		zeroHits += snap.ZeroHits
		for id, n := range snap.TopChunks {
			topChunks[id] += n
		}
	}

	if total := feedbackYes + feedbackNo; total > 0 {
		rate := float64(feedbackYes) / float64(total)
		summary.ResolvedRate = &rate
	}
	if total := hits + zeroHits; total > 0 {
		rate := float64(zeroHits) / float64(total)
		summary.ZeroHitRate = &rate
	}
	summary.TopDocs = topDocs(topChunks, 5)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func topDocs(counts map[string]int64, limit int) []models.TopDoc {
	docs := make([]models.TopDoc, 0, len(counts))
	for id, n := range counts {
		docs = append(docs, models.TopDoc{ID: id, Count: n})
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Count != docs[j].Count {
			return docs[i].Count > docs[j].Count
		}
		return docs[i].ID < docs[j].ID
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
