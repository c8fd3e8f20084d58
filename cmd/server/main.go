package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tuukaa/rag-gateway/internal/admin"
	"github.com/tuukaa/rag-gateway/internal/admission"
	"github.com/tuukaa/rag-gateway/internal/analytics"
	"github.com/tuukaa/rag-gateway/internal/api"
	"github.com/tuukaa/rag-gateway/internal/auth"
	"github.com/tuukaa/rag-gateway/internal/config"
	"github.com/tuukaa/rag-gateway/internal/db"
	"github.com/tuukaa/rag-gateway/internal/embedding"
	"github.com/tuukaa/rag-gateway/internal/generation"
	"github.com/tuukaa/rag-gateway/internal/ingest"
	"github.com/tuukaa/rag-gateway/internal/pricing"
	"github.com/tuukaa/rag-gateway/internal/prompt"
	"github.com/tuukaa/rag-gateway/internal/query"
	"github.com/tuukaa/rag-gateway/internal/retrieval"
	"github.com/tuukaa/rag-gateway/internal/tokenizer"
	"github.com/tuukaa/rag-gateway/internal/vectorstore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Initialize database
	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	// Admission store: Redis when reachable, in-process fallback is
	// wired inside the controller.
	var admissionStore admission.Store
	redisStore, err := admission.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, admission gates run in-process only: %v", err)
		admissionStore = admission.NewLocalStore()
	} else {
		admissionStore = redisStore
		defer redisStore.Close()
	}
	controller := admission.NewController(admissionStore, cfg.BillingTimezone)

	// Analytics sink follows the same pattern.
	var sink analytics.Sink
	redisSink, err := analytics.NewRedisSink(cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, analytics kept in-process only: %v", err)
		sink = analytics.NewLocalSink()
	} else {
		sink = redisSink
		defer redisSink.Close()
	}
	aggregator := analytics.NewAggregator(sink, 256)
	defer aggregator.Close()

	// Vector store
	vectors := vectorstore.NewClient(vectorstore.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := vectors.EnsureCollection(ctx, cfg.EmbeddingDimension); err != nil {
		log.Printf("Collection check failed (continuing): %v", err)
	}
	cancel()

	// Model provider clients
	embedder := embedding.NewClient(embedding.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.EmbeddingModel,
	})
	generator := generation.NewClient(generation.Config{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
	})

	// Pricing and token accounting
	table, err := pricing.Load(cfg.PricingFile, cfg.USDJPYRate, cfg.DefaultContextWindow)
	if err != nil {
		log.Fatal("Failed to load pricing table:", err)
	}
	counter := tokenizer.NewCounter()

	retriever := retrieval.NewAdapter(embedder, vectors, cfg.SimilarityDistanceCeiling)
	assembler := prompt.NewAssembler(counter, cfg.PromptOverheadTokens)
	ingestor := ingest.NewIngestor(embedder, vectors, database)

	dayFn := func() string {
		return time.Now().In(cfg.BillingTimezone).Format("2006-01-02")
	}

	orchestrator := query.NewOrchestrator(
		retriever,
		generator,
		database,
		assembler,
		controller,
		table,
		counter,
		aggregator,
		query.Defaults{
			Model:           cfg.DefaultModel,
			Temperature:     cfg.DefaultTemperature,
			TopK:            cfg.DefaultTopK,
			MaxOutputTokens: cfg.DefaultMaxOutputTokens,
			RateLimitRPM:    cfg.RateLimitRPM,
			DailyBudgetJPY:  cfg.DailyBudgetJPY,
		},
		dayFn,
	)

	// Initialize router
	router := mux.NewRouter()

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret, cfg.AdminAPISecret, database)

	// Public routes
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/auth/token", tokenHandler(database, cfg.JWTSecret)).Methods("POST")

	// Admin routes
	adminHandler := admin.NewAdminHandler(database, aggregator, cfg.BillingTimezone)
	adminRouter := mux.NewRouter()
	adminHandler.RegisterRoutes(adminRouter)
	router.PathPrefix("/admin/").Handler(authMiddleware.RequireAdmin(adminRouter))

	// Tenant API routes
	apiHandler := api.NewHandler(
		database,
		orchestrator,
		retriever,
		ingestor,
		vectors,
		aggregator,
		cfg.MaxChunkSize,
		cfg.ChunkOverlap,
		dayFn,
	)
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(authMiddleware.Authenticate, apiHandler.AccessLog)
	apiHandler.RegisterRoutes(apiRouter)

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	log.Printf("Admin API available at /admin/*")
	log.Printf("Tenant API available at /api/*")
	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		log.Fatal("Server failed:", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func tokenHandler(database *db.DB, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			APIKey string `json:"api_key"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		tenant, err := database.GetTenantByAPIKey(r.Context(), req.APIKey)
		if err != nil {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		token, err := auth.GenerateToken(tenant.ID, tenant.APIKey, jwtSecret)
		if err != nil {
			log.Printf("Token generation failed: %v", err)
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	}
}
