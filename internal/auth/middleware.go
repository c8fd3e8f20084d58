package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tuukaa/rag-gateway/internal/models"
)

type contextKey string

const (
	tenantContextKey contextKey = "tenant"
	adminContextKey  contextKey = "admin"
	testContextKey   contextKey = "test"
)

type TenantLookup interface {
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
}

type Middleware struct {
	jwtSecret   string
	adminSecret string
	tenants     TenantLookup
}

func NewMiddleware(jwtSecret, adminSecret string, tenants TenantLookup) *Middleware {
	return &Middleware{jwtSecret: jwtSecret, adminSecret: adminSecret, tenants: tenants}
}

// Authenticate accepts either a bearer token minted from an API key or
// the raw key in X-Api-Key, resolves the tenant and stores it in the
// request context. Auth failures are rejected before any other stage.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Api-Key")

		if apiKey == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing credentials")
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "invalid authorization header format")
				return
			}
			claims, err := ValidateToken(parts[1], m.jwtSecret)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			apiKey = claims.APIKey
		}

		tenant, err := m.tenants.GetTenantByAPIKey(r.Context(), apiKey)
		if err != nil {
			unauthorized(w, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, tenant)
		if m.adminSecret != "" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Secret")), []byte(m.adminSecret)) == 1 {
			ctx = context.WithValue(ctx, adminContextKey, true)
		}
		if v := r.Header.Get("X-Test-Request"); v == "1" || v == "true" {
			ctx = context.WithValue(ctx, testContextKey, true)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards the administrative surface with the shared
// admin secret.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.adminSecret == "" ||
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Secret")), []byte(m.adminSecret)) != 1 {
			unauthorized(w, "admin secret required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetTenantFromContext(ctx context.Context) (*models.Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(*models.Tenant)
	return tenant, ok
}

// IsAdminRequest reports whether the request carried the admin secret;
// such requests skip both cost-gate steps but not the rate gate.
func IsAdminRequest(ctx context.Context) bool {
	v, _ := ctx.Value(adminContextKey).(bool)
	return v
}

// IsTestRequest reports whether the request was flagged synthetic;
// such requests skip ledger commits and analytics recording.
func IsTestRequest(ctx context.Context) bool {
	v, _ := ctx.Value(testContextKey).(bool)
	return v
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "auth_error",
		"message": message,
	})
}
