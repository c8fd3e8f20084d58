package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tuukaa/rag-gateway/internal/models"
)

func (db *DB) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	query := `
        SELECT id, name, api_key, rate_limit_per_minute, daily_budget_jpy, created_at, updated_at
        FROM tenants
        WHERE api_key = $1
    `

	var tenant models.Tenant
	err := db.Pool.QueryRow(ctx, query, apiKey).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKey,
		&tenant.RateLimitPerMinute,
		&tenant.DailyBudgetJPY,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (db *DB) GetTenantByID(ctx context.Context, id int) (*models.Tenant, error) {
	query := `
        SELECT id, name, api_key, rate_limit_per_minute, daily_budget_jpy, created_at, updated_at
        FROM tenants
        WHERE id = $1
    `

	var tenant models.Tenant
	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.APIKey,
		&tenant.RateLimitPerMinute,
		&tenant.DailyBudgetJPY,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (db *DB) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
        INSERT INTO tenants (name, api_key, rate_limit_per_minute, daily_budget_jpy)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at
    `

	return db.Pool.QueryRow(ctx, query,
		tenant.Name,
		tenant.APIKey,
		tenant.RateLimitPerMinute,
		tenant.DailyBudgetJPY,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
}

func (db *DB) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	query := `
        SELECT id, name, api_key, rate_limit_per_minute, daily_budget_jpy, created_at, updated_at
        FROM tenants
        ORDER BY id
    `

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.APIKey, &t.RateLimitPerMinute, &t.DailyBudgetJPY, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

type TenantUpdates struct {
	Name               *string  `json:"name"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute"`
	DailyBudgetJPY     *float64 `json:"daily_budget_jpy"`
}

func (db *DB) UpdateTenant(ctx context.Context, id int, updates TenantUpdates) error {
	query := `
        UPDATE tenants
        SET name = COALESCE($2, name),
            rate_limit_per_minute = COALESCE($3, rate_limit_per_minute),
            daily_budget_jpy = COALESCE($4, daily_budget_jpy),
            updated_at = NOW()
        WHERE id = $1
    `

	_, err := db.Pool.Exec(ctx, query, id, updates.Name, updates.RateLimitPerMinute, updates.DailyBudgetJPY)
	return err
}

func (db *DB) DeleteTenant(ctx context.Context, id int) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	return err
}

func (db *DB) RotateAPIKey(ctx context.Context, id int, newAPIKey string) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE tenants SET api_key = $2, updated_at = NOW() WHERE id = $1`,
		id, newAPIKey,
	)
	return err
}

func (db *DB) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := `
        INSERT INTO documents (tenant_id, file_id, filename, source_type, chunk_count)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at
    `

	return db.Pool.QueryRow(ctx, query,
		doc.TenantID,
		doc.FileID,
		doc.Filename,
		doc.SourceType,
		doc.ChunkCount,
	).Scan(&doc.ID, &doc.CreatedAt)
}

func (db *DB) ListDocuments(ctx context.Context, tenantID int) ([]models.Document, error) {
	query := `
        SELECT id, tenant_id, file_id, filename, source_type, chunk_count, created_at
        FROM documents
        WHERE tenant_id = $1
        ORDER BY created_at DESC
    `

	rows, err := db.Pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.TenantID, &d.FileID, &d.Filename, &d.SourceType, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// TotalChunks returns how many chunks the tenant has ingested in
// total. Zero means "no documents ingested yet", which the query path
// treats differently from "no relevant documents found".
func (db *DB) TotalChunks(ctx context.Context, tenantID int) (int, error) {
	var total int
	err := db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(chunk_count), 0) FROM documents WHERE tenant_id = $1`,
		tenantID,
	).Scan(&total)
	return total, err
}

// DeleteDocument removes the registry row and reports the chunk count
// it carried; ok is false when no row matched.
func (db *DB) DeleteDocument(ctx context.Context, tenantID int, fileID string) (int, bool, error) {
	var chunkCount int
	err := db.Pool.QueryRow(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND file_id = $2 RETURNING chunk_count`,
		tenantID, fileID,
	).Scan(&chunkCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return chunkCount, true, nil
}

func (db *DB) LogAccess(ctx context.Context, log *models.AccessLog) error {
	query := `
        INSERT INTO access_logs (tenant_id, endpoint, method, status_code, response_time_ms, request_size, response_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	_, err := db.Pool.Exec(ctx, query,
		log.TenantID,
		log.Endpoint,
		log.Method,
		log.StatusCode,
		log.ResponseTimeMs,
		log.RequestSize,
		log.ResponseSize,
	)

	return err
}
