package refdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdictlabs/verdict/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL reference-data store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck verifies database connectivity.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new reference-data entity.
func (s *PgStore) Create(ctx context.Context, entity model.RefEntity) error {
	attrsJSON, err := json.Marshal(entity.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ref_entities (
			id, kind, tenant_id, name, lifecycle,
			attributes, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entity.ID, entity.Kind, entity.TenantID, entity.Name, entity.Lifecycle,
		attrsJSON, entity.CreatedAt, entity.UpdatedAt, entity.Version,
	)
	if err != nil {
		return fmt.Errorf("insert ref entity: %w", err)
	}
	return nil
}

// Get retrieves an entity by kind and id, scoped to a tenant.
func (s *PgStore) Get(ctx context.Context, tenantID string, kind model.RefKind, id string) (model.RefEntity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, tenant_id, name, lifecycle,
		       attributes, created_at, updated_at, version
		FROM ref_entities
		WHERE id = $1 AND tenant_id = $2 AND kind = $3`,
		id, tenantID, kind,
	)

	entity, err := scanEntity(row)
	if err == pgx.ErrNoRows {
		return model.RefEntity{}, model.NewNotFoundError(
			fmt.Sprintf("%s %q not found", kind, id),
		)
	}
	if err != nil {
		return model.RefEntity{}, fmt.Errorf("query ref entity: %w", err)
	}
	return entity, nil
}

// Update persists an updated entity with optimistic locking on version.
func (s *PgStore) Update(ctx context.Context, entity model.RefEntity) error {
	attrsJSON, err := json.Marshal(entity.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE ref_entities
		SET name = $1, lifecycle = $2, attributes = $3,
		    updated_at = $4, version = version + 1
		WHERE id = $5 AND tenant_id = $6 AND kind = $7 AND version = $8`,
		entity.Name, entity.Lifecycle, attrsJSON,
		entity.UpdatedAt, entity.ID, entity.TenantID, entity.Kind, entity.Version,
	)
	if err != nil {
		return fmt.Errorf("update ref entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("entity %q was modified concurrently", entity.ID),
		)
	}
	return nil
}

// List returns one page of entities for a tenant and kind, ordered by name.
func (s *PgStore) List(ctx context.Context, tenantID string, kind model.RefKind, filters model.RefFilters) (model.RefPage, error) {
	where := "tenant_id = $1 AND kind = $2"
	args := []any{tenantID, kind}

	if filters.Lifecycle != "" {
		args = append(args, filters.Lifecycle)
		where += fmt.Sprintf(" AND lifecycle = $%d", len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}

	var total int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM ref_entities WHERE "+where, args...,
	).Scan(&total)
	if err != nil {
		return model.RefPage{}, fmt.Errorf("count ref entities: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = 50
	}
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, kind, tenant_id, name, lifecycle,
		       attributes, created_at, updated_at, version
		FROM ref_entities
		WHERE %s
		ORDER BY name
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return model.RefPage{}, fmt.Errorf("query ref entities: %w", err)
	}
	defer rows.Close()

	items := make([]model.RefEntity, 0)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return model.RefPage{}, fmt.Errorf("scan ref entity: %w", err)
		}
		items = append(items, entity)
	}
	if err := rows.Err(); err != nil {
		return model.RefPage{}, fmt.Errorf("iterate ref entities: %w", err)
	}

	return model.RefPage{Items: items, Total: total}, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (model.RefEntity, error) {
	var entity model.RefEntity
	var attrsJSON []byte

	err := row.Scan(
		&entity.ID, &entity.Kind, &entity.TenantID, &entity.Name, &entity.Lifecycle,
		&attrsJSON, &entity.CreatedAt, &entity.UpdatedAt, &entity.Version,
	)
	if err != nil {
		return model.RefEntity{}, err
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &entity.Attributes); err != nil {
			return model.RefEntity{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return entity, nil
}
