package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdictlabs/verdict/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL approval store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck verifies database connectivity.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new approval item.
func (s *PgStore) Create(ctx context.Context, item model.ApprovalItem) error {
	detailsJSON, err := json.Marshal(item.FormDetails)
	if err != nil {
		return fmt.Errorf("marshal form details: %w", err)
	}
	attachmentsJSON, err := json.Marshal(item.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO approval_items (
			id, domain, tenant_id, status, form_details,
			requested_by_id, requested_by_name, attachments,
			submitted_at, created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12
		)`,
		item.ID, item.Domain, item.TenantID, item.Status, detailsJSON,
		item.RequestedBy.ID, item.RequestedBy.Name, attachmentsJSON,
		item.SubmittedAt, item.CreatedAt, item.UpdatedAt, item.Version,
	)
	if err != nil {
		return fmt.Errorf("insert approval item: %w", err)
	}
	return nil
}

// Get retrieves an approval item by ID, scoped to tenant and domain.
func (s *PgStore) Get(ctx context.Context, tenantID, domain, itemID string) (model.ApprovalItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, domain, tenant_id, status, form_details,
		       requested_by_id, requested_by_name, attachments,
		       submitted_at, created_at, updated_at, version
		FROM approval_items
		WHERE id = $1 AND tenant_id = $2 AND domain = $3`,
		itemID, tenantID, domain,
	)

	item, err := scanItem(row)
	if err == pgx.ErrNoRows {
		return model.ApprovalItem{}, model.NewNotFoundError(
			fmt.Sprintf("approval item %q not found", itemID),
		)
	}
	if err != nil {
		return model.ApprovalItem{}, fmt.Errorf("query approval item: %w", err)
	}
	return item, nil
}

// ApplyDecision persists a decided item and its history record in one
// transaction, with optimistic locking on the item version.
func (s *PgStore) ApplyDecision(ctx context.Context, item model.ApprovalItem, record model.ApprovalRecord) error {
	detailsJSON, err := json.Marshal(item.FormDetails)
	if err != nil {
		return fmt.Errorf("marshal form details: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE approval_items SET
				status = $1,
				form_details = $2,
				version = $3,
				updated_at = $4
			WHERE id = $5 AND version = $6`,
			item.Status, detailsJSON, item.Version+1,
			time.Now().UTC(),
			item.ID, item.Version,
		)
		if err != nil {
			return fmt.Errorf("update approval item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.NewConflictError(
				fmt.Sprintf("approval item %q version conflict (expected %d)", item.ID, item.Version),
			)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO approval_records (
				id, item_id, approver_id, approver_name, decision, comments, reason, decided_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			record.ID, record.ItemID, record.Approver.ID, record.Approver.Name,
			record.Decision, record.Comments, record.Reason, record.DecidedAt,
		)
		if err != nil {
			return fmt.Errorf("insert approval record: %w", err)
		}
		return nil
	})
}

// List returns one page of items for a tenant and domain, newest first.
func (s *PgStore) List(ctx context.Context, tenantID, domain string, filters model.WorklistFilters) (model.WorklistPage, error) {
	where := `WHERE tenant_id = $1 AND domain = $2`
	args := []any{tenantID, domain}
	argIdx := 3

	if filters.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (requested_by_name ILIKE $%d OR form_details::text ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+filters.Search+"%")
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM approval_items `+where, args...).Scan(&total); err != nil {
		return model.WorklistPage{}, fmt.Errorf("count approval items: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = 10
	}

	query := `SELECT id, domain, tenant_id, status, form_details,
	                 requested_by_id, requested_by_name, attachments,
	                 submitted_at, created_at, updated_at, version
	          FROM approval_items ` + where +
		fmt.Sprintf(" ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return model.WorklistPage{}, fmt.Errorf("query approval items: %w", err)
	}
	defer rows.Close()

	items := []model.ApprovalItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return model.WorklistPage{}, fmt.Errorf("scan approval item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return model.WorklistPage{}, err
	}

	return model.WorklistPage{Items: items, Total: total}, nil
}

// GetRecords retrieves the item's approval history, oldest first.
func (s *PgStore) GetRecords(ctx context.Context, tenantID, domain, itemID string) ([]model.ApprovalRecord, error) {
	// Verify tenant access.
	if _, err := s.Get(ctx, tenantID, domain, itemID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, item_id, approver_id, approver_name, decision, comments, reason, decided_at
		FROM approval_records
		WHERE item_id = $1
		ORDER BY decided_at ASC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query approval records: %w", err)
	}
	defer rows.Close()

	var records []model.ApprovalRecord
	for rows.Next() {
		var rec model.ApprovalRecord
		if err := rows.Scan(
			&rec.ID, &rec.ItemID, &rec.Approver.ID, &rec.Approver.Name,
			&rec.Decision, &rec.Comments, &rec.Reason, &rec.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scan approval record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (model.ApprovalItem, error) {
	var item model.ApprovalItem
	var detailsJSON, attachmentsJSON []byte

	err := row.Scan(
		&item.ID, &item.Domain, &item.TenantID, &item.Status, &detailsJSON,
		&item.RequestedBy.ID, &item.RequestedBy.Name, &attachmentsJSON,
		&item.SubmittedAt, &item.CreatedAt, &item.UpdatedAt, &item.Version,
	)
	if err != nil {
		return model.ApprovalItem{}, err
	}

	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &item.FormDetails); err != nil {
			return model.ApprovalItem{}, fmt.Errorf("unmarshal form details: %w", err)
		}
	}
	if attachmentsJSON != nil {
		if err := json.Unmarshal(attachmentsJSON, &item.Attachments); err != nil {
			return model.ApprovalItem{}, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return item, nil
}
