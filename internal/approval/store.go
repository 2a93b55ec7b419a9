// Package approval implements the authoritative approval-item lifecycle:
// worklist reads, exactly-once decision application, and the append-only
// approval history.
package approval

import (
	"context"

	"github.com/verdictlabs/verdict/model"
)

// Store persists approval items and their history records.
type Store interface {
	// Create persists a new approval item.
	Create(ctx context.Context, item model.ApprovalItem) error

	// Get retrieves an approval item by ID, scoped to a tenant and domain.
	// Returns NOT_FOUND if the item doesn't exist or belongs to a
	// different tenant.
	Get(ctx context.Context, tenantID, domain, itemID string) (model.ApprovalItem, error)

	// ApplyDecision persists a decided item and its history record as one
	// atomic write, with optimistic locking on the item. The item version
	// must match the current stored version; returns CONFLICT otherwise.
	// Either both writes land or neither does.
	ApplyDecision(ctx context.Context, item model.ApprovalItem, record model.ApprovalRecord) error

	// List returns one page of items for a tenant and domain, newest
	// first, together with the total matching count.
	List(ctx context.Context, tenantID, domain string, filters model.WorklistFilters) (model.WorklistPage, error)

	// GetRecords retrieves an item's approval history, oldest first.
	GetRecords(ctx context.Context, tenantID, domain, itemID string) ([]model.ApprovalRecord, error)
}
