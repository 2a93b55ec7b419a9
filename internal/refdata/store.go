// Package refdata maintains the reference-data collections behind the
// admin screens: degrees, programs, honor titles, and attainments. Rows
// are archived and restored, never hard-deleted, and active rows feed the
// cached dropdown lookups the approval forms use.
package refdata

import (
	"context"

	"github.com/verdictlabs/verdict/model"
)

// Store persists reference-data entities.
type Store interface {
	// Create persists a new entity.
	Create(ctx context.Context, entity model.RefEntity) error

	// Get retrieves an entity by kind and id, scoped to a tenant. Returns
	// NOT_FOUND if it doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID string, kind model.RefKind, id string) (model.RefEntity, error)

	// Update persists an updated entity with optimistic locking. The
	// version must match the stored version; returns CONFLICT otherwise.
	Update(ctx context.Context, entity model.RefEntity) error

	// List returns one page of entities for a tenant and kind, ordered by
	// name, together with the total matching count.
	List(ctx context.Context, tenantID string, kind model.RefKind, filters model.RefFilters) (model.RefPage, error)
}
