package refdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verdictlabs/verdict/model"
)

// Service implements the reference-data admin operations. All mutations
// invalidate the lookup cache so dropdowns pick the change up on their
// next miss.
type Service struct {
	store   Store
	lookups *LookupCache
}

// NewService creates a reference-data service.
func NewService(store Store, lookups *LookupCache) *Service {
	return &Service{store: store, lookups: lookups}
}

func validateKindAndName(kind model.RefKind, name string) error {
	if !model.KnownRefKind(kind) {
		return model.NewNotFoundError(fmt.Sprintf("reference collection %q not found", kind))
	}
	if strings.TrimSpace(name) == "" {
		return model.NewValidationError([]model.FieldError{{
			Field:   "name",
			Code:    "required",
			Message: "Name is required",
		}})
	}
	return nil
}

// Create adds a new active entity to a collection.
func (s *Service) Create(
	ctx context.Context,
	rctx *model.RequestContext,
	kind model.RefKind,
	name string,
	attributes map[string]any,
) (model.RefEntity, error) {
	if err := validateKindAndName(kind, name); err != nil {
		return model.RefEntity{}, err
	}

	now := time.Now().UTC()
	entity := model.RefEntity{
		ID:         uuid.New().String(),
		Kind:       kind,
		TenantID:   rctx.TenantID,
		Name:       strings.TrimSpace(name),
		Lifecycle:  model.LifecycleActive,
		Attributes: attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
	if err := s.store.Create(ctx, entity); err != nil {
		return model.RefEntity{}, err
	}

	s.invalidate(kind, rctx.TenantID)
	return entity, nil
}

// Get retrieves one entity.
func (s *Service) Get(ctx context.Context, rctx *model.RequestContext, kind model.RefKind, id string) (model.RefEntity, error) {
	if !model.KnownRefKind(kind) {
		return model.RefEntity{}, model.NewNotFoundError(fmt.Sprintf("reference collection %q not found", kind))
	}
	return s.store.Get(ctx, rctx.TenantID, kind, id)
}

// List returns one page of a collection.
func (s *Service) List(ctx context.Context, rctx *model.RequestContext, kind model.RefKind, filters model.RefFilters) (model.RefPage, error) {
	if !model.KnownRefKind(kind) {
		return model.RefPage{}, model.NewNotFoundError(fmt.Sprintf("reference collection %q not found", kind))
	}
	if filters.Lifecycle != "" && !filters.Lifecycle.IsValid() {
		return model.RefPage{}, model.NewBadRequestError(fmt.Sprintf("unknown lifecycle %q", filters.Lifecycle))
	}
	return s.store.List(ctx, rctx.TenantID, kind, filters)
}

// Update renames an entity or replaces its attributes.
func (s *Service) Update(
	ctx context.Context,
	rctx *model.RequestContext,
	kind model.RefKind,
	id, name string,
	attributes map[string]any,
	version int,
) (model.RefEntity, error) {
	if err := validateKindAndName(kind, name); err != nil {
		return model.RefEntity{}, err
	}

	entity, err := s.store.Get(ctx, rctx.TenantID, kind, id)
	if err != nil {
		return model.RefEntity{}, err
	}
	entity.Name = strings.TrimSpace(name)
	if attributes != nil {
		entity.Attributes = attributes
	}
	entity.UpdatedAt = time.Now().UTC()
	entity.Version = version

	if err := s.store.Update(ctx, entity); err != nil {
		return model.RefEntity{}, err
	}
	entity.Version++

	s.invalidate(kind, rctx.TenantID)
	return entity, nil
}

// Archive soft-deletes an entity. Archiving an already archived entity is
// a no-op; the row is never removed.
func (s *Service) Archive(ctx context.Context, rctx *model.RequestContext, kind model.RefKind, id string) (model.RefEntity, error) {
	return s.setLifecycle(ctx, rctx, kind, id, model.LifecycleArchived)
}

// Restore brings an archived entity back into active use.
func (s *Service) Restore(ctx context.Context, rctx *model.RequestContext, kind model.RefKind, id string) (model.RefEntity, error) {
	return s.setLifecycle(ctx, rctx, kind, id, model.LifecycleActive)
}

func (s *Service) setLifecycle(
	ctx context.Context,
	rctx *model.RequestContext,
	kind model.RefKind,
	id string,
	lifecycle model.Lifecycle,
) (model.RefEntity, error) {
	if !model.KnownRefKind(kind) {
		return model.RefEntity{}, model.NewNotFoundError(fmt.Sprintf("reference collection %q not found", kind))
	}

	entity, err := s.store.Get(ctx, rctx.TenantID, kind, id)
	if err != nil {
		return model.RefEntity{}, err
	}
	if entity.Lifecycle == lifecycle {
		return entity, nil
	}

	entity.Lifecycle = lifecycle
	entity.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, entity); err != nil {
		return model.RefEntity{}, err
	}
	entity.Version++

	s.invalidate(kind, rctx.TenantID)
	return entity, nil
}

func (s *Service) invalidate(kind model.RefKind, tenantID string) {
	if s.lookups != nil {
		s.lookups.Invalidate(kind, tenantID)
	}
}
