package refdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/verdictlabs/verdict/model"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]model.RefEntity // key: kind:id
}

// NewMemoryStore creates an empty in-memory reference-data store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]model.RefEntity)}
}

func entityKey(kind model.RefKind, id string) string {
	return string(kind) + ":" + id
}

// Create persists a new entity.
func (s *MemoryStore) Create(_ context.Context, entity model.RefEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(entity.Kind, entity.ID)
	if _, exists := s.entities[key]; exists {
		return model.NewConflictError(fmt.Sprintf("entity %q already exists", entity.ID))
	}
	s.entities[key] = entity
	return nil
}

// Get retrieves an entity scoped to a tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID string, kind model.RefKind, id string) (model.RefEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, exists := s.entities[entityKey(kind, id)]
	if !exists || entity.TenantID != tenantID {
		return model.RefEntity{}, model.NewNotFoundError(fmt.Sprintf("%s %q not found", kind, id))
	}
	return entity, nil
}

// Update persists an updated entity with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, entity model.RefEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(entity.Kind, entity.ID)
	current, exists := s.entities[key]
	if !exists || current.TenantID != entity.TenantID {
		return model.NewNotFoundError(fmt.Sprintf("%s %q not found", entity.Kind, entity.ID))
	}
	if current.Version != entity.Version {
		return model.NewConflictError(fmt.Sprintf("entity %q was modified concurrently", entity.ID))
	}
	entity.Version++
	s.entities[key] = entity
	return nil
}

// List returns one page of entities ordered by name.
func (s *MemoryStore) List(_ context.Context, tenantID string, kind model.RefKind, filters model.RefFilters) (model.RefPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.RefEntity
	for _, entity := range s.entities {
		if entity.TenantID != tenantID || entity.Kind != kind {
			continue
		}
		if filters.Lifecycle != "" && entity.Lifecycle != filters.Lifecycle {
			continue
		}
		if filters.Search != "" &&
			!strings.Contains(strings.ToLower(entity.Name), strings.ToLower(filters.Search)) {
			continue
		}
		matched = append(matched, entity)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Name < matched[j].Name
	})

	total := len(matched)
	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = len(matched)
		if perPage == 0 {
			perPage = 1
		}
	}

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return model.RefPage{Items: matched[start:end], Total: total}, nil
}
