package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/verdictlabs/verdict/model"
)

// MemoryStore is an in-memory Store for testing and single-instance use.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]model.ApprovalItem    // key: item ID
	records map[string][]model.ApprovalRecord // key: item ID
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]model.ApprovalItem),
		records: make(map[string][]model.ApprovalRecord),
	}
}

// Create persists a new approval item.
func (s *MemoryStore) Create(_ context.Context, item model.ApprovalItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("approval item %q already exists", item.ID),
		)
	}

	s.items[item.ID] = item
	return nil
}

// Get retrieves an approval item by ID, scoped to tenant and domain.
func (s *MemoryStore) Get(_ context.Context, tenantID, domain, itemID string) (model.ApprovalItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists || item.TenantID != tenantID || item.Domain != domain {
		return model.ApprovalItem{}, model.NewNotFoundError(
			fmt.Sprintf("approval item %q not found", itemID),
		)
	}
	return item, nil
}

// ApplyDecision persists a decided item and its history record under one
// lock, with optimistic locking on the item version.
func (s *MemoryStore) ApplyDecision(_ context.Context, item model.ApprovalItem, record model.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("approval item %q not found", item.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != item.Version {
		return model.NewConflictError(
			fmt.Sprintf("approval item %q version conflict (expected %d, got %d)", item.ID, item.Version, existing.Version),
		)
	}

	item.Version++
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	s.records[record.ItemID] = append(s.records[record.ItemID], record)
	return nil
}

// List returns one page of approval items, newest first.
func (s *MemoryStore) List(_ context.Context, tenantID, domain string, filters model.WorklistFilters) (model.WorklistPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.ApprovalItem
	search := strings.ToLower(strings.TrimSpace(filters.Search))
	for _, item := range s.items {
		if item.TenantID != tenantID || item.Domain != domain {
			continue
		}
		if filters.Status != "" && item.Status != filters.Status {
			continue
		}
		if search != "" && !matchesSearch(item, search) {
			continue
		}
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})

	total := len(matched)

	page := filters.Page
	if page < 1 {
		page = 1
	}
	perPage := filters.PerPage
	if perPage < 1 {
		perPage = 10
	}
	offset := (page - 1) * perPage
	if offset >= len(matched) {
		return model.WorklistPage{Items: []model.ApprovalItem{}, Total: total}, nil
	}
	matched = matched[offset:]
	if perPage < len(matched) {
		matched = matched[:perPage]
	}

	return model.WorklistPage{Items: matched, Total: total}, nil
}

// GetRecords retrieves the item's approval history, ordered by decision time.
func (s *MemoryStore) GetRecords(_ context.Context, tenantID, domain, itemID string) ([]model.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Verify tenant access.
	item, exists := s.items[itemID]
	if !exists || item.TenantID != tenantID || item.Domain != domain {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("approval item %q not found", itemID),
		)
	}

	records := s.records[itemID]
	result := make([]model.ApprovalRecord, len(records))
	copy(result, records)
	sort.Slice(result, func(i, j int) bool {
		return result[i].DecidedAt.Before(result[j].DecidedAt)
	})
	return result, nil
}

// Len returns the total number of items. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// matchesSearch checks the requester name and string-valued form fields
// against a lowercased search term.
func matchesSearch(item model.ApprovalItem, search string) bool {
	if strings.Contains(strings.ToLower(item.RequestedBy.Name), search) {
		return true
	}
	if strings.Contains(strings.ToLower(item.ID), search) {
		return true
	}
	for _, v := range item.FormDetails {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return false
}
