package model

import "time"

// Lifecycle is the soft-delete state of a reference-data entity. Archiving
// is reversible; nothing is ever hard-deleted.
type Lifecycle string

// Reference-data lifecycle states.
const (
	LifecycleActive   Lifecycle = "active"
	LifecycleArchived Lifecycle = "inactive"
)

// IsValid reports whether the lifecycle is one of the known values.
func (l Lifecycle) IsValid() bool {
	return l == LifecycleActive || l == LifecycleArchived
}

// RefKind names a reference-data collection.
type RefKind string

// Reference-data kinds maintained through the admin screens.
const (
	RefDegrees     RefKind = "degrees"
	RefPrograms    RefKind = "programs"
	RefHonorTitles RefKind = "honor-titles"
	RefAttainments RefKind = "attainments"
)

// KnownRefKind reports whether the kind is one of the managed collections.
func KnownRefKind(k RefKind) bool {
	switch k {
	case RefDegrees, RefPrograms, RefHonorTitles, RefAttainments:
		return true
	}
	return false
}

// RefEntity is one reference-data row. All four collections share this
// shape; Attributes carries kind-specific fields (e.g. a program's degree
// id, an attainment's attachment ref).
type RefEntity struct {
	ID         string         `json:"id"`
	Kind       RefKind        `json:"kind"`
	TenantID   string         `json:"tenant_id"`
	Name       string         `json:"name"`
	Lifecycle  Lifecycle      `json:"status"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Version    int            `json:"version"`
}

// RefFilters narrow a reference-data list query.
type RefFilters struct {
	Lifecycle Lifecycle
	Search    string
	Page      int
	PerPage   int
}

// RefPage is one page of a reference-data list.
type RefPage struct {
	Items []RefEntity `json:"items"`
	Total int         `json:"total"`
}

// OptionDescriptor is a dropdown option resolved from reference data.
type OptionDescriptor struct {
	Value string `json:"value"`
	Label string `json:"label"`
}
