// Package backend talks to the HR systems of record: it indexes their
// OpenAPI specifications, resolves the detail and attachment operations
// each approval domain binds to, and executes the calls behind circuit
// breakers with retry for idempotent requests.
package backend

import (
	"context"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI spec file to load for one service.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
}

// Operation holds a resolved OpenAPI operation with its routing context.
type Operation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	BaseURL      string
}

// Index is an in-memory index of backend operations keyed by
// (serviceID, operationID).
type Index struct {
	operations map[string]Operation
	byService  map[string][]string
}

// NewIndex creates an empty operation index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]Operation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses the OpenAPI specs from the given sources and indexes every
// operation that carries an operationId.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("backend: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("backend: validating %s: %w", src.ServiceID, err)
		}

		baseURL := src.BaseURL
		if baseURL == "" && len(doc.Servers) > 0 {
			baseURL = doc.Servers[0].URL
		}

		for path, pathItem := range doc.Paths.Map() {
			for method, op := range pathItem.Operations() {
				if op.OperationID == "" {
					continue
				}
				key := operationKey(src.ServiceID, op.OperationID)
				idx.operations[key] = Operation{
					ServiceID:    src.ServiceID,
					OperationID:  op.OperationID,
					Method:       method,
					PathTemplate: path,
					BaseURL:      baseURL,
				}
				idx.byService[src.ServiceID] = append(idx.byService[src.ServiceID], op.OperationID)
			}
		}
	}

	return nil
}

// GetOperation returns the indexed operation for the given service and
// operation id.
func (idx *Index) GetOperation(serviceID, operationID string) (Operation, bool) {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// AllOperationIDs returns all operation ids for the given service, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	ids := make([]string, len(idx.byService[serviceID]))
	copy(ids, idx.byService[serviceID])
	sort.Strings(ids)
	return ids
}
