package approval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/verdictlabs/verdict/model"
)

func newTestItem(id string, status model.Status, submitted time.Time) model.ApprovalItem {
	return model.ApprovalItem{
		ID:          id,
		Domain:      model.DomainSubmission,
		TenantID:    "tenant-1",
		Status:      status,
		FormDetails: map[string]any{"position": "Engineer"},
		RequestedBy: model.ActorRef{ID: "emp-" + id, Name: "Requester " + id},
		SubmittedAt: submitted,
		CreatedAt:   submitted,
		UpdatedAt:   submitted,
		Version:     1,
	}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	store := NewMemoryStore()
	item := newTestItem("a", model.StatusPending, time.Now().UTC())

	if err := store.Create(context.Background(), item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(context.Background(), item); err == nil {
		t.Error("duplicate Create() succeeded, want error")
	}

	got, err := store.Get(context.Background(), "tenant-1", model.DomainSubmission, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "a" || got.Status != model.StatusPending {
		t.Errorf("Get() = %+v, want item a pending", got)
	}

	// Tenant and domain scoping.
	if _, err := store.Get(context.Background(), "tenant-2", model.DomainSubmission, "a"); err == nil {
		t.Error("cross-tenant Get() succeeded, want not found")
	}
	if _, err := store.Get(context.Background(), "tenant-1", model.DomainPDP, "a"); err == nil {
		t.Error("cross-domain Get() succeeded, want not found")
	}
}

func TestMemoryStoreApplyDecisionVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	item := newTestItem("a", model.StatusPending, time.Now().UTC())
	if err := store.Create(context.Background(), item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	item.Status = model.StatusApproved
	record := model.ApprovalRecord{
		ID:        "rec-1",
		ItemID:    "a",
		Approver:  model.ActorRef{ID: "user-1", Name: "Alia Approver"},
		Decision:  model.DecisionApprove,
		DecidedAt: time.Now().UTC(),
	}
	if err := store.ApplyDecision(context.Background(), item, record); err != nil {
		t.Fatalf("ApplyDecision() error = %v", err)
	}

	// Re-sending the same version loses the race; the stale record must
	// not land either.
	item.Status = model.StatusRejected
	stale := record
	stale.ID = "rec-2"
	stale.Decision = model.DecisionReject
	err := store.ApplyDecision(context.Background(), item, stale)
	env, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("stale ApplyDecision() error = %v, want ErrorEnvelope", err)
	}
	if env.Code != model.ErrConflict {
		t.Errorf("code = %q, want %q", env.Code, model.ErrConflict)
	}

	got, _ := store.Get(context.Background(), "tenant-1", model.DomainSubmission, "a")
	if got.Status != model.StatusApproved {
		t.Errorf("status = %q, want approved", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}

	records, err := store.GetRecords(context.Background(), "tenant-1", model.DomainSubmission, "a")
	if err != nil {
		t.Fatalf("GetRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Errorf("records = %+v, want only rec-1", records)
	}
}

func TestMemoryStoreListFilterAndPaging(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		status := model.StatusPending
		if i >= 3 {
			status = model.StatusApproved
		}
		item := newTestItem(fmt.Sprintf("item-%d", i), status, base.Add(time.Duration(i)*time.Minute))
		if err := store.Create(context.Background(), item); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	page, err := store.List(context.Background(), "tenant-1", model.DomainSubmission, model.WorklistFilters{
		Status:  model.StatusPending,
		Page:    1,
		PerPage: 2,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 {
		t.Errorf("total = %d, want 3", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	// Newest first.
	if page.Items[0].ID != "item-2" {
		t.Errorf("first item = %q, want item-2", page.Items[0].ID)
	}

	second, err := store.List(context.Background(), "tenant-1", model.DomainSubmission, model.WorklistFilters{
		Status:  model.StatusPending,
		Page:    2,
		PerPage: 2,
	})
	if err != nil {
		t.Fatalf("List() page 2 error = %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "item-0" {
		t.Errorf("page 2 = %+v, want single item-0", second.Items)
	}
}

func TestMemoryStoreListSearch(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	alpha := newTestItem("a", model.StatusPending, now)
	alpha.RequestedBy.Name = "Dewi Lestari"
	beta := newTestItem("b", model.StatusPending, now.Add(time.Minute))
	beta.RequestedBy.Name = "Budi Santoso"
	for _, item := range []model.ApprovalItem{alpha, beta} {
		if err := store.Create(context.Background(), item); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := store.List(context.Background(), "tenant-1", model.DomainSubmission, model.WorklistFilters{
		Search:  "dewi",
		Page:    1,
		PerPage: 10,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "a" {
		t.Errorf("search result = %+v, want only item a", page.Items)
	}
}

func TestMemoryStoreRecords(t *testing.T) {
	store := NewMemoryStore()
	item := newTestItem("a", model.StatusPending, time.Now().UTC())
	if err := store.Create(context.Background(), item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	item.Status = model.StatusApproved
	record := model.ApprovalRecord{
		ID:        "rec-1",
		ItemID:    "a",
		Approver:  model.ActorRef{ID: "user-1", Name: "Alia Approver"},
		Decision:  model.DecisionApprove,
		DecidedAt: time.Now().UTC(),
	}
	if err := store.ApplyDecision(context.Background(), item, record); err != nil {
		t.Fatalf("ApplyDecision() error = %v", err)
	}

	records, err := store.GetRecords(context.Background(), "tenant-1", model.DomainSubmission, "a")
	if err != nil {
		t.Fatalf("GetRecords() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Errorf("records = %+v, want single rec-1", records)
	}
}
