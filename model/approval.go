package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an approval item. An item starts pending
// and moves exactly once to one of the terminal states; terminal states
// never change again.
type Status string

// Approval item statuses.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusReturned Status = "returned"
)

// IsTerminal reports whether the status accepts no further decisions.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusReturned
}

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// CanTransition reports whether a transition from s to next is legal.
// The only legal transitions are pending → terminal.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.IsTerminal()
}

// Decision is an operator verdict on a pending approval item.
type Decision string

// Operator decisions.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionReturn  Decision = "return"
)

// IsValid reports whether the decision is one of the known values.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionReturn
}

// RequiresReason reports whether the decision must carry a non-blank reason.
// Approvals never require one; rejections and returns always do.
func (d Decision) RequiresReason() bool {
	return d == DecisionReject || d == DecisionReturn
}

// ResultingStatus returns the terminal status an item reaches when the
// decision is applied.
func (d Decision) ResultingStatus() Status {
	switch d {
	case DecisionApprove:
		return StatusApproved
	case DecisionReject:
		return StatusRejected
	case DecisionReturn:
		return StatusReturned
	default:
		return ""
	}
}

// ApprovalItem is one entry in an approval worklist. FormDetails carries the
// domain-specific payload; its shape differs per approval domain and is
// treated as opaque by the lifecycle engine.
type ApprovalItem struct {
	ID          string         `json:"id"`
	Domain      string         `json:"domain"`
	TenantID    string         `json:"tenant_id"`
	Status      Status         `json:"status"`
	FormDetails map[string]any `json:"form_details,omitempty"`
	RequestedBy ActorRef       `json:"requested_by"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int            `json:"version"`
}

// Decidable reports whether the item still accepts a decision.
func (it *ApprovalItem) Decidable() bool {
	return it.Status == StatusPending
}

// ActorRef identifies the person behind a submission or decision.
type ActorRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ApprovalRecord is one append-only entry in an item's approval history.
type ApprovalRecord struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Approver  ActorRef  `json:"approver"`
	Decision  Decision  `json:"decision"`
	Comments  string    `json:"comments,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// ItemDetail is an approval item together with its full history and the
// enriched form payload fetched from the domain backend.
type ItemDetail struct {
	Item    ApprovalItem     `json:"item"`
	History []ApprovalRecord `json:"history"`
}

// DecisionRequest is an operator's decision submission for one item.
type DecisionRequest struct {
	ItemID   string   `json:"item_id"`
	Decision Decision `json:"decision"`
	Comments string   `json:"comments,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Validate checks the request locally. A reject or return with a blank or
// whitespace-only reason fails here and must never reach the store or the
// network.
func (r *DecisionRequest) Validate() []FieldError {
	var details []FieldError
	if r.ItemID == "" {
		details = append(details, FieldError{
			Field: "item_id", Code: "required", Message: "Item id is required",
		})
	}
	if !r.Decision.IsValid() {
		details = append(details, FieldError{
			Field: "decision", Code: "invalid", Message: "Decision must be approve, reject, or return",
		})
	}
	if r.Decision.RequiresReason() && strings.TrimSpace(r.Reason) == "" {
		details = append(details, FieldError{
			Field: "reason", Code: "required", Message: "Reason is required",
		})
	}
	return details
}

// DecisionOutcome is the result of a successfully applied decision.
type DecisionOutcome struct {
	ItemID   string   `json:"item_id"`
	Domain   string   `json:"domain"`
	Status   Status   `json:"status"`
	Decision Decision `json:"decision"`
	RecordID string   `json:"record_id"`
	Replayed bool     `json:"replayed,omitempty"`
}

// AttachmentRef points at a binary attachment owned by an approval item.
// The bytes themselves are resolved on demand and never persisted here.
type AttachmentRef struct {
	ID               string `json:"id"`
	ItemID           string `json:"item_id"`
	OriginalFilename string `json:"original_filename"`
	ContentType      string `json:"content_type,omitempty"`
	Size             int64  `json:"size,omitempty"`
}

// WorklistFilters narrow a worklist query.
type WorklistFilters struct {
	Status  Status
	Search  string
	Page    int
	PerPage int
}

// WorklistPage is one page of a worklist query result.
type WorklistPage struct {
	Items []ApprovalItem `json:"items"`
	Total int            `json:"total"`
}
