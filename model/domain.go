package model

// ResponseShape identifies which wire shape a domain backend speaks, so the
// normalization layer can apply exactly one explicit mapping instead of
// guessing field names.
type ResponseShape string

// Known backend response shapes.
const (
	// ShapeEnvelopeV2 wraps payloads as {"result": {...}} and uses
	// employee_id for the submitting actor.
	ShapeEnvelopeV2 ResponseShape = "envelope_v2"
	// ShapeLegacyV1 returns flat payloads and uses emp_id for the
	// submitting actor.
	ShapeLegacyV1 ResponseShape = "legacy_v1"
)

// ApprovalDomain describes one category of approval workflow. All domains
// share the generic lifecycle; they differ in payload shape, allowed
// decisions, and the backend operations that serve detail and attachments.
type ApprovalDomain struct {
	ID               string
	Name             string
	AllowedDecisions []Decision
	Shape            ResponseShape

	// Backend service and operation ids, resolved through the OpenAPI
	// index.
	ServiceID             string
	DetailOperationID     string
	AttachmentOperationID string

	// Role required to decide items in this domain.
	ApproverRole string
}

// Allows reports whether the domain supports the given decision.
func (d ApprovalDomain) Allows(decision Decision) bool {
	for _, allowed := range d.AllowedDecisions {
		if allowed == decision {
			return true
		}
	}
	return false
}

// Approval domain ids.
const (
	DomainSubmission   = "submission"
	DomainDataChange   = "data-change"
	DomainDAForm       = "da-form"
	DomainPDP          = "pdp"
	DomainEvaluation   = "evaluation"
	DomainRegistration = "registration"
)

// domains holds the built-in approval domain registry. MRF submissions,
// data changes, and DA forms support the full decision set; PDP plans,
// evaluations, and registrations use approve/return only.
var domains = map[string]ApprovalDomain{
	DomainSubmission: {
		ID:                    DomainSubmission,
		Name:                  "MRF Submission",
		AllowedDecisions:      []Decision{DecisionApprove, DecisionReject, DecisionReturn},
		Shape:                 ShapeEnvelopeV2,
		ServiceID:             "hr-core",
		DetailOperationID:     "getSubmissionDetail",
		AttachmentOperationID: "getSubmissionAttachment",
		ApproverRole:          "hr-approver",
	},
	DomainDataChange: {
		ID:                    DomainDataChange,
		Name:                  "Data Change Request",
		AllowedDecisions:      []Decision{DecisionApprove, DecisionReject, DecisionReturn},
		Shape:                 ShapeEnvelopeV2,
		ServiceID:             "hr-core",
		DetailOperationID:     "getDataChangeDetail",
		AttachmentOperationID: "getDataChangeAttachment",
		ApproverRole:          "hr-approver",
	},
	DomainDAForm: {
		ID:                    DomainDAForm,
		Name:                  "DA Form",
		AllowedDecisions:      []Decision{DecisionApprove, DecisionReject},
		Shape:                 ShapeLegacyV1,
		ServiceID:             "legacy-hr",
		DetailOperationID:     "getDAFormDetail",
		AttachmentOperationID: "getDAFormAttachment",
		ApproverRole:          "da-approver",
	},
	DomainPDP: {
		ID:                    DomainPDP,
		Name:                  "PDP Plan",
		AllowedDecisions:      []Decision{DecisionApprove, DecisionReturn},
		Shape:                 ShapeEnvelopeV2,
		ServiceID:             "hr-core",
		DetailOperationID:     "getPDPDetail",
		AttachmentOperationID: "getPDPAttachment",
		ApproverRole:          "pdp-approver",
	},
	DomainEvaluation: {
		ID:                    DomainEvaluation,
		Name:                  "Performance Evaluation",
		AllowedDecisions:      []Decision{DecisionApprove, DecisionReturn},
		Shape:                 ShapeLegacyV1,
		ServiceID:             "legacy-hr",
		DetailOperationID:     "getEvaluationDetail",
		AttachmentOperationID: "getEvaluationAttachment",
		ApproverRole:          "evaluation-approver",
	},
	DomainRegistration: {
		ID:                    DomainRegistration,
		Name:                  "Registration",
		AllowedDecisions:      []Decision{DecisionApprove, DecisionReject},
		Shape:                 ShapeEnvelopeV2,
		ServiceID:             "hr-core",
		DetailOperationID:     "getRegistrationDetail",
		AttachmentOperationID: "getRegistrationAttachment",
		ApproverRole:          "hr-approver",
	},
}

// GetDomain looks up an approval domain by id.
func GetDomain(id string) (ApprovalDomain, bool) {
	d, ok := domains[id]
	return d, ok
}

// AllDomains returns the ids of all registered approval domains.
func AllDomains() []string {
	ids := make([]string, 0, len(domains))
	for id := range domains {
		ids = append(ids, id)
	}
	return ids
}
