package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Approval-specific error codes.
const (
	ErrItemNotDecidable   = "ITEM_NOT_DECIDABLE"
	ErrDecisionInFlight   = "DECISION_IN_FLIGHT"
	ErrDecisionNotAllowed = "DECISION_NOT_ALLOWED"
	ErrAttachmentTooLarge = "ATTACHMENT_TOO_LARGE"
	ErrAttachmentBadType  = "ATTACHMENT_BAD_TYPE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewItemNotDecidableError returns an ITEM_NOT_DECIDABLE error carrying the
// authoritative status of the item.
func NewItemNotDecidableError(itemID string, status Status) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrItemNotDecidable,
		Message: fmt.Sprintf("approval item %q is already %s", itemID, status),
	}
}

// NewDecisionInFlightError returns a DECISION_IN_FLIGHT error.
func NewDecisionInFlightError(itemID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDecisionInFlight,
		Message: fmt.Sprintf("a decision for item %q is already being submitted", itemID),
	}
}

// NewDecisionNotAllowedError returns a DECISION_NOT_ALLOWED error for a
// decision the domain does not support.
func NewDecisionNotAllowedError(domain string, decision Decision) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDecisionNotAllowed,
		Message: fmt.Sprintf("decision %q is not allowed in the %s domain", decision, domain),
	}
}

// NewAttachmentTooLargeError returns an ATTACHMENT_TOO_LARGE error.
func NewAttachmentTooLargeError(limit int64) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAttachmentTooLarge,
		Message: fmt.Sprintf("attachment exceeds the %d byte limit", limit),
	}
}

// NewAttachmentBadTypeError returns an ATTACHMENT_BAD_TYPE error.
func NewAttachmentBadTypeError(contentType string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrAttachmentBadType,
		Message: fmt.Sprintf("attachment type %q is not allowed for this form", contentType),
	}
}
