package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verdictlabs/verdict/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error == nil {
		t.Fatal("response has no error field")
	}
	return body.Error
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("id = %q, want abc", body["id"])
	}
}

func TestWriteJSON_nilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad request", model.NewBadRequestError("bad"), http.StatusBadRequest, model.ErrBadRequest},
		{"unauthorized", model.NewUnauthorizedError("no token"), http.StatusUnauthorized, model.ErrUnauthorized},
		{"forbidden", model.NewForbiddenError("no role"), http.StatusForbidden, model.ErrForbidden},
		{"not found", model.NewNotFoundError("gone"), http.StatusNotFound, model.ErrNotFound},
		{"conflict", model.NewConflictError("version mismatch"), http.StatusConflict, model.ErrConflict},
		{"validation", model.NewValidationError(nil), http.StatusUnprocessableEntity, model.ErrValidationError},
		{"internal", model.NewInternalError(), http.StatusInternalServerError, model.ErrInternalError},
		{"backend unavailable", model.NewBackendUnavailableError(), http.StatusBadGateway, model.ErrBackendUnavailable},
		{"backend timeout", model.NewBackendTimeoutError(), http.StatusGatewayTimeout, model.ErrBackendTimeout},
		{"not decidable", model.NewItemNotDecidableError("item-1", model.StatusApproved), http.StatusConflict, model.ErrItemNotDecidable},
		{"decision in flight", model.NewDecisionInFlightError("item-1"), http.StatusConflict, model.ErrDecisionInFlight},
		{"decision not allowed", model.NewDecisionNotAllowedError("submission", model.DecisionReturn), http.StatusUnprocessableEntity, model.ErrDecisionNotAllowed},
		{"attachment too large", model.NewAttachmentTooLargeError(1024), http.StatusRequestEntityTooLarge, model.ErrAttachmentTooLarge},
		{"attachment bad type", model.NewAttachmentBadTypeError("text/x-sh"), http.StatusUnsupportedMediaType, model.ErrAttachmentBadType},
		{"plain error wraps as internal", errors.New("boom"), http.StatusInternalServerError, model.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			WriteError(rec, req, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			ee := decodeErrorBody(t, rec)
			if ee.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", ee.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteError_keepsExistingTraceID(t *testing.T) {
	ee := model.NewNotFoundError("gone")
	ee.TraceID = "preset-trace"

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	WriteError(rec, req, ee)

	got := decodeErrorBody(t, rec)
	if got.TraceID != "preset-trace" {
		t.Errorf("trace id = %q, want preset-trace", got.TraceID)
	}
}

func TestWriteError_nilRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, model.NewNotFoundError("gone"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestWriteValidationError_details(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/x", nil)
	WriteValidationError(rec, req, []model.FieldError{
		{Field: "reason", Code: "required", Message: "Reason is required"},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	ee := decodeErrorBody(t, rec)
	if len(ee.Details) != 1 || ee.Details[0].Field != "reason" {
		t.Errorf("details = %+v, want one reason entry", ee.Details)
	}
}
