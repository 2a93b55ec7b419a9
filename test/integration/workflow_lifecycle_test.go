package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/verdict/model"
)

// TestApprovalLifecycle walks an MRF submission from submit through detail
// enrichment to a final approve decision, covering conflict and replay
// behavior on the way.
func TestApprovalLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	itemID := h.SubmitItem(t, token, "submission", map[string]any{
		"employeeName": "Budi Santoso",
		"position":     "Senior Analyst",
	})

	mb := h.MockBackend("hr-core")
	mb.OnOperation("getSubmissionDetail").RespondWith(http.StatusOK, map[string]any{
		"result": SubmissionFixture(itemID),
	})

	t.Run("detail enriched from backend", func(t *testing.T) {
		resp := h.GET("/domains/submission/items/"+itemID, token)

		var body struct {
			Item   model.ApprovalItem `json:"item"`
			Detail map[string]any     `json:"detail"`
		}
		h.AssertJSON(t, resp, http.StatusOK, &body)

		assert.Equal(t, itemID, body.Item.ID)
		assert.Equal(t, model.StatusPending, body.Item.Status)
		assert.Equal(t, "Budi Santoso", body.Detail["employeeName"])
		assert.Equal(t, "Finance", body.Detail["department"])

		// The backend call carries the caller's token and tenant.
		mb.AssertCalled(t, "getSubmissionDetail", 1)
		last := mb.LastRequest("getSubmissionDetail")
		require.NotNil(t, last)
		assert.Equal(t, "Bearer "+token, last.Headers.Get("Authorization"))
		assert.Equal(t, "tenant-a", last.Headers.Get("X-Tenant-Id"))
	})

	t.Run("approve", func(t *testing.T) {
		resp := h.POSTWithHeaders("/domains/submission/items/"+itemID+"/decision",
			map[string]any{"decision": "approve", "comments": "Looks good"},
			token,
			map[string]string{"Idempotency-Key": "lifecycle-key-1"},
		)

		var outcome model.DecisionOutcome
		h.AssertJSON(t, resp, http.StatusOK, &outcome)

		assert.Equal(t, model.StatusApproved, outcome.Status)
		assert.Equal(t, model.DecisionApprove, outcome.Decision)
		assert.False(t, outcome.Replayed)
		assert.NotEmpty(t, outcome.RecordID)
	})

	t.Run("second decision conflicts", func(t *testing.T) {
		resp := h.POST("/domains/submission/items/"+itemID+"/decision",
			map[string]any{"decision": "reject", "reason": "changed my mind"},
			token,
		)

		var body struct {
			Error *model.ErrorEnvelope `json:"error"`
		}
		h.AssertJSON(t, resp, http.StatusConflict, &body)
		require.NotNil(t, body.Error)
		assert.Equal(t, model.ErrItemNotDecidable, body.Error.Code)
	})

	t.Run("replay with same idempotency key", func(t *testing.T) {
		resp := h.POSTWithHeaders("/domains/submission/items/"+itemID+"/decision",
			map[string]any{"decision": "approve", "comments": "Looks good"},
			token,
			map[string]string{"Idempotency-Key": "lifecycle-key-1"},
		)

		var outcome model.DecisionOutcome
		h.AssertJSON(t, resp, http.StatusOK, &outcome)

		assert.True(t, outcome.Replayed)
		assert.Equal(t, model.StatusApproved, outcome.Status)
	})

	t.Run("one toast for one decision", func(t *testing.T) {
		resp := h.GET("/notifications", token)

		var body struct {
			Notifications []struct {
				Level   string `json:"level"`
				Message string `json:"message"`
			} `json:"notifications"`
		}
		h.AssertJSON(t, resp, http.StatusOK, &body)

		require.Len(t, body.Notifications, 1)
		assert.Equal(t, "success", body.Notifications[0].Level)
		assert.Equal(t, "Item approved", body.Notifications[0].Message)
	})
}

// TestRejectRequiresReason verifies that reject without a reason fails
// validation before anything is persisted or fetched.
func TestRejectRequiresReason(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	itemID := h.SubmitItem(t, token, "submission", nil)

	resp := h.POST("/domains/submission/items/"+itemID+"/decision",
		map[string]any{"decision": "reject"},
		token,
	)

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusUnprocessableEntity, &body)
	require.NotNil(t, body.Error)
	assert.Equal(t, model.ErrValidationError, body.Error.Code)
	require.NotEmpty(t, body.Error.Details)
	assert.Equal(t, "reason", body.Error.Details[0].Field)

	// The item is untouched and the backend never saw a request.
	item, err := h.ApprovalStore.Get(t.Context(), "tenant-a", "submission", itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)
	h.MockBackend("hr-core").AssertNotCalled(t, "getSubmissionDetail")
}

// TestDisallowedDecisionPerDomain verifies that domains with a reduced
// decision set refuse the decisions they do not support.
func TestDisallowedDecisionPerDomain(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(PDPApproverClaims())

	itemID := h.SubmitItem(t, token, "pdp", map[string]any{
		"planYear": 2026,
	})

	resp := h.POST("/domains/pdp/items/"+itemID+"/decision",
		map[string]any{"decision": "reject", "reason": "not allowed here"},
		token,
	)

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusUnprocessableEntity, &body)
	require.NotNil(t, body.Error)
	assert.Equal(t, model.ErrDecisionNotAllowed, body.Error.Code)

	// Return is the supported alternative and succeeds.
	resp = h.POST("/domains/pdp/items/"+itemID+"/decision",
		map[string]any{"decision": "return", "reason": "please revise targets"},
		token,
	)
	var outcome model.DecisionOutcome
	h.AssertJSON(t, resp, http.StatusOK, &outcome)
	assert.Equal(t, model.StatusReturned, outcome.Status)
}

// TestWorklistSessionFlow drives the session-scoped worklist through tab
// switching and debounced search over live data.
func TestWorklistSessionFlow(t *testing.T) {
	h := NewTestHarness(t, WithSearchDebounce(20*time.Millisecond))
	token := h.GenerateToken(HRApproverClaims())

	first := h.SubmitItem(t, token, "submission", map[string]any{"employeeName": "Budi Santoso"})
	h.SubmitItem(t, token, "submission", map[string]any{"employeeName": "Siti Rahayu"})

	sessionID := h.CreateSession(t, token)
	headers := map[string]string{"X-Session-Id": sessionID}

	base := "/domains/submission"

	// The initial query is asynchronous; poll until it settles.
	snap := h.pollWorklist(t, token, sessionID, base, "ready")
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, model.StatusPending, snap.Tab)

	t.Run("search narrows after debounce", func(t *testing.T) {
		resp := h.PUTWithHeaders(base+"/worklist/search",
			map[string]any{"input": "Budi"}, token, headers)
		var snap worklistSnapshot
		h.AssertJSON(t, resp, http.StatusOK, &snap)
		assert.Equal(t, "Budi", snap.Search)

		settled := h.pollWorklistUntil(t, token, sessionID, base, func(s worklistSnapshot) bool {
			return s.AppliedSearch == "Budi" && s.Phase == "ready"
		})
		require.Len(t, settled.Items, 1)
		assert.Equal(t, first, settled.Items[0].ID)
	})

	t.Run("tab switch resets to empty approved list", func(t *testing.T) {
		resp := h.PUTWithHeaders(base+"/worklist/tab",
			map[string]any{"tab": "approved"}, token, headers)
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		settled := h.pollWorklistUntil(t, token, sessionID, base, func(s worklistSnapshot) bool {
			return s.Phase == "empty" || (s.Phase == "ready" && s.Total == 0)
		})
		assert.Equal(t, 0, settled.Total)
	})
}

type worklistSnapshot struct {
	Tab           model.Status         `json:"tab"`
	Page          int                  `json:"page"`
	Search        string               `json:"search"`
	AppliedSearch string               `json:"applied_search"`
	Phase         string               `json:"phase"`
	Items         []model.ApprovalItem `json:"items"`
	Total         int                  `json:"total"`
}

func (h *TestHarness) pollWorklist(t *testing.T, token, sessionID, base, phase string) worklistSnapshot {
	t.Helper()
	return h.pollWorklistUntil(t, token, sessionID, base, func(s worklistSnapshot) bool {
		return s.Phase == phase
	})
}

func (h *TestHarness) pollWorklistUntil(t *testing.T, token, sessionID, base string, done func(worklistSnapshot) bool) worklistSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap worklistSnapshot
	for time.Now().Before(deadline) {
		resp := h.GETWithHeaders(base+"/worklist", token, map[string]string{"X-Session-Id": sessionID})
		h.AssertJSON(t, resp, http.StatusOK, &snap)
		if done(snap) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("worklist never settled, last snapshot: %+v", snap)
	return snap
}
