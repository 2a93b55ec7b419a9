package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/verdict/model"
)

type dialogSnapshot struct {
	State       string               `json:"state"`
	ItemID      string               `json:"item_id"`
	Summary     model.ApprovalItem   `json:"summary"`
	Detail      map[string]any       `json:"detail"`
	Decision    model.Decision       `json:"decision"`
	Comments    string               `json:"comments"`
	Reason      string               `json:"reason"`
	FieldErrors []model.FieldError   `json:"field_errors"`
	Error       *model.ErrorEnvelope `json:"error"`
}

func sessionHeaders(sessionID string) map[string]string {
	return map[string]string{"X-Session-Id": sessionID}
}

func (h *TestHarness) pollDialog(t *testing.T, token, sessionID, base string, done func(dialogSnapshot) bool) dialogSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap dialogSnapshot
	for time.Now().Before(deadline) {
		resp := h.GETWithHeaders(base+"/dialog", token, sessionHeaders(sessionID))
		h.AssertJSON(t, resp, http.StatusOK, &snap)
		if done(snap) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dialog never settled, last snapshot: %+v", snap)
	return snap
}

// TestDecisionDialogFlow drives the full dialog lifecycle: open, detail
// load from the backend, decision choice, reason input, and submission.
func TestDecisionDialogFlow(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	itemID := h.SubmitItem(t, token, "submission", map[string]any{
		"employeeName": "Budi Santoso",
	})

	mb := h.MockBackend("hr-core")
	mb.OnOperation("getSubmissionDetail").RespondWith(http.StatusOK, map[string]any{
		"result": SubmissionFixture(itemID),
	})

	sessionID := h.CreateSession(t, token)
	base := "/domains/submission"

	t.Run("open loads the backend detail", func(t *testing.T) {
		resp := h.POSTWithHeaders(base+"/dialog/open", map[string]any{"item_id": itemID}, token,
			sessionHeaders(sessionID))
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()

		snap := h.pollDialog(t, token, sessionID, base, func(s dialogSnapshot) bool {
			return s.State == "loaded"
		})
		assert.Equal(t, itemID, snap.ItemID)
		assert.Equal(t, "Budi Santoso", snap.Detail["employeeName"])
		mb.AssertCalled(t, "getSubmissionDetail", 1)
	})

	t.Run("choose and enter reason", func(t *testing.T) {
		resp := h.POSTWithHeaders(base+"/dialog/choose", map[string]any{"decision": "reject"}, token,
			sessionHeaders(sessionID))
		var snap dialogSnapshot
		h.AssertJSON(t, resp, http.StatusOK, &snap)
		assert.Equal(t, "confirming", snap.State)
		assert.Equal(t, model.DecisionReject, snap.Decision)

		resp = h.PUTWithHeaders(base+"/dialog/input", map[string]any{
			"reason": "Budget not approved for this quarter",
		}, token, sessionHeaders(sessionID))
		h.AssertJSON(t, resp, http.StatusOK, &snap)
		assert.Equal(t, "Budget not approved for this quarter", snap.Reason)
	})

	t.Run("submit applies the decision", func(t *testing.T) {
		resp := h.POSTWithHeaders(base+"/dialog/submit", nil, token,
			map[string]string{"Idempotency-Key": "dialog-key-1", "X-Session-Id": sessionID})
		h.AssertStatus(t, resp, http.StatusAccepted)
		resp.Body.Close()

		snap := h.pollDialog(t, token, sessionID, base, func(s dialogSnapshot) bool {
			return s.State == "closed"
		})
		assert.Nil(t, snap.Error)

		item, err := h.ApprovalStore.Get(t.Context(), "tenant-a", "submission", itemID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, item.Status)
	})

	t.Run("decision toast is queued", func(t *testing.T) {
		resp := h.GET("/notifications", token)
		var body struct {
			Notifications []struct {
				Level   string `json:"level"`
				Message string `json:"message"`
			} `json:"notifications"`
		}
		h.AssertJSON(t, resp, http.StatusOK, &body)
		require.Len(t, body.Notifications, 1)
		assert.Equal(t, "Item rejected", body.Notifications[0].Message)
	})
}

// TestDialogSubmitWithoutReason verifies local validation blocks a reject
// with no reason and surfaces a field error without touching the item.
func TestDialogSubmitWithoutReason(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	itemID := h.SubmitItem(t, token, "submission", nil)
	mb := h.MockBackend("hr-core")
	mb.OnOperation("getSubmissionDetail").RespondWith(http.StatusOK, map[string]any{
		"result": SubmissionFixture(itemID),
	})

	sessionID := h.CreateSession(t, token)
	base := "/domains/submission"

	resp := h.POSTWithHeaders(base+"/dialog/open", map[string]any{"item_id": itemID}, token,
		sessionHeaders(sessionID))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	h.pollDialog(t, token, sessionID, base, func(s dialogSnapshot) bool {
		return s.State == "loaded"
	})

	resp = h.POSTWithHeaders(base+"/dialog/choose", map[string]any{"decision": "reject"}, token,
		sessionHeaders(sessionID))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.POSTWithHeaders(base+"/dialog/submit", nil, token, sessionHeaders(sessionID))

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusUnprocessableEntity, &body)
	require.NotNil(t, body.Error)
	assert.Equal(t, model.ErrValidationError, body.Error.Code)

	item, err := h.ApprovalStore.Get(t.Context(), "tenant-a", "submission", itemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)
}

// TestDialogReopenDiscardsStaleLoad verifies that closing and reopening
// the dialog on a different item never shows the first item's detail.
func TestDialogReopenDiscardsStaleLoad(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	firstID := h.SubmitItem(t, token, "submission", map[string]any{"employeeName": "First"})
	secondID := h.SubmitItem(t, token, "submission", map[string]any{"employeeName": "Second"})

	mb := h.MockBackend("hr-core")
	// The first detail load is slow; the second is immediate.
	mb.OnOperation("getSubmissionDetail").
		RespondWithDelay(200*time.Millisecond, http.StatusOK, map[string]any{
			"result": map[string]any{"id": firstID, "employeeName": "First"},
		}).
		RespondWith(http.StatusOK, map[string]any{
			"result": map[string]any{"id": secondID, "employeeName": "Second"},
		})

	sessionID := h.CreateSession(t, token)
	base := "/domains/submission"

	resp := h.POSTWithHeaders(base+"/dialog/open", map[string]any{"item_id": firstID}, token,
		sessionHeaders(sessionID))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.POSTWithHeaders(base+"/dialog/close", nil, token, sessionHeaders(sessionID))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.POSTWithHeaders(base+"/dialog/open", map[string]any{"item_id": secondID}, token,
		sessionHeaders(sessionID))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	snap := h.pollDialog(t, token, sessionID, base, func(s dialogSnapshot) bool {
		return s.State == "loaded"
	})
	assert.Equal(t, secondID, snap.ItemID)
	assert.Equal(t, "Second", snap.Detail["employeeName"])

	// Give the slow first response time to arrive; it must not leak in.
	time.Sleep(250 * time.Millisecond)
	resp = h.GETWithHeaders(base+"/dialog", token, sessionHeaders(sessionID))
	h.AssertJSON(t, resp, http.StatusOK, &snap)
	assert.Equal(t, secondID, snap.ItemID)
	assert.Equal(t, "Second", snap.Detail["employeeName"])
}

// TestDialogForwardsCurrentToken verifies backend calls made later in a
// session's life carry the operator's current bearer token, not the one
// the session was created with.
func TestDialogForwardsCurrentToken(t *testing.T) {
	h := NewTestHarness(t)

	claims := HRApproverClaims()
	firstToken := h.GenerateToken(claims)

	itemID := h.SubmitItem(t, firstToken, "submission", nil)
	mb := h.MockBackend("hr-core")
	mb.OnOperation("getSubmissionDetail").RespondWith(http.StatusOK, map[string]any{
		"result": SubmissionFixture(itemID),
	})

	sessionID := h.CreateSession(t, firstToken)

	// The operator's client rotates its token between requests.
	claims.Extra = map[string]any{"jti": "rotated"}
	secondToken := h.GenerateToken(claims)
	require.NotEqual(t, firstToken, secondToken)

	resp := h.POSTWithHeaders("/domains/submission/dialog/open",
		map[string]any{"item_id": itemID}, secondToken, sessionHeaders(sessionID))
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	h.pollDialog(t, secondToken, sessionID, "/domains/submission", func(s dialogSnapshot) bool {
		return s.State == "loaded"
	})

	req := mb.LastRequest("getSubmissionDetail")
	require.NotNil(t, req)
	assert.Equal(t, "Bearer "+secondToken, req.Headers.Get("Authorization"))
}
