package integration

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdictlabs/verdict/model"
)

// pdfFixture is a minimal PDF header followed by filler bytes.
func pdfFixture(size int) []byte {
	data := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{0x20}, size)...)
	return data
}

// TestItemAttachmentStreamsFromBackend verifies that an item attachment is
// streamed through from the domain's system of record with its content
// type and bytes intact.
func TestItemAttachmentStreamsFromBackend(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	itemID := h.SubmitItem(t, token, "submission", nil)

	pdf := pdfFixture(512)
	mb := h.MockBackend("hr-core")
	mb.OnOperation("getSubmissionAttachment").
		RespondWithBytes(http.StatusOK, "application/pdf", pdf)

	resp := h.GET("/domains/submission/items/"+itemID+"/attachments/att-1?kind=attainment", token)
	h.AssertStatus(t, resp, http.StatusOK)

	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body := h.ReadBody(resp)
	assert.Equal(t, pdf, body)

	mb.AssertCalled(t, "getSubmissionAttachment", 1)
	last := mb.LastRequest("getSubmissionAttachment")
	require.NotNil(t, last)
	assert.Equal(t, "Bearer "+token, last.Headers.Get("Authorization"))
}

// TestItemAttachmentRejectsWrongType verifies that a kind restricted to
// PDF refuses a backend stream with another content type.
func TestItemAttachmentRejectsWrongType(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())

	itemID := h.SubmitItem(t, token, "submission", nil)

	h.MockBackend("hr-core").OnOperation("getSubmissionAttachment").
		RespondWithBytes(http.StatusOK, "image/png", []byte{0x89, 'P', 'N', 'G'})

	resp := h.GET("/domains/submission/items/"+itemID+"/attachments/att-1?kind=attainment", token)

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, http.StatusUnsupportedMediaType, &body)
	require.NotNil(t, body.Error)
	assert.Equal(t, model.ErrAttachmentBadType, body.Error.Code)
}

// TestLocalAttachmentRoundTrip uploads a blob, previews it inside a
// session, and deletes it.
func TestLocalAttachmentRoundTrip(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(HRApproverClaims())
	sessionID := h.CreateSession(t, token)

	pdf := pdfFixture(256)

	req, err := http.NewRequest(http.MethodPost, h.BaseURL()+"/attachments?kind=attainment", bytes.NewReader(pdf))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/pdf")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var uploaded struct {
		ID          string `json:"id"`
		ContentType string `json:"content_type"`
		Size        int64  `json:"size"`
	}
	h.AssertJSON(t, resp, http.StatusCreated, &uploaded)
	require.NotEmpty(t, uploaded.ID)
	assert.Equal(t, "application/pdf", uploaded.ContentType)
	assert.Equal(t, int64(len(pdf)), uploaded.Size)

	t.Run("download within session", func(t *testing.T) {
		resp := h.GETWithHeaders("/attachments/"+uploaded.ID, token,
			map[string]string{"X-Session-Id": sessionID})
		h.AssertStatus(t, resp, http.StatusOK)
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		assert.Equal(t, pdf, h.ReadBody(resp))
	})

	t.Run("delete then gone", func(t *testing.T) {
		resp := h.DELETE("/attachments/"+uploaded.ID, token)
		h.AssertStatus(t, resp, http.StatusNoContent)
		resp.Body.Close()

		resp = h.GET("/attachments/"+uploaded.ID, token)
		h.AssertStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})
}
