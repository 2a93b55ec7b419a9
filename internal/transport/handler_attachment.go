package transport

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/verdictlabs/verdict/model"
)

// handleAttachmentUpload stores a blob uploaded ahead of form submission.
// The body is the raw file content; kind and content type come from the
// query string and Content-Type header.
func (h *handlers) handleAttachmentUpload(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		WriteValidationError(w, r, []model.FieldError{
			{Field: "kind", Code: "required", Message: "Attachment kind is required"},
		})
		return
	}

	maxSize := h.deps.Config.Attachments.MaxSizeBytes
	// Read one byte past the cap so oversized uploads are rejected with
	// the size error instead of silently truncated.
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSize+1))
	if err != nil {
		WriteError(w, r, model.NewBadRequestError("failed to read request body"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	id, err := h.deps.Uploads.Put(kind, contentType, data, maxSize)
	if err != nil {
		WriteError(w, r, err)
		if h.deps.Metrics != nil {
			if ee, ok := err.(*model.ErrorEnvelope); ok {
				switch ee.Code {
				case model.ErrAttachmentTooLarge:
					h.deps.Metrics.RecordAttachmentRejection("size")
				case model.ErrAttachmentBadType:
					h.deps.Metrics.RecordAttachmentRejection("content_type")
				}
			}
		}
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"id":           id,
		"kind":         kind,
		"content_type": contentType,
		"size":         len(data),
	})
}

// handleAttachmentDownload streams a locally uploaded blob back for
// preview. The lease is parked in the session's preview holder so opening
// another attachment releases this one.
func (h *handlers) handleAttachmentDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attachmentId")

	lease, err := h.deps.Attachments.ResolveLocal(id)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	defer lease.Close()

	rctx := model.MustRequestContext(r.Context())
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		if s, ok := h.deps.Sessions.Get(sid); ok && s.SubjectID == rctx.SubjectID {
			s.Preview.Set(lease)
			defer s.Preview.Release()
		}
	}

	w.Header().Set("Content-Type", lease.ContentType())
	if lease.Size() > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(lease.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	n, _ := io.Copy(w, lease)
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordAttachmentBytes("local", n)
	}
}

// handleAttachmentDelete discards a locally uploaded blob.
func (h *handlers) handleAttachmentDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attachmentId")
	if _, ok := h.deps.Uploads.Get(id); !ok {
		WriteNotFound(w, r, "attachment not found")
		return
	}
	h.deps.Uploads.Delete(id)
	WriteJSON(w, http.StatusNoContent, nil)
}
