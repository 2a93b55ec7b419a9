package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/verdictlabs/verdict/internal/session"
	"github.com/verdictlabs/verdict/model"
)

type sessionKey struct{}

// sessionFrom extracts the resolved session from the request context.
func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey{}).(*session.Session)
	return s
}

// requireSession resolves the X-Session-Id header against the registry and
// stores the session in the context. Sessions are bound to the subject that
// created them.
func (h *handlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get("X-Session-Id")
		if sessionID == "" {
			WriteError(w, r, model.NewBadRequestError("Missing X-Session-Id header"))
			return
		}

		s, ok := h.deps.Sessions.Get(sessionID)
		if !ok {
			WriteNotFound(w, r, "session not found or expired")
			return
		}

		rctx := model.MustRequestContext(r.Context())
		if s.SubjectID != rctx.SubjectID {
			WriteError(w, r, model.NewForbiddenError("session belongs to a different subject"))
			return
		}

		// Controller callbacks forward the latest token, not the one the
		// session was created with.
		s.RefreshContext(rctx)

		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionResponse is the wire shape of a session.
type sessionResponse struct {
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	TenantID  string `json:"tenant_id"`
}

func (h *handlers) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := rctx.Validate(); err != nil {
		WriteError(w, r, model.NewUnauthorizedError("token is missing required claims"))
		return
	}

	s := h.deps.Sessions.Create(rctx)
	WriteJSON(w, http.StatusCreated, sessionResponse{
		ID:        s.ID,
		SubjectID: s.SubjectID,
		TenantID:  s.TenantID,
	})
}

func (h *handlers) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	s, ok := h.deps.Sessions.Get(sessionID)
	if !ok {
		WriteNotFound(w, r, "session not found or expired")
		return
	}

	rctx := model.MustRequestContext(r.Context())
	if s.SubjectID != rctx.SubjectID {
		WriteError(w, r, model.NewForbiddenError("session belongs to a different subject"))
		return
	}

	h.deps.Sessions.Delete(sessionID)
	WriteJSON(w, http.StatusNoContent, nil)
}
