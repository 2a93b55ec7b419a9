package transport

import (
	"net/http"

	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/model"
)

// handleNotificationsDrain returns and clears the caller's pending toast
// notifications. Each notification is delivered at most once.
func (h *handlers) handleNotificationsDrain(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	notifications := h.deps.Notifier.Drain(rctx.SubjectID)
	if notifications == nil {
		notifications = []notify.Notification{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}
