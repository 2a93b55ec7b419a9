package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/verdictlabs/verdict/internal/approval"
	"github.com/verdictlabs/verdict/internal/attachment"
	"github.com/verdictlabs/verdict/internal/config"
	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/internal/refdata"
	"github.com/verdictlabs/verdict/internal/session"
	"github.com/verdictlabs/verdict/model"
)

// denyAll rejects every request, standing in for a failed authentication.
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, model.NewUnauthorizedError("Missing authorization header"))
	})
}

func newDenyAllRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = false

	sessions := session.NewRegistry(session.Options{TTL: time.Minute})
	t.Cleanup(sessions.Close)

	uploads := attachment.NewLocalStore()
	refStore := refdata.NewMemoryStore()
	lookups := refdata.NewLookupCache(refStore, time.Minute, 100)

	return NewRouter(Dependencies{
		Config:       cfg,
		Authenticate: denyAll,
		Engine:       approval.NewEngine(approval.NewMemoryStore()),
		Attachments:  attachment.NewResolver(uploads, nil, 1024),
		Uploads:      uploads,
		RefData:      refdata.NewService(refStore, lookups),
		Lookups:      lookups,
		Sessions:     sessions,
		Notifier:     notify.NewNotifier(16),
	})
}

func TestRouter_protectedRoutesRequireAuth(t *testing.T) {
	router := newDenyAllRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/sessions"},
		{http.MethodGet, "/domains"},
		{http.MethodGet, "/domains/submission/items"},
		{http.MethodPost, "/domains/submission/items"},
		{http.MethodGet, "/domains/submission/worklist"},
		{http.MethodGet, "/domains/submission/dialog"},
		{http.MethodPost, "/attachments"},
		{http.MethodGet, "/ref/degrees"},
		{http.MethodGet, "/lookups/degrees"},
		{http.MethodGet, "/notifications"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestRouter_publicRoutesBypassAuth(t *testing.T) {
	router := newDenyAllRouter(t)

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code == http.StatusUnauthorized {
			t.Errorf("GET %s: status = 401, want auth bypass", path)
		}
	}
}

func TestRouter_unknownRoute(t *testing.T) {
	router := newDenyAllRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/no-such-route", nil))
	if rec.Code == http.StatusOK {
		t.Error("unknown route returned 200")
	}
}
