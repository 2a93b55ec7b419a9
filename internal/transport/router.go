package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/verdictlabs/verdict/internal/approval"
	"github.com/verdictlabs/verdict/internal/attachment"
	"github.com/verdictlabs/verdict/internal/backend"
	"github.com/verdictlabs/verdict/internal/config"
	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/internal/observability"
	"github.com/verdictlabs/verdict/internal/refdata"
	"github.com/verdictlabs/verdict/internal/session"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Ready        observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler

	Engine      *approval.Engine
	Backend     *backend.Client
	Attachments *attachment.Resolver
	Uploads     *attachment.LocalStore
	RefData     *refdata.Service
	Lookups     *refdata.LookupCache
	Sessions    *session.Registry
	Notifier    *notify.Notifier
}

// handlers carries the dependencies into the route handlers.
type handlers struct {
	deps Dependencies
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	// Authenticated routes get the full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		// Sessions.
		r.Post("/sessions", h.handleSessionCreate)
		r.Delete("/sessions/{sessionId}", h.handleSessionDelete)

		// Approval domains and items.
		r.Get("/domains", h.handleDomainList)
		r.Route("/domains/{domainId}", func(r chi.Router) {
			r.Post("/items", h.handleItemSubmit)
			r.Get("/items", h.handleItemList)
			r.Get("/items/{itemId}", h.handleItemDetail)
			r.Post("/items/{itemId}/decision", h.handleItemDecide)
			r.Get("/items/{itemId}/attachments/{attachmentId}", h.handleItemAttachment)

			// Session-scoped UI state.
			r.Group(func(r chi.Router) {
				r.Use(h.requireSession)

				r.Get("/worklist", h.handleWorklistSnapshot)
				r.Put("/worklist/tab", h.handleWorklistTab)
				r.Put("/worklist/page", h.handleWorklistPage)
				r.Put("/worklist/search", h.handleWorklistSearch)
				r.Post("/worklist/refresh", h.handleWorklistRefresh)
				r.Post("/worklist/retry", h.handleWorklistRetry)

				r.Get("/dialog", h.handleDialogSnapshot)
				r.Post("/dialog/open", h.handleDialogOpen)
				r.Post("/dialog/choose", h.handleDialogChoose)
				r.Put("/dialog/input", h.handleDialogInput)
				r.Post("/dialog/submit", h.handleDialogSubmit)
				r.Post("/dialog/close", h.handleDialogClose)
			})
		})

		// Locally uploaded attachments (pending submissions).
		r.Post("/attachments", h.handleAttachmentUpload)
		r.Get("/attachments/{attachmentId}", h.handleAttachmentDownload)
		r.Delete("/attachments/{attachmentId}", h.handleAttachmentDelete)

		// Reference data administration.
		r.Route("/ref/{kind}", func(r chi.Router) {
			r.Post("/", h.handleRefCreate)
			r.Get("/", h.handleRefList)
			r.Get("/{id}", h.handleRefGet)
			r.Put("/{id}", h.handleRefUpdate)
			r.Post("/{id}/archive", h.handleRefArchive)
			r.Post("/{id}/restore", h.handleRefRestore)
		})
		r.Get("/lookups/{kind}", h.handleLookup)

		// Notifications.
		r.Get("/notifications", h.handleNotificationsDrain)
	})

	return r
}
