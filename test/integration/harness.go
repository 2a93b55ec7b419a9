// Package integration provides a reusable test harness for end-to-end
// testing of the Verdict BFF server. It starts a full HTTP server with a
// mock HR backend, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/verdictlabs/verdict/internal/approval"
	"github.com/verdictlabs/verdict/internal/attachment"
	"github.com/verdictlabs/verdict/internal/backend"
	"github.com/verdictlabs/verdict/internal/config"
	"github.com/verdictlabs/verdict/internal/notify"
	"github.com/verdictlabs/verdict/internal/observability"
	"github.com/verdictlabs/verdict/internal/refdata"
	"github.com/verdictlabs/verdict/internal/session"
	"github.com/verdictlabs/verdict/internal/transport"
)

// hrCoreServiceID is the service ID the built-in approval domains route to.
const hrCoreServiceID = "hr-core"

// TestHarness encapsulates a fully wired BFF instance with a mock HR
// backend for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Engine           *approval.Engine
	ApprovalStore    *approval.MemoryStore
	IdempotencyStore *approval.MemoryIdempotencyStore
	Sessions         *session.Registry
	Notifier         *notify.Notifier
	Uploads          *attachment.LocalStore

	backends map[string]*MockBackend
	cfg      *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	searchDebounce time.Duration
	serviceTimeout time.Duration
	retryAttempts  int
	breakerFailures int
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithSearchDebounce overrides the worklist search debounce delay.
func WithSearchDebounce(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.searchDebounce = d
	}
}

// WithServiceTimeout sets the per-request timeout for backend calls.
func WithServiceTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.serviceTimeout = d
	}
}

// WithRetryAttempts sets the backend retry budget.
func WithRetryAttempts(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.retryAttempts = n
	}
}

// WithBreakerFailureThreshold sets how many backend failures open the
// circuit breaker.
func WithBreakerFailureThreshold(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.breakerFailures = n
	}
}

// NewTestHarness creates and starts a full BFF test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:  10 * time.Second,
		searchDebounce:  25 * time.Millisecond,
		serviceTimeout:  5 * time.Second,
		retryAttempts:   1,
		breakerFailures: 100,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:        t,
		backends: make(map[string]*MockBackend),
	}

	// The mock backend starts first so its URL can be written into the
	// spec the index loads.
	mb := newMockBackend(t, hrCoreServiceID, hrCoreRoutes())
	h.backends[hrCoreServiceID] = mb

	specPath := filepath.Join(testdataDir(), "hr-core.yaml")
	data, err := os.ReadFile(specPath)
	if err != nil {
		t.Fatalf("read spec %s: %v", specPath, err)
	}
	specContent := strings.ReplaceAll(string(data), "https://hr-core.internal", mb.URL())

	tmpPath := filepath.Join(t.TempDir(), "hr-core.yaml")
	if err := os.WriteFile(tmpPath, []byte(specContent), 0644); err != nil {
		t.Fatalf("write temp spec: %v", err)
	}

	index := backend.NewIndex()
	if err := index.Load([]backend.SpecSource{{
		ServiceID: hrCoreServiceID,
		BaseURL:   mb.URL(),
		SpecPath:  tmpPath,
	}}); err != nil {
		t.Fatalf("load backend spec: %v", err)
	}

	serviceConfigs := map[string]config.ServiceConfig{
		hrCoreServiceID: {
			BaseURL: mb.URL(),
			Timeout: hc.serviceTimeout,
			CircuitBreaker: config.CircuitBreakerConfig{
				FailureThreshold: hc.breakerFailures,
				SuccessThreshold: 1,
				Timeout:          time.Second,
			},
			Retry: config.RetryConfig{
				MaxAttempts:    hc.retryAttempts,
				BackoffInitial: time.Millisecond,
				BackoffMax:     10 * time.Millisecond,
			},
		},
	}
	backendClient := backend.NewClient(index, serviceConfigs)

	h.ApprovalStore = approval.NewMemoryStore()
	h.IdempotencyStore = approval.NewMemoryIdempotencyStore()
	h.Engine = approval.NewEngine(h.ApprovalStore,
		approval.WithIdempotencyStore(h.IdempotencyStore))

	refStore := refdata.NewMemoryStore()
	lookups := refdata.NewLookupCache(refStore, 5*time.Minute, 1000)
	refService := refdata.NewService(refStore, lookups)

	h.Sessions = session.NewRegistry(session.Options{
		TTL:           time.Minute,
		SweepInterval: time.Minute,
		MaxPerSubject: 8,
	})
	t.Cleanup(h.Sessions.Close)

	h.Notifier = notify.NewNotifier(100)
	h.Uploads = attachment.NewLocalStore()
	resolver := attachment.NewResolver(h.Uploads, backendClient, 10<<20)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		JWKSURL:    h.issuer.JWKSURL(),
		Algorithms: []string{"RS256"},
	}
	h.cfg.Services = serviceConfigs
	h.cfg.Worklist.SearchDebounce = hc.searchDebounce
	h.cfg.Observability.Metrics.Enabled = false

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, zap.NewNop())

	router := transport.NewRouter(transport.Dependencies{
		Config: h.cfg,
		Ready: observability.ReadinessChecks{
			BackendIndexLoaded: func() bool {
				return len(index.AllOperationIDs(hrCoreServiceID)) > 0
			},
		},
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Engine:       h.Engine,
		Backend:      backendClient,
		Attachments:  resolver,
		Uploads:      h.Uploads,
		RefData:      refService,
		Lookups:      lookups,
		Sessions:     h.Sessions,
		Notifier:     h.Notifier,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// MockBackend returns the mock backend for the given service ID.
func (h *TestHarness) MockBackend(serviceID string) *MockBackend {
	mb, ok := h.backends[serviceID]
	if !ok {
		h.t.Fatalf("mock backend %q not configured", serviceID)
	}
	return mb
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, nil)
}

// PUTWithHeaders performs an authenticated PUT request with additional headers.
func (h *TestHarness) PUTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, headers)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// CreateSession creates a UI session for the token's subject and returns
// its id.
func (h *TestHarness) CreateSession(t *testing.T, token string) string {
	t.Helper()
	resp := h.POST("/sessions", nil, token)
	var body struct {
		ID string `json:"id"`
	}
	h.AssertJSON(t, resp, http.StatusCreated, &body)
	if body.ID == "" {
		t.Fatal("session create returned no id")
	}
	return body.ID
}

// SubmitItem creates a pending approval item in the given domain and
// returns its id.
func (h *TestHarness) SubmitItem(t *testing.T, token, domainID string, details map[string]any) string {
	t.Helper()
	if details == nil {
		details = map[string]any{"employeeName": "Budi Santoso"}
	}
	resp := h.POST("/domains/"+domainID+"/items", map[string]any{
		"form_details": details,
	}, token)
	var item struct {
		ID string `json:"id"`
	}
	h.AssertJSON(t, resp, http.StatusCreated, &item)
	if item.ID == "" {
		t.Fatal("item submit returned no id")
	}
	return item.ID
}

// --- Default test claims ---

// HRApproverClaims returns TestClaims for an hr-approver user.
func HRApproverClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-hr-approver",
		TenantID:  "tenant-a",
		Email:     "siti.rahayu@example.com",
		Name:      "Siti Rahayu",
		Roles:     []string{"hr-approver"},
	}
}

// PDPApproverClaims returns TestClaims for a pdp-approver user.
func PDPApproverClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-pdp-approver",
		TenantID:  "tenant-a",
		Email:     "agus.wijaya@example.com",
		Name:      "Agus Wijaya",
		Roles:     []string{"pdp-approver"},
	}
}

// EmployeeClaims returns TestClaims for a user with no approver roles.
func EmployeeClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-employee",
		TenantID:  "tenant-a",
		Email:     "dewi.lestari@example.com",
		Name:      "Dewi Lestari",
		Roles:     []string{"employee"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// SubmissionFixture returns a map representing a typical MRF submission
// payload for mock detail responses.
func SubmissionFixture(id string) map[string]any {
	return map[string]any{
		"id":           id,
		"employeeName": "Budi Santoso",
		"position":     "Senior Analyst",
		"department":   "Finance",
		"salary":       12500000,
		"submittedAt":  "2026-08-01T09:30:00Z",
	}
}
