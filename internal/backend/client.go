package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/verdictlabs/verdict/internal/config"
	"github.com/verdictlabs/verdict/internal/observability"
	"github.com/verdictlabs/verdict/model"
)

// serviceClient holds the HTTP client, circuit breaker, and retry config
// for a single backend service.
type serviceClient struct {
	id      string
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// Client fetches approval form payloads and attachment streams from the
// HR systems of record, resolving operations through the OpenAPI index.
type Client struct {
	index   *Index
	clients map[string]*serviceClient
	metrics *observability.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMetrics enables per-request, retry, and breaker-state metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a backend client with per-service HTTP clients,
// circuit breakers, and retry policies.
func NewClient(idx *Index, services map[string]config.ServiceConfig, opts ...ClientOption) *Client {
	clients := make(map[string]*serviceClient, len(services))
	for id, svcCfg := range services {
		timeout := svcCfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		cbCfg := svcCfg.CircuitBreaker
		clients[id] = &serviceClient{
			id:  id,
			cfg: svcCfg,
			client: &http.Client{
				Timeout:   timeout,
				Transport: transport,
			},
			breaker: NewCircuitBreaker(
				cbCfg.FailureThreshold,
				cbCfg.SuccessThreshold,
				cbCfg.Timeout,
			),
		}
	}
	c := &Client{
		index:   idx,
		clients: clients,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDetail retrieves the raw form payload for an item from its domain's
// system of record and normalizes it to the canonical detail shape.
func (c *Client) FetchDetail(
	ctx context.Context,
	rctx *model.RequestContext,
	domain model.ApprovalDomain,
	itemID string,
) (map[string]any, error) {
	op, svc, err := c.resolve(domain, domain.DetailOperationID)
	if err != nil {
		return nil, err
	}

	reqURL := buildRequestURL(op, map[string]string{"id": itemID}, nil)
	body, _, err := c.executeWithRetry(ctx, rctx, svc, op, reqURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, 10<<20))
	if err != nil {
		svc.breaker.RecordFailure()
		return nil, fmt.Errorf("backend: read detail response: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("backend: decode detail response: %w", err)
	}

	return NormalizeDetail(domain.Shape, payload)
}

// AttachmentStream is an open attachment download. The caller owns the
// body and must close it exactly once.
type AttachmentStream struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// FetchAttachment opens a streaming download of an item attachment. The
// returned stream's body must be closed by the caller.
func (c *Client) FetchAttachment(
	ctx context.Context,
	rctx *model.RequestContext,
	domain model.ApprovalDomain,
	itemID, attachmentID string,
) (*AttachmentStream, error) {
	op, svc, err := c.resolve(domain, domain.AttachmentOperationID)
	if err != nil {
		return nil, err
	}

	reqURL := buildRequestURL(op, map[string]string{
		"id":           itemID,
		"attachmentId": attachmentID,
	}, nil)

	body, resp, err := c.executeWithRetry(ctx, rctx, svc, op, reqURL)
	if err != nil {
		return nil, err
	}

	return &AttachmentStream{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

func (c *Client) resolve(domain model.ApprovalDomain, operationID string) (Operation, *serviceClient, error) {
	op, ok := c.index.GetOperation(domain.ServiceID, operationID)
	if !ok {
		return Operation{}, nil, fmt.Errorf(
			"backend: operation %s/%s not found in OpenAPI index",
			domain.ServiceID, operationID,
		)
	}
	svc, ok := c.clients[domain.ServiceID]
	if !ok {
		return Operation{}, nil, fmt.Errorf("backend: service %q not configured", domain.ServiceID)
	}
	return op, svc, nil
}

// executeWithRetry performs the request with exponential backoff. Only
// idempotent methods are ever retried. On success the response body is
// returned open; the caller owns it.
func (c *Client) executeWithRetry(
	ctx context.Context,
	rctx *model.RequestContext,
	svc *serviceClient,
	op Operation,
	reqURL string,
) (io.ReadCloser, *http.Response, error) {
	retryCfg := svc.cfg.Retry
	maxAttempts := retryCfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if !isIdempotentMethod(op.Method) {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.observeRetry(svc)
			delay := calculateBackoff(retryCfg, attempt)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		resp, err := c.executeOnce(ctx, rctx, svc, op.Method, reqURL)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.observeRequest(svc, op, status, time.Since(start))
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return nil, nil, err
			}
			slog.Debug("backend: retrying after error",
				"attempt", attempt+1,
				"max", maxAttempts,
				"error", err,
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts-1 {
			resp.Body.Close()
			lastErr = fmt.Errorf("backend: status %d from %s", resp.StatusCode, reqURL)
			slog.Debug("backend: retrying after status",
				"attempt", attempt+1,
				"max", maxAttempts,
				"status", resp.StatusCode,
			)
			continue
		}

		if err := checkResponseStatus(resp); err != nil {
			resp.Body.Close()
			return nil, nil, err
		}

		return resp.Body, resp, nil
	}

	return nil, nil, lastErr
}

// observeRequest records one backend attempt together with the breaker
// state it left behind. A status of 0 marks a request that never got a
// response.
func (c *Client) observeRequest(svc *serviceClient, op Operation, status int, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordBackendRequest(svc.id, op.OperationID, status, d)
	c.metrics.SetBackendCircuitBreakerState(svc.id, breakerGaugeValue(svc.breaker.State()))
}

func (c *Client) observeRetry(svc *serviceClient) {
	if c.metrics != nil {
		c.metrics.RecordBackendRetry(svc.id)
	}
}

func breakerGaugeValue(s BreakerState) float64 {
	switch s {
	case BreakerOpen:
		return 2
	case BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}

// executeOnce performs a single HTTP request with circuit breaker
// protection. The response body is left open for the caller.
func (c *Client) executeOnce(
	ctx context.Context,
	rctx *model.RequestContext,
	svc *serviceClient,
	method, reqURL string,
) (*http.Response, error) {
	if err := svc.breaker.Allow(); err != nil {
		return nil, model.NewBackendUnavailableError()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header = buildRequestHeaders(rctx)

	resp, err := svc.client.Do(req)
	if err != nil {
		svc.breaker.RecordFailure()
		if isConnectionError(err) {
			return nil, model.NewBackendUnavailableError()
		}
		if ctx.Err() != nil {
			return nil, model.NewBackendTimeoutError()
		}
		return nil, fmt.Errorf("backend: request failed: %w", err)
	}

	// 4xx are not infrastructure failures.
	if isServerError(resp.StatusCode) {
		svc.breaker.RecordFailure()
	} else if !isClientError(resp.StatusCode) {
		svc.breaker.RecordSuccess()
	}

	return resp, nil
}

// checkResponseStatus maps non-2xx backend responses to service errors.
func checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return model.NewNotFoundError("backend resource not found")
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return model.NewForbiddenError("backend refused the request")
	case resp.StatusCode == http.StatusGatewayTimeout:
		return model.NewBackendTimeoutError()
	case isServerError(resp.StatusCode):
		return model.NewBackendUnavailableError()
	default:
		return model.NewBadRequestError(fmt.Sprintf("backend returned status %d", resp.StatusCode))
	}
}

// --- URL and header building ---

func buildRequestURL(op Operation, pathParams, queryParams map[string]string) string {
	path := op.PathTemplate
	for name, value := range pathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(value))
	}

	result := op.BaseURL + path
	if len(queryParams) > 0 {
		params := url.Values{}
		for k, v := range queryParams {
			params.Set(k, v)
		}
		result += "?" + params.Encode()
	}
	return result
}

func buildRequestHeaders(rctx *model.RequestContext) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")

	if rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		h.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		h.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
	}

	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header
// injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isServerError(code int) bool {
	return code >= 500
}

func isClientError(code int) bool {
	return code >= 400 && code < 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Circuit breaker and mapped backend errors are not retryable.
	if _, ok := err.(*model.ErrorEnvelope); ok {
		return false
	}
	return true
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	// A peer that drops the connection mid-exchange surfaces as EOF rather
	// than a net error.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return false
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
