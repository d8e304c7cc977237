// Package tfs provides functionality for interacting with the TFS / Azure DevOps work item REST API.
package tfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/danielolaszy/qadash/internal/config"
	"github.com/danielolaszy/qadash/internal/logging"
	"github.com/danielolaszy/qadash/pkg/models"
)

const (
	apiVersion          = "6.0"
	defaultTimeout      = 60 * time.Second
	defaultRetryBackoff = 500 * time.Millisecond
	// maxAttempts allows a single retry of transient failures.
	maxAttempts = 2
)

// Client encapsulates access to the TFS work item API for one project.
type Client struct {
	baseURL          string
	project          string
	pat              string
	http             *http.Client
	logger           *slog.Logger
	timeout          time.Duration
	retryBackoff     time.Duration
	batchConcurrency int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request and warning logs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetryBackoff sets the wait before retrying a transient failure.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Client) { c.retryBackoff = d }
}

// NewClient creates a TFS API client from configuration. When cfg.Token is set
// requests carry an OAuth bearer token, otherwise the PAT is sent as basic auth.
func NewClient(cfg config.TFSConfig, opts ...Option) (*Client, error) {
	if err := config.ValidateTFSConfig(&config.Config{TFS: cfg}); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	c := &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		project:          cfg.Project,
		timeout:          timeout,
		retryBackoff:     defaultRetryBackoff,
		batchConcurrency: concurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger)

	if c.http == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		}
		c.http = &http.Client{Transport: transport}
	}

	if cfg.Token != "" {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		hc := *c.http
		hc.Transport = &oauth2.Transport{Source: ts, Base: base}
		c.http = &hc
	} else {
		c.pat = cfg.PAT
	}

	authMode := "pat"
	secret := cfg.PAT
	if cfg.Token != "" {
		authMode = "oauth"
		secret = cfg.Token
	}
	c.logger.Debug("tfs configuration",
		"base_url", c.baseURL,
		"project", c.project,
		"auth", authMode,
		"credential", logging.MaskSensitive(secret),
		"timeout", c.timeout)

	return c, nil
}

// Project returns the project the client is bound to.
func (c *Client) Project() string {
	return c.project
}

// QueryWorkItems runs a WIQL query and returns the matching work item references.
func (c *Client) QueryWorkItems(ctx context.Context, wiql string) ([]models.WorkItemReference, error) {
	return c.QueryWorkItemsTop(ctx, wiql, 0)
}

// QueryWorkItemsTop runs a WIQL query returning at most top references; top <= 0 means no limit.
func (c *Client) QueryWorkItemsTop(ctx context.Context, wiql string, top int) ([]models.WorkItemReference, error) {
	if strings.TrimSpace(wiql) == "" {
		return nil, ErrEmptyQuery
	}
	params := url.Values{}
	params.Set("api-version", apiVersion)
	if top > 0 {
		params.Set("$top", strconv.Itoa(top))
	}
	body, err := json.Marshal(wiqlRequest{Query: wiql})
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(ctx, "wiql", http.MethodPost, c.projectPath("_apis/wit/wiql"), params, body)
	if err != nil {
		return nil, err
	}
	var resp wiqlResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &Error{Kind: KindDecode, Op: "wiql", Message: "invalid response body", Err: err}
	}

	c.logger.Debug("wiql query complete", "result_count", len(resp.WorkItems))
	return resp.WorkItems, nil
}

// GetWorkItem fetches a single work item with its relations expanded.
func (c *Client) GetWorkItem(ctx context.Context, id int) (models.WorkItem, error) {
	params := url.Values{}
	params.Set("api-version", apiVersion)
	params.Set("$expand", "Relations")

	path := c.projectPath(fmt.Sprintf("_apis/wit/workitems/%d", id))
	respBody, err := c.do(ctx, "get work item", http.MethodGet, path, params, nil)
	if err != nil {
		return models.WorkItem{}, err
	}
	var raw rawWorkItem
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return models.WorkItem{}, &Error{Kind: KindDecode, Op: "get work item", Message: "invalid response body", Err: err}
	}
	return raw.toModel(), nil
}

// getBatch fetches a single chunk of work items.
func (c *Client) getBatch(ctx context.Context, ids []int, expandRelations bool) ([]models.WorkItem, error) {
	params := url.Values{}
	params.Set("api-version", apiVersion)

	payload := batchRequest{IDs: ids, ErrorPolicy: "Omit"}
	if expandRelations {
		payload.Expand = "Relations"
	} else {
		payload.Fields = defaultFields
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(ctx, "work items batch", http.MethodPost, c.projectPath("_apis/wit/workitemsbatch"), params, body)
	if err != nil {
		return nil, err
	}

	var raws []*rawWorkItem
	if err := json.Unmarshal(respBody, &raws); err != nil {
		var wrapped batchResponse
		if wrapErr := json.Unmarshal(respBody, &wrapped); wrapErr != nil {
			return nil, &Error{Kind: KindDecode, Op: "work items batch", Message: "invalid response body", Err: wrapErr}
		}
		raws = wrapped.Value
	}

	items := make([]models.WorkItem, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		items = append(items, raw.toModel())
	}
	return items, nil
}

func (c *Client) projectPath(path string) string {
	return url.PathEscape(c.project) + "/" + path
}

// do issues a request, retrying a transient failure once.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body []byte) ([]byte, error) {
	fullURL := joinURL(c.baseURL, path)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		respBody, wait, err := c.attempt(ctx, op, method, fullURL, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("tfs %s: %w", op, ctx.Err())
		}
		if !IsTransient(err) || attempt == maxAttempts {
			break
		}

		if wait == 0 {
			wait = c.retryBackoff
		}
		c.logger.Warn("retrying tfs request",
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("tfs %s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// attempt performs one request bounded by the per-call timeout. The returned
// duration is the server's Retry-After hint, if any.
func (c *Client) attempt(ctx context.Context, op, method, fullURL string, body []byte) ([]byte, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, fullURL, body)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransient, Op: op, Message: "request failed", Err: err}
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	c.logger.Debug("tfs request",
		"method", method,
		"url", fullURL,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if readErr != nil {
		return nil, 0, &Error{Kind: KindTransient, Op: op, StatusCode: resp.StatusCode, Message: "reading response failed", Err: readErr}
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return respBody, 0, nil
	}

	return nil, retryAfter(resp.Header.Get("Retry-After"), c.timeout), &Error{
		Kind:       kindForStatus(resp.StatusCode),
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    upstreamMessage(respBody),
		Body:       truncateBody(respBody),
	}
}

func (c *Client) newRequest(ctx context.Context, method, fullURL string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.pat != "" {
		req.Header.Set("Authorization", "Basic "+basicAuthToken(c.pat))
	}
	return req, nil
}

func basicAuthToken(pat string) string {
	return base64.StdEncoding.EncodeToString([]byte(":" + pat))
}

// retryAfter parses a Retry-After seconds value, capped at limit.
func retryAfter(value string, limit time.Duration) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	if limit > 0 && time.Duration(seconds) > limit/time.Second {
		return limit
	}
	return time.Duration(seconds) * time.Second
}

// upstreamMessage extracts the "message" field TFS puts in error bodies.
func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return "request failed"
}

func truncateBody(body []byte) string {
	const limit = 2048
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
