package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/journal"
	"github.com/TheMichaelB/obseal/internal/models"
)

// APIError is a non-retryable error response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// APIClient talks to a running `obseal serve`.
type APIClient struct {
	client  *http.Client
	baseURL string
	logger  *events.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewAPIClient creates a client for the daemon at baseURL.
func NewAPIClient(baseURL string, timeout time.Duration, maxRetries int, logger *events.Logger) *APIClient {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &APIClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		retryDelay: 500 * time.Millisecond,
		logger:     logger.WithField("component", "api_client"),
	}
}

// Submit posts a job and returns its id.
func (c *APIClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var ack SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", body, http.StatusAccepted, &ack); err != nil {
		return "", err
	}
	return ack.ID, nil
}

// Get fetches one job record from the daemon's journal.
func (c *APIClient) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var rec models.JobRecord
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, http.StatusOK, &rec)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List fetches recent job records.
func (c *APIClient) List(ctx context.Context, opts journal.ListOptions) ([]*models.JobRecord, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Direction != "" {
		q.Set("direction", string(opts.Direction))
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}

	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var recs []*models.JobRecord
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body []byte, want int, out interface{}) error {
	target := c.baseURL + path

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    target,
		"size":   len(body),
	}).Debug("Sending request")

	var respBody []byte
	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return &permanentError{fmt.Errorf("create request: %w", err)}
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if isRetryable(resp.StatusCode) {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode != want {
			return &permanentError{decodeAPIError(resp.StatusCode, respBody)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &APIError{StatusCode: status, Message: payload.Error}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// permanentError stops the retry loop.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retry executes fn with exponential backoff.
func (c *APIClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
