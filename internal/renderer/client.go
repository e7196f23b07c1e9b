// Package renderer provides the client for the slide rendering service,
// which converts an uploaded deck into one PNG per slide.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Static errors for renderer client operations.
var (
	// ErrBaseURLRequired is returned when the renderer base URL is not provided.
	ErrBaseURLRequired = errors.New("renderer: base URL is required")
	// ErrNoImagesReturned is returned when the conversion succeeds but yields no images.
	ErrNoImagesReturned = errors.New("renderer: conversion returned no images")
	// ErrServerError is returned when the renderer returns a 5xx status code.
	ErrServerError = errors.New("renderer: server error")
	// ErrRateLimited is returned when the renderer returns a 429 status code.
	ErrRateLimited = errors.New("renderer: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("renderer: request failed")
)

// Client defines the interface for the slide rendering service.
type Client interface {
	// Convert renders the deck stored at bucket/key into slide images and
	// returns the object-store keys of the rendered PNGs, in slide order.
	Convert(ctx context.Context, bucket, key string) ([]string, error)
}

// HTTPClient is the HTTP implementation of the renderer Client interface.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new renderer HTTP client. Rendering a large deck can
// take a while, so the default request timeout is generous.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		maxRetries:  3,
		baseBackoff: 2 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type convertRequest struct {
	BucketName string `json:"bucket_name"`
	ObjectName string `json:"object_name"`
}

type convertResponse struct {
	ImagePaths []string `json:"image_paths"`
	Error      string   `json:"error,omitempty"`
}

// Convert renders the deck stored at bucket/key into slide images.
func (c *HTTPClient) Convert(ctx context.Context, bucket, key string) ([]string, error) {
	bodyBytes, err := json.Marshal(convertRequest{BucketName: bucket, ObjectName: key})
	if err != nil {
		return nil, fmt.Errorf("renderer: marshal request: %w", err)
	}

	var resp convertResponse
	if err := c.doRequestWithRetry(ctx, c.baseURL+"/convert", bodyBytes, &resp); err != nil {
		return nil, err
	}

	if len(resp.ImagePaths) == 0 {
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error)
		}
		return nil, ErrNoImagesReturned
	}

	return resp.ImagePaths, nil
}

// doRequestWithRetry performs an HTTP POST with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("renderer: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("renderer: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("renderer: create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("renderer: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("renderer: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("renderer: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
