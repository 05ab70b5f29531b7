package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
	maxErrorBody   = 4 * 1024
)

// apiClient is the one HTTP helper all provider calls go through. It
// applies the configured retry count with exponential backoff and surfaces
// failures as *APIError carrying status and body.
type apiClient struct {
	hc         *http.Client
	maxRetries int
	provider   Kind
	log        *logging.Logger
}

// doJSON issues one JSON request. body may be nil; out may be nil for
// responses whose payload the caller discards.
func (c *apiClient) doJSON(ctx context.Context, method, url string, header http.Header, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.provider, err)
		}
		payload = raw
	}

	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: request canceled: %w", c.provider, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := c.once(ctx, method, url, header, payload, out)
		if err == nil {
			if attempt > 0 {
				c.log.Info(ctx, "provider call recovered after retries",
					zap.String("url", url),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		c.log.Warn(ctx, "retrying provider call after transient error",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.maxRetries+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("%s call failed after %d attempts: %w", c.provider, c.maxRetries+1, lastErr)
}

func (c *apiClient) once(ctx context.Context, method, url string, header http.Header, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.provider, err)
	}
	return nil
}

// transportError marks network-level failures, which are always retryable.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	if _, ok := err.(*transportError); ok {
		return true
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}
