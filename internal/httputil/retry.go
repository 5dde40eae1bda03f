// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by discovery backends and the
// document fetcher.
package httputil

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// retryable responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

const defaultMaxRetries = 3

// Retryable reports whether an HTTP status is worth retrying: rate limiting
// and upstream gateway failures.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// DoWithRetry executes an HTTP request and retries on retryable statuses
// (429, 502, 503, 504) and on transport errors, with exponential backoff
// starting at RetryBaseDelay and doubling each attempt.
//
// When maxRetries is 0 the default (3) is used. The body of a retried
// response is drained and closed before sleeping. If the context is done
// during a backoff wait the function returns ctx.Err(). After exhausting
// retries the last retryable response is returned so the caller can
// inspect it; a final transport error is returned as-is.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil || attempt >= maxRetries || !transient(err) {
				return nil, err
			}
		} else {
			if !Retryable(resp.StatusCode) || attempt >= maxRetries {
				return resp, nil
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// transient reports whether a transport error may succeed on retry.
// Context errors are never retried.
func transient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
