// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage calls the reasoning collaborator for each workflow stage and
// turns its free text into typed results. Malformed output is retried once
// with a correction hint and then replaced by a safe fallback; transient
// failures back off exponentially and are fatal once the attempts run out.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Kind names the stage a request is for.
type Kind string

const (
	KindPlan     Kind = "plan"
	KindAnalyze  Kind = "analyze"
	KindCritique Kind = "critique"
	KindSection  Kind = "report_section"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 90 * time.Second

	// parseAttempts is the first try plus one retry with a correction hint.
	parseAttempts = 2
)

// ErrCollaboratorUnavailable reports that the collaborator kept failing
// until the transient retry budget ran out.
var ErrCollaboratorUnavailable = errors.New("reasoning collaborator unavailable")

// backoffBase is the default base duration for exponential backoff.
var backoffBase = time.Second

// Request is one call to the collaborator. Input is the stage's structured
// payload; CorrectionHint is set when the previous response was unusable.
type Request struct {
	Kind           Kind            `json:"kind" yaml:"kind"`
	Input          json.RawMessage `json:"input" yaml:"input"`
	CorrectionHint string          `json:"correction_hint,omitempty" yaml:"correction_hint,omitempty"`
	Attempt        int             `json:"attempt" yaml:"attempt"`
}

// Collaborator produces the raw response text for a request. It is stateless
// per call: everything it needs is in the request.
type Collaborator interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Outcome describes how a stage call went.
type Outcome struct {
	// Calls counts every request sent, including transient retries.
	Calls int `json:"calls" yaml:"calls"`

	// Malformed counts responses that failed to parse or validate.
	Malformed int `json:"malformed" yaml:"malformed"`

	// Fallback is set when the stage default replaced the collaborator's output.
	Fallback bool `json:"fallback" yaml:"fallback"`

	// LastError is the parse or validation error of the last malformed response.
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Invoker sends stage requests to a collaborator.
type Invoker struct {
	collab   Collaborator
	attempts int
	timeout  time.Duration
	backoff  time.Duration
	logger   *zap.Logger
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the logger used for retries and fallbacks.
func WithLogger(l *zap.Logger) Option {
	return func(inv *Invoker) {
		if l != nil {
			inv.logger = l
		}
	}
}

// WithBackoff sets the base delay between transient retries.
func WithBackoff(base time.Duration) Option {
	return func(inv *Invoker) {
		if base > 0 {
			inv.backoff = base
		}
	}
}

// New creates an Invoker. Zero values in cfg take the defaults: three
// attempts per request and a 90 second per-call timeout.
func New(collab Collaborator, cfg types.StageConfig, opts ...Option) *Invoker {
	inv := &Invoker{
		collab:   collab,
		attempts: cfg.MaxAttempts,
		timeout:  cfg.Timeout,
		backoff:  backoffBase,
		logger:   zap.NewNop(),
	}
	if inv.attempts <= 0 {
		inv.attempts = defaultAttempts
	}
	if inv.timeout <= 0 {
		inv.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// invoke runs the parse-retry loop for one stage call. When both responses
// are malformed it sets Outcome.Fallback and returns a nil error; the caller
// then substitutes the stage fallback.
func invoke[T any](ctx context.Context, inv *Invoker, kind Kind, input any, validate func(*T) error) (T, Outcome, error) {
	var zero T
	var out Outcome

	payload, err := json.Marshal(input)
	if err != nil {
		return zero, out, fmt.Errorf("encoding %s input: %w", kind, err)
	}
	req := Request{Kind: kind, Input: payload}

	for i := 0; i < parseAttempts; i++ {
		req.Attempt = i + 1
		text, calls, err := inv.call(ctx, req)
		out.Calls += calls
		if err != nil {
			return zero, out, err
		}

		var v T
		perr := decode(text, &v)
		if perr == nil {
			perr = validate(&v)
		}
		if perr == nil {
			return v, out, nil
		}

		out.Malformed++
		out.LastError = perr.Error()
		inv.logger.Warn("malformed stage output",
			zap.String("kind", string(kind)),
			zap.Int("attempt", req.Attempt),
			zap.Error(perr))
		req.CorrectionHint = correctionHint(kind, perr)
	}

	out.Fallback = true
	inv.logger.Warn("using stage fallback", zap.String("kind", string(kind)))
	return zero, out, nil
}

// call sends req with exponential backoff on transient failures. Each
// attempt carries its own timeout; a timeout counts as a transient failure.
func (inv *Invoker) call(ctx context.Context, req Request) (string, int, error) {
	var lastErr error
	calls := 0
	for attempt := 0; attempt < inv.attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * inv.backoff
			select {
			case <-ctx.Done():
				return "", calls, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return "", calls, err
		}

		callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
		text, err := inv.collab.Complete(callCtx, req)
		cancel()
		calls++
		if err == nil {
			return text, calls, nil
		}
		if ctx.Err() != nil {
			return "", calls, ctx.Err()
		}
		lastErr = err
		inv.logger.Debug("collaborator call failed",
			zap.String("kind", string(req.Kind)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", calls, fmt.Errorf("%w: %s after %d attempts: %w", ErrCollaboratorUnavailable, req.Kind, inv.attempts, lastErr)
}

func correctionHint(kind Kind, err error) string {
	return fmt.Sprintf("the previous %s response was rejected (%v); reply with a single JSON object that follows the schema exactly", kind, err)
}
