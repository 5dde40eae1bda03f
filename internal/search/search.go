// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search discovers candidate papers for a sub-topic. It fans a query
// out to academic APIs concurrently, merges and deduplicates the results by
// normalized identifier, and refines the query until the candidate count
// falls inside configured bounds.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/pkg/types"
)

// Default aggregator settings, applied when the configuration leaves a
// value unset. MaxRefinements has no default here: zero means the initial
// query is the only attempt.
const (
	defaultMaxResults     = 25
	defaultLowerBound     = 5
	defaultUpperBound     = 50
	defaultTopN           = 8
	defaultQueryTimeout   = 30 * time.Second
)

// Backend searches a single academic API. Results are ordered by the
// backend's own relevance ranking.
type Backend interface {
	Name() string
	Search(ctx context.Context, query Query, limit int) ([]types.SearchResult, error)
}

// Query holds the search parameters sent to every backend.
type Query struct {
	FreeText string
	Author   string
	Keywords []string
	DateFrom time.Time
	DateTo   time.Time
}

// IsEmpty reports whether the query contains no searchable terms.
func (q Query) IsEmpty() bool {
	return q.FreeText == "" && q.Author == "" && len(q.Keywords) == 0
}

// String renders the query in a stable, human-readable form. It is the
// form recorded in attempted-query traces.
func (q Query) String() string {
	var parts []string
	if q.FreeText != "" {
		parts = append(parts, q.FreeText)
	}
	for _, kw := range q.Keywords {
		if strings.ContainsAny(kw, " \t") {
			kw = `"` + kw + `"`
		}
		parts = append(parts, kw)
	}
	if q.Author != "" {
		parts = append(parts, "author:"+q.Author)
	}
	if !q.DateFrom.IsZero() {
		parts = append(parts, "since:"+q.DateFrom.Format(dateFmt))
	}
	if !q.DateTo.IsZero() {
		parts = append(parts, "until:"+q.DateTo.Format(dateFmt))
	}
	return strings.Join(parts, " ")
}

// NewBackends returns the backends enabled in cfg, in a fixed order.
func NewBackends(client *http.Client, cfg types.SearchConfig) []Backend {
	var backends []Backend
	if cfg.EnableArxiv {
		backends = append(backends, &ArxivBackend{Client: client, UserAgent: cfg.UserAgent})
	}
	if cfg.EnableSemanticScholar {
		backends = append(backends, &SemanticScholarBackend{Client: client, UserAgent: cfg.UserAgent, APIKey: cfg.SemanticScholarAPIKey})
	}
	if cfg.EnableOpenAlex {
		backends = append(backends, &OpenAlexBackend{Client: client, UserAgent: cfg.UserAgent, Email: cfg.OpenAlexEmail})
	}
	if cfg.EnablePubMed {
		backends = append(backends, &PubMedBackend{Client: client, UserAgent: cfg.UserAgent, APIKey: cfg.NCBIAPIKey})
	}
	return backends
}

// Aggregator runs discovery for sub-topics. It is safe for concurrent use.
type Aggregator struct {
	backends []Backend
	cfg      types.SearchConfig
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the aggregator logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source used for recency ranking and date
// filters.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over backends.
func NewAggregator(backends []Backend, cfg types.SearchConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		backends: backends,
		cfg:      withDefaults(cfg),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func withDefaults(cfg types.SearchConfig) types.SearchConfig {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.LowerBound <= 0 {
		cfg.LowerBound = defaultLowerBound
	}
	if cfg.UpperBound <= 0 {
		cfg.UpperBound = defaultUpperBound
	}
	if cfg.UpperBound < cfg.LowerBound {
		cfg.UpperBound = cfg.LowerBound
	}
	if cfg.MaxRefinements < 0 {
		cfg.MaxRefinements = 0
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return cfg
}

// attempt is one issued query and its merged candidates.
type attempt struct {
	query      Query
	candidates []types.SearchResult
}

// Discover searches for one sub-topic and returns the ranked top papers. The
// query is refined while the merged candidate count is outside the
// configured bounds, up to the refinement cap; the attempt closest to the
// bounds is then accepted. No candidates is an explicit empty result, not an
// error. Discover fails only when ctx ends or no backend is configured.
func (a *Aggregator) Discover(ctx context.Context, st types.SubTopic) (types.Discovery, error) {
	if len(a.backends) == 0 {
		return types.Discovery{}, errors.New("no search backends configured")
	}

	r := newRefiner(st, a.now(), a.cfg.RecencyBiasWindow)
	q := r.initial()
	if q.IsEmpty() {
		return types.Discovery{}, fmt.Errorf("sub-topic %s has no keywords or description to search", st.ID)
	}

	d := types.Discovery{SubTopicID: st.ID}
	log := a.logger.With(zap.String("sub_topic", st.ID))
	var attempts []attempt
	seenErr := make(map[string]bool)

	for {
		candidates, errs := a.fanOut(ctx, q)
		if err := ctx.Err(); err != nil {
			return d, err
		}
		candidates = dropAvoided(candidates, st.SearchGuidance.Avoid)
		for _, e := range errs {
			if !seenErr[e] {
				seenErr[e] = true
				d.BackendErrors = append(d.BackendErrors, e)
			}
		}
		attempts = append(attempts, attempt{query: q, candidates: candidates})
		d.AttemptedQueries = append(d.AttemptedQueries, q.String())

		n := len(candidates)
		log.Debug("search attempt", zap.String("query", q.String()), zap.Int("candidates", n))
		if a.within(n) || len(attempts) > a.cfg.MaxRefinements {
			break
		}

		var next Query
		var ok bool
		if n > a.cfg.UpperBound {
			next, ok = r.narrow()
		} else {
			next, ok = r.broaden()
		}
		if !ok {
			log.Debug("no further query variants")
			break
		}
		q = next
	}

	best := a.closest(attempts)
	d.Refinements = len(attempts) - 1
	d.CandidateCount = len(best.candidates)
	d.WithinBounds = a.within(d.CandidateCount)
	d.Papers = toPapers(rank(best.candidates, a.now(), a.cfg.RecencyBiasWindow, a.cfg.TopN))
	d.Empty = len(d.Papers) == 0

	log.Info("discovery complete",
		zap.Int("papers", len(d.Papers)),
		zap.Int("candidates", d.CandidateCount),
		zap.Int("refinements", d.Refinements),
		zap.Bool("within_bounds", d.WithinBounds))
	return d, nil
}

// Search issues a single query without refinement and returns the merged,
// ranked candidates. It backs the interactive search command.
func (a *Aggregator) Search(ctx context.Context, q Query) ([]types.SearchResult, []string, error) {
	if q.IsEmpty() {
		return nil, nil, errors.New("query is empty: provide a research question or keywords")
	}
	if len(a.backends) == 0 {
		return nil, nil, errors.New("no search backends configured")
	}
	candidates, errs := a.fanOut(ctx, q)
	if err := ctx.Err(); err != nil {
		return nil, errs, err
	}
	return rank(candidates, a.now(), a.cfg.RecencyBiasWindow, a.cfg.MaxResults), errs, nil
}

func (a *Aggregator) within(n int) bool {
	return n >= a.cfg.LowerBound && n <= a.cfg.UpperBound
}

// closest returns the first attempt with the smallest distance to the
// candidate bounds.
func (a *Aggregator) closest(attempts []attempt) attempt {
	distance := func(n int) int {
		switch {
		case n < a.cfg.LowerBound:
			return a.cfg.LowerBound - n
		case n > a.cfg.UpperBound:
			return n - a.cfg.UpperBound
		default:
			return 0
		}
	}
	best := attempts[0]
	for _, at := range attempts[1:] {
		if distance(len(at.candidates)) < distance(len(best.candidates)) {
			best = at
		}
	}
	return best
}

// fanOut queries every backend concurrently, each under its own timeout, and
// merges what succeeds. Failed backends are reported, not fatal.
func (a *Aggregator) fanOut(ctx context.Context, q Query) ([]types.SearchResult, []string) {
	var (
		mu   sync.Mutex
		all  = make([][]types.SearchResult, len(a.backends))
		errs []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range a.backends {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, a.cfg.QueryTimeout)
			defer cancel()

			results, err := b.Search(qctx, q, a.cfg.MaxResults)
			if err != nil {
				a.logger.Warn("search backend failed", zap.String("backend", b.Name()), zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", b.Name(), err))
				mu.Unlock()
				return nil
			}
			all[i] = results
			return nil
		})
	}
	_ = g.Wait()

	// Merge in backend order so the outcome does not depend on scheduling.
	var merged []types.SearchResult
	for _, rs := range all {
		merged = append(merged, rs...)
	}
	sort.Strings(errs)
	return deduplicate(merged), errs
}
