// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pdiddy/deep-research/pkg/types"
)

var fixedNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func testCfg() types.SearchConfig {
	return types.SearchConfig{
		HTTPConfig:            types.HTTPConfig{Timeout: 10 * time.Second, UserAgent: "test/0.1"},
		MaxResults:            100,
		LowerBound:            5,
		UpperBound:            50,
		MaxRefinements:        5,
		TopN:                  8,
		QueryTimeout:          time.Second,
		RecencyBiasWindow:     2 * 365 * 24 * time.Hour,
		EnableArxiv:           true,
		EnableSemanticScholar: true,
		EnableOpenAlex:        true,
		EnablePubMed:          true,
	}
}

func testSubTopic() types.SubTopic {
	return types.SubTopic{
		ID:                "st1",
		Description:       "Sparse attention mechanisms for long documents",
		SuggestedKeywords: []string{"sparse attention", "long context", "efficient transformers"},
		SearchGuidance:    types.SearchGuidance{MustInclude: []string{"benchmark"}},
	}
}

// funcBackend answers every query through fn and records the queries seen.
type funcBackend struct {
	name  string
	fn    func(call int, q Query) ([]types.SearchResult, error)
	calls atomic.Int32
}

func (b *funcBackend) Name() string { return b.name }

func (b *funcBackend) Search(ctx context.Context, q Query, _ int) ([]types.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call := int(b.calls.Add(1)) - 1
	return b.fn(call, q)
}

// arxivResults returns n distinct results with descending scores.
func arxivResults(prefix string, n int) []types.SearchResult {
	out := make([]types.SearchResult, n)
	for i := range n {
		id := fmt.Sprintf("%s.%05d", prefix, i)
		out[i] = types.SearchResult{
			Identifier:             id,
			Title:                  fmt.Sprintf("Paper %s", id),
			Source:                 "fake",
			PreferredAcquisitionID: id,
			RelevanceScore:         1.0 - float64(i)/float64(n+1),
		}
	}
	return out
}

func newTestAggregator(backends ...Backend) *Aggregator {
	return NewAggregator(backends, testCfg(), WithClock(func() time.Time { return fixedNow }))
}

func TestDiscoverWithinBoundsFirstAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 20), nil
	}}
	d, err := newTestAggregator(b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.Equal(t, "st1", d.SubTopicID)
	assert.Equal(t, []string{`"sparse attention" "long context"`}, d.AttemptedQueries)
	assert.Zero(t, d.Refinements)
	assert.True(t, d.WithinBounds)
	assert.Equal(t, 20, d.CandidateCount)
	assert.Len(t, d.Papers, 8)
	assert.False(t, d.Empty)
	for _, p := range d.Papers {
		assert.Equal(t, types.PaperFound, p.Status)
		assert.Equal(t, "arxiv:"+p.SourceRef, p.NormalizedID)
	}
}

func TestDiscoverNarrowsUntilWithinBounds(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(_ int, q Query) ([]types.SearchResult, error) {
		if q.DateFrom.IsZero() {
			return arxivResults("2401", 80), nil
		}
		return arxivResults("2401", 20), nil
	}}
	d, err := newTestAggregator(b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.Equal(t, []string{
		`"sparse attention" "long context"`,
		`"sparse attention" "long context" benchmark`,
		`"sparse attention" "long context" benchmark "efficient transformers"`,
		`"sparse attention" "long context" benchmark "efficient transformers" since:2024-06-01`,
	}, d.AttemptedQueries)
	assert.Equal(t, 3, d.Refinements)
	assert.True(t, d.WithinBounds)
	assert.Equal(t, 20, d.CandidateCount)
}

func TestDiscoverTightensDateFilter(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 60), nil
	}}
	d, err := newTestAggregator(b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	require.Len(t, d.AttemptedQueries, 6)
	assert.Equal(t, 5, d.Refinements)
	assert.Contains(t, d.AttemptedQueries[4], "since:2025-06-01")
	assert.Contains(t, d.AttemptedQueries[5], "since:2025-11-30")
	assert.False(t, d.WithinBounds)
	assert.Equal(t, 60, d.CandidateCount)
	assert.Len(t, d.Papers, 8)
}

func TestDiscoverBroadensUntilWithinBounds(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(_ int, q Query) ([]types.SearchResult, error) {
		if len(q.Keywords) > 1 {
			return arxivResults("2401", 3), nil
		}
		return arxivResults("2401", 10), nil
	}}
	d, err := newTestAggregator(b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.Equal(t, []string{`"sparse attention" "long context"`, `"sparse attention"`}, d.AttemptedQueries)
	assert.True(t, d.WithinBounds)
}

// A sub-topic whose searches never return anything is an explicit empty
// result after the refinement cap, not an error.
func TestDiscoverEmptyAfterRefinements(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return nil, nil
	}}
	d, err := newTestAggregator(b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.True(t, d.Empty)
	assert.Empty(t, d.Papers)
	assert.Equal(t, 5, d.Refinements)
	assert.Equal(t, []string{
		`"sparse attention" "long context"`,
		`"sparse attention"`,
		"sparse attention mechanisms long documents",
		`"long context"`,
		`"efficient transformers"`,
		"benchmark",
	}, d.AttemptedQueries)
	assert.Equal(t, int32(6), b.calls.Load())
}

func TestDiscoverStopsWhenVariantsRunOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return nil, nil
	}}
	st := types.SubTopic{ID: "solo", SuggestedKeywords: []string{"rope"}}
	d, err := newTestAggregator(b).Discover(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, []string{"rope"}, d.AttemptedQueries)
	assert.Zero(t, d.Refinements)
	assert.True(t, d.Empty)
}

func TestDiscoverZeroRefinementsIssuesOneQuery(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 100), nil
	}}
	cfg := testCfg()
	cfg.MaxRefinements = 0
	agg := NewAggregator([]Backend{b}, cfg, WithClock(func() time.Time { return fixedNow }))
	d, err := agg.Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.Len(t, d.AttemptedQueries, 1)
	assert.Zero(t, d.Refinements)
	assert.Equal(t, 100, d.CandidateCount)
	assert.Len(t, d.Papers, 8)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestDiscoverAcceptsClosestAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	counts := []int{70, 2, 56, 1, 58, 3}
	b := &funcBackend{name: "fake", fn: func(call int, _ Query) ([]types.SearchResult, error) {
		return arxivResults("2401", counts[min(call, len(counts)-1)]), nil
	}}
	d, err := newTestAggregator(b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	require.Len(t, d.AttemptedQueries, 6)
	assert.False(t, d.WithinBounds)
	assert.Equal(t, 3, d.CandidateCount)
	assert.Len(t, d.Papers, 3)
}

func TestDiscoverUsesDescriptionWithoutKeywords(t *testing.T) {
	defer goleak.VerifyNone(t)

	var first Query
	b := &funcBackend{name: "fake", fn: func(call int, q Query) ([]types.SearchResult, error) {
		if call == 0 {
			first = q
		}
		return arxivResults("2401", 10), nil
	}}
	st := types.SubTopic{ID: "d", Description: "What is the role of retrieval in long-context QA?"}
	_, err := newTestAggregator(b).Discover(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "retrieval long-context", first.FreeText)
}

func TestDiscoverRecordsBackendErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	failing := &funcBackend{name: "failing", fn: func(int, Query) ([]types.SearchResult, error) {
		return nil, errors.New("HTTP 503")
	}}
	working := &funcBackend{name: "working", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 12), nil
	}}
	d, err := newTestAggregator(failing, working).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.Equal(t, []string{"failing: HTTP 503"}, d.BackendErrors)
	assert.Equal(t, 12, d.CandidateCount)
}

func TestDiscoverDeduplicatesAcrossBackends(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := &funcBackend{name: "a", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 10), nil
	}}
	b := &funcBackend{name: "b", fn: func(int, Query) ([]types.SearchResult, error) {
		rs := arxivResults("2401", 6)
		for i := range rs {
			rs[i].Identifier = "arXiv:" + rs[i].Identifier + "v2"
			rs[i].Title = ""
			rs[i].RelevanceScore = 0.99
			rs[i].Source = "b"
		}
		return append(rs, arxivResults("2402", 4)...), nil
	}}
	d, err := newTestAggregator(a, b).Discover(context.Background(), testSubTopic())
	require.NoError(t, err)

	assert.Equal(t, 14, d.CandidateCount)
	seen := make(map[string]bool)
	for _, p := range d.Papers {
		assert.False(t, seen[p.NormalizedID], "duplicate %s", p.NormalizedID)
		seen[p.NormalizedID] = true
	}
	// The higher-scored copy wins and keeps the other copy's title.
	var merged types.Paper
	for _, p := range d.Papers {
		if p.NormalizedID == "arxiv:2401.00001" {
			merged = p
		}
	}
	assert.Equal(t, 0.99, merged.RelevanceScore)
	assert.Equal(t, "Paper 2401.00001", merged.Title)
	assert.Equal(t, "b,fake", merged.SourceDatabase)
}

func TestDiscoverDropsAvoidedTerms(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		rs := arxivResults("2401", 8)
		rs[0].Title = "A Survey of Sparse Attention"
		return rs, nil
	}}
	st := testSubTopic()
	st.SearchGuidance.Avoid = []string{"survey"}
	d, err := newTestAggregator(b).Discover(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 7, d.CandidateCount)
	for _, p := range d.Papers {
		assert.NotContains(t, p.Title, "Survey")
	}
}

func TestDiscoverCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 10), nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAggregator(b).Discover(ctx, testSubTopic())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverQueryTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testCfg()
	cfg.QueryTimeout = 20 * time.Millisecond
	agg := NewAggregator([]Backend{blockingBackend{}, &funcBackend{name: "ok", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 10), nil
	}}}, cfg)

	d, err := agg.Discover(context.Background(), testSubTopic())
	require.NoError(t, err)
	require.Len(t, d.BackendErrors, 1)
	assert.Contains(t, d.BackendErrors[0], "blocking: context deadline exceeded")
	assert.Equal(t, 10, d.CandidateCount)
}

type blockingBackend struct{}

func (blockingBackend) Name() string { return "blocking" }

func (blockingBackend) Search(ctx context.Context, _ Query, _ int) ([]types.SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDiscoverNoBackends(t *testing.T) {
	_, err := NewAggregator(nil, testCfg()).Discover(context.Background(), testSubTopic())
	assert.Error(t, err)
}

func TestAggregatorSearch(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 30), nil
	}}
	cfg := testCfg()
	cfg.MaxResults = 10
	agg := NewAggregator([]Backend{b}, cfg, WithClock(func() time.Time { return fixedNow }))

	results, errs, err := agg.Search(context.Background(), Query{FreeText: "attention"})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Len(t, results, 10)

	_, _, err = agg.Search(context.Background(), Query{})
	assert.Error(t, err)
}

func TestTraceFileRoundTrip(t *testing.T) {
	b := &funcBackend{name: "fake", fn: func(int, Query) ([]types.SearchResult, error) {
		return arxivResults("2401", 6), nil
	}}
	agg := newTestAggregator(b)
	st := testSubTopic()
	d, err := agg.Discover(context.Background(), st)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, WriteTraceFile(path, agg.NewTrace(st, d)))

	tf, err := ReadTraceFile(path)
	require.NoError(t, err)
	assert.Equal(t, st.ID, tf.SubTopic.ID)
	assert.Equal(t, []string{"fake"}, tf.Config.Backends)
	assert.Equal(t, d.AttemptedQueries, tf.Discovery.AttemptedQueries)
	assert.Len(t, tf.Discovery.Papers, 6)
	assert.True(t, fixedNow.Equal(tf.Timestamp))
}
