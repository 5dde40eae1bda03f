// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package doccache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pdiddy/deep-research/internal/kvstore"
	"github.com/pdiddy/deep-research/pkg/types"
)

// stubExtractor counts calls and optionally blocks until released.
type stubExtractor struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	text    string
	err     error
}

func newStub(text string) *stubExtractor {
	return &stubExtractor{text: text}
}

func (s *stubExtractor) Extract(ctx context.Context, _ string) (string, error) {
	s.calls.Add(1)
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func TestAcquireConcurrentSingleFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("document body")
	ext.release = make(chan struct{})
	c := New(ext, kvstore.NewMemoryStore(), types.CacheConfig{})

	const callers = 16
	refs := []string{"2301.07041", "arXiv:2301.07041v2", "https://arxiv.org/abs/2301.07041?utm_source=x"}

	var wg sync.WaitGroup
	results := make([]types.CacheEntry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Acquire(context.Background(), refs[i%len(refs)])
		}(i)
	}

	// Let every caller register before the fetch completes.
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Misses+s.Waits == callers
	}, time.Second, time.Millisecond)
	close(ext.release)
	wg.Wait()

	assert.Equal(t, int32(1), ext.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, types.CacheReady, results[i].State)
		assert.Equal(t, "arxiv:2301.07041", results[i].Key)
		assert.Equal(t, "document body", results[i].Content)
	}
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(callers-1), stats.Waits)
	assert.Equal(t, int64(1), stats.Fetches)
}

func TestAcquireHitDoesNoExternalWork(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("text")
	c := New(ext, nil, types.CacheConfig{})

	_, err := c.Acquire(context.Background(), "10.1145/ABC")
	require.NoError(t, err)
	entry, err := c.Acquire(context.Background(), "doi:10.1145/abc")
	require.NoError(t, err)

	assert.Equal(t, "doi:10.1145/abc", entry.Key)
	assert.Equal(t, int32(1), ext.calls.Load())
	assert.Equal(t, int64(1), c.Stats().Hits)
}

// Two sessions request the same paper; the second one's request arrives
// while the first fetch is pending and both observe the same ready entry.
func TestAcquireSecondSessionWaitsForPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("shared")
	ext.release = make(chan struct{})
	ext.started = make(chan struct{}, 1)
	c := New(ext, nil, types.CacheConfig{})

	first := make(chan types.CacheEntry, 1)
	go func() {
		e, _ := c.Acquire(context.Background(), "pmid:12345")
		first <- e
	}()
	<-ext.started

	second := make(chan types.CacheEntry, 1)
	go func() {
		e, _ := c.Acquire(context.Background(), "https://pubmed.ncbi.nlm.nih.gov/12345/")
		second <- e
	}()
	require.Eventually(t, func() bool { return c.Stats().Waits == 1 }, time.Second, time.Millisecond)
	close(ext.release)

	a, b := <-first, <-second
	assert.Equal(t, a, b)
	assert.Equal(t, types.CacheReady, a.State)
	assert.Equal(t, int32(1), ext.calls.Load())
}

func TestAcquireWaiterCancelledFetchContinues(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("late")
	ext.release = make(chan struct{})
	ext.started = make(chan struct{}, 1)
	c := New(ext, nil, types.CacheConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var entry types.CacheEntry
	var err error
	go func() {
		defer close(done)
		entry, err = c.Acquire(ctx, "2301.07041")
	}()
	<-ext.started
	cancel()
	<-done

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.CachePending, entry.State)

	close(ext.release)
	c.Wait()

	got, err := c.Acquire(context.Background(), "2301.07041")
	require.NoError(t, err)
	assert.Equal(t, types.CacheReady, got.State)
	assert.Equal(t, "late", got.Content)
	assert.Equal(t, int32(1), ext.calls.Load())
}

func TestAcquireFailedEntryNotRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("")
	ext.err = errors.New("HTTP 404")
	c := New(ext, kvstore.NewMemoryStore(), types.CacheConfig{})

	entry, err := c.Acquire(context.Background(), "2301.07041")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, types.CacheFailed, entry.State)
	assert.Equal(t, "HTTP 404", entry.Error)

	_, err = c.Acquire(context.Background(), "2301.07041")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, int32(1), ext.calls.Load())
	assert.Equal(t, int64(1), c.Stats().Failures)

	// Invalidation is the retry path.
	ext.err = nil
	ext.text = "recovered"
	require.NoError(t, c.Invalidate(context.Background(), "arxiv:2301.07041"))
	entry, err = c.Acquire(context.Background(), "2301.07041")
	require.NoError(t, err)
	assert.Equal(t, "recovered", entry.Content)
	assert.Equal(t, int32(2), ext.calls.Load())
}

func TestInvalidatePendingRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("x")
	ext.release = make(chan struct{})
	ext.started = make(chan struct{}, 1)
	c := New(ext, nil, types.CacheConfig{})

	go func() { _, _ = c.Acquire(context.Background(), "2301.07041") }()
	<-ext.started

	assert.ErrorIs(t, c.Invalidate(context.Background(), "2301.07041"), ErrPending)
	close(ext.release)
	c.Wait()
}

func TestAcquireFetchTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("never")
	ext.release = make(chan struct{})
	c := New(ext, nil, types.CacheConfig{FetchTimeout: 10 * time.Millisecond})

	entry, err := c.Acquire(context.Background(), "2301.07041")
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, types.CacheFailed, entry.State)
	assert.Contains(t, entry.Error, "deadline exceeded")
}

func TestAcquireLoadsPersistedEntry(t *testing.T) {
	defer goleak.VerifyNone(t)

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	store, err := kvstore.OpenSQLite(dbPath)
	require.NoError(t, err)

	first := New(newStub("persisted text"), store, types.CacheConfig{})
	_, err = first.Acquire(context.Background(), "10.1000/xyz")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = kvstore.OpenSQLite(dbPath)
	require.NoError(t, err)
	defer store.Close()

	ext := newStub("should not be fetched")
	second := New(ext, store, types.CacheConfig{})
	entry, err := second.Acquire(context.Background(), "https://doi.org/10.1000/XYZ")
	require.NoError(t, err)

	assert.Equal(t, "persisted text", entry.Content)
	assert.Zero(t, ext.calls.Load())
	assert.Equal(t, int64(1), second.Stats().StoreLoads)
}

func TestAcquireFailedEntryNotPersisted(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := kvstore.NewMemoryStore()
	ext := newStub("")
	ext.err = errors.New("boom")
	c := New(ext, store, types.CacheConfig{})
	_, _ = c.Acquire(context.Background(), "2301.07041")

	keys, err := store.List(context.Background(), storeNamespace, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAcquirePaper(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name       string
		paper      types.Paper
		err        error
		wantStatus types.PaperStatus
		wantKey    string
		wantReason string
	}{
		{
			name:       "available",
			paper:      types.Paper{SourceRef: "arXiv:2301.07041v1", Status: types.PaperFound},
			wantStatus: types.PaperAvailable,
			wantKey:    "arxiv:2301.07041",
		},
		{
			name:       "fetch failure marks unavailable",
			paper:      types.Paper{SourceRef: "10.1000/gone", Status: types.PaperFound},
			err:        errors.New("HTTP 403"),
			wantStatus: types.PaperUnavailable,
			wantKey:    "doi:10.1000/gone",
			wantReason: "HTTP 403",
		},
		{
			name:       "unknown reference marks unavailable",
			paper:      types.Paper{SourceRef: "no idea", Status: types.PaperFound},
			wantStatus: types.PaperUnavailable,
			wantReason: "unrecognized source reference",
		},
		{
			name:       "falls back to normalized id",
			paper:      types.Paper{NormalizedID: "pmid:42", Status: types.PaperFound},
			wantStatus: types.PaperAvailable,
			wantKey:    "pmid:42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := newStub("content")
			ext.err = tt.err
			c := New(ext, nil, types.CacheConfig{})

			p := tt.paper
			_, err := c.AcquirePaper(context.Background(), &p)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantKey, p.CacheKey)
			assert.Contains(t, p.UnavailableReason, tt.wantReason)
		})
	}
}

func TestAcquirePaperCancelledLeavesFound(t *testing.T) {
	defer goleak.VerifyNone(t)

	ext := newStub("x")
	ext.release = make(chan struct{})
	c := New(ext, nil, types.CacheConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := types.Paper{SourceRef: "2301.07041", Status: types.PaperFound}
	_, err := c.AcquirePaper(ctx, &p)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.PaperFound, p.Status)
	close(ext.release)
	c.Wait()
}
