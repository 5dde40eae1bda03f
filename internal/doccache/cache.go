// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package doccache is the process-wide, content-addressed document cache.
// Entries are keyed by the normalized source reference. Concurrent requests
// for the same key share a single fetch; ready content is immutable and
// persisted so later runs resolve it without external work.
package doccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/acquire"
	"github.com/pdiddy/deep-research/internal/kvstore"
	"github.com/pdiddy/deep-research/pkg/types"
)

// storeNamespace is the kvstore namespace for ready entries.
const storeNamespace = "documents"

// defaultFetchTimeout applies when the configuration leaves FetchTimeout unset.
const defaultFetchTimeout = 2 * time.Minute

var (
	// ErrFetchFailed wraps the recorded error of a failed entry.
	ErrFetchFailed = errors.New("document unavailable")

	// ErrPending is returned by Invalidate while a fetch is in flight.
	ErrPending = errors.New("document fetch in progress")
)

// Extractor fetches a document and returns its extracted text. The cache
// calls it at most once per key until the key is invalidated.
type Extractor interface {
	Extract(ctx context.Context, sourceRef string) (string, error)
}

// Stats counts cache activity since the cache was created.
type Stats struct {
	Hits       int64 `json:"hits" yaml:"hits"`
	Misses     int64 `json:"misses" yaml:"misses"`
	Waits      int64 `json:"waits" yaml:"waits"`
	Fetches    int64 `json:"fetches" yaml:"fetches"`
	StoreLoads int64 `json:"store_loads" yaml:"store_loads"`
	Failures   int64 `json:"failures" yaml:"failures"`
}

// slot holds one key's entry. done is closed once the entry leaves the
// pending state; entry must not be read before then.
type slot struct {
	done  chan struct{}
	entry types.CacheEntry
}

// Cache is safe for concurrent use by any number of sessions.
type Cache struct {
	extractor Extractor
	store     kvstore.Store
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
	wg    sync.WaitGroup

	hits, misses, waits, fetches, loads, failures atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache that fetches through extractor and persists ready
// entries in store. A nil store keeps entries in memory only.
func New(extractor Extractor, store kvstore.Store, cfg types.CacheConfig, opts ...Option) *Cache {
	c := &Cache{
		extractor: extractor,
		store:     store,
		timeout:   cfg.FetchTimeout,
		logger:    zap.NewNop(),
		now:       time.Now,
		slots:     make(map[string]*slot),
	}
	if c.timeout <= 0 {
		c.timeout = defaultFetchTimeout
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Acquire returns the entry for sourceRef, fetching it if no entry exists.
// A ready or failed entry is returned without external work. A pending
// entry is awaited. When the caller's context ends first, Acquire returns
// the pending entry and the context error; the fetch keeps running and its
// outcome is recorded for later callers.
//
// A failed entry is returned together with an error wrapping ErrFetchFailed.
func (c *Cache) Acquire(ctx context.Context, sourceRef string) (types.CacheEntry, error) {
	key, err := acquire.Normalize(sourceRef)
	if err != nil {
		return types.CacheEntry{SourceRef: sourceRef, State: types.CacheFailed, Error: err.Error()}, err
	}

	c.mu.Lock()
	s, ok := c.slots[key]
	switch {
	case ok && isDone(s):
		c.mu.Unlock()
		c.hits.Add(1)
		return outcome(s.entry)
	case ok:
		c.waits.Add(1)
	default:
		now := c.now()
		s = &slot{
			done: make(chan struct{}),
			entry: types.CacheEntry{
				Key:       key,
				SourceRef: sourceRef,
				State:     types.CachePending,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		c.slots[key] = s
		c.misses.Add(1)
		c.wg.Add(1)
		go c.fill(context.WithoutCancel(ctx), s, key, sourceRef, now)
	}
	c.mu.Unlock()

	select {
	case <-s.done:
		return outcome(s.entry)
	case <-ctx.Done():
		return types.CacheEntry{Key: key, SourceRef: sourceRef, State: types.CachePending}, ctx.Err()
	}
}

// fill resolves a pending slot from the persistent store or the extractor.
// It runs detached from the requesting caller with its own timeout, so the
// slot always reaches a terminal state.
func (c *Cache) fill(parent context.Context, s *slot, key, sourceRef string, created time.Time) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	entry := types.CacheEntry{Key: key, SourceRef: sourceRef, CreatedAt: created}

	if stored, ok := c.load(ctx, key); ok {
		c.loads.Add(1)
		c.finish(s, stored)
		return
	}

	c.fetches.Add(1)
	log := c.logger.With(zap.String("key", key), zap.String("source_ref", sourceRef))
	log.Debug("fetching document")

	text, err := c.extractor.Extract(ctx, sourceRef)
	entry.UpdatedAt = c.now()
	if err != nil {
		c.failures.Add(1)
		entry.State = types.CacheFailed
		entry.Error = err.Error()
		log.Warn("document fetch failed", zap.Error(err))
		c.finish(s, entry)
		return
	}

	entry.State = types.CacheReady
	entry.Content = text
	c.persist(ctx, entry)
	log.Info("document cached", zap.Int("bytes", len(text)))
	c.finish(s, entry)
}

func (c *Cache) finish(s *slot, entry types.CacheEntry) {
	c.mu.Lock()
	s.entry = entry
	close(s.done)
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, key string) (types.CacheEntry, bool) {
	if c.store == nil {
		return types.CacheEntry{}, false
	}
	data, ok, err := c.store.Get(ctx, storeNamespace, key)
	if err != nil {
		c.logger.Warn("reading cached document", zap.String("key", key), zap.Error(err))
		return types.CacheEntry{}, false
	}
	if !ok {
		return types.CacheEntry{}, false
	}
	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.State != types.CacheReady {
		c.logger.Warn("ignoring unreadable cached document", zap.String("key", key), zap.Error(err))
		return types.CacheEntry{}, false
	}
	return entry, true
}

// persist writes a ready entry. A store error leaves the entry usable in
// memory for this process.
func (c *Cache) persist(ctx context.Context, entry types.CacheEntry) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err == nil {
		err = c.store.Put(ctx, storeNamespace, entry.Key, data)
	}
	if err != nil {
		c.logger.Warn("persisting cached document", zap.String("key", entry.Key), zap.Error(err))
	}
}

// Invalidate forgets the entry for sourceRef, in memory and in the store,
// so the next Acquire fetches again. It is the only way a failed entry is
// retried. Invalidating an in-flight fetch returns ErrPending.
func (c *Cache) Invalidate(ctx context.Context, sourceRef string) error {
	key, err := acquire.Normalize(sourceRef)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if s, ok := c.slots[key]; ok {
		if !isDone(s) {
			c.mu.Unlock()
			return fmt.Errorf("%s: %w", key, ErrPending)
		}
		delete(c.slots, key)
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, storeNamespace, key); err != nil {
			return err
		}
	}
	return nil
}

// AcquirePaper acquires the paper's document and records the outcome on the
// paper: CacheKey is set and Status moves from processing to available or
// unavailable. Document unavailability is not an error. An error is
// returned only when ctx ends before the outcome is known; the paper is
// then left in the found state.
func (c *Cache) AcquirePaper(ctx context.Context, p *types.Paper) (types.CacheEntry, error) {
	ref := p.SourceRef
	if ref == "" {
		ref = p.NormalizedID
	}
	p.Status = types.PaperProcessing

	entry, err := c.Acquire(ctx, ref)
	if entry.Key != "" {
		p.CacheKey = entry.Key
	}
	switch {
	case entry.State == types.CacheReady:
		p.Status = types.PaperAvailable
		p.UnavailableReason = ""
		return entry, nil
	case entry.State == types.CachePending:
		p.Status = types.PaperFound
		return entry, err
	default:
		p.Status = types.PaperUnavailable
		p.UnavailableReason = entry.Error
		return entry, nil
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Waits:      c.waits.Load(),
		Fetches:    c.fetches.Load(),
		StoreLoads: c.loads.Load(),
		Failures:   c.failures.Load(),
	}
}

// Wait blocks until every in-flight fetch has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func isDone(s *slot) bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func outcome(e types.CacheEntry) (types.CacheEntry, error) {
	if e.State == types.CacheFailed {
		return e, fmt.Errorf("%s: %w: %s", e.Key, ErrFetchFailed, e.Error)
	}
	return e, nil
}
