package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/acquire"
	"github.com/pdiddy/deep-research/internal/container"
	"github.com/pdiddy/deep-research/internal/convert"
	"github.com/pdiddy/deep-research/internal/doccache"
	"github.com/pdiddy/deep-research/internal/kvstore"
	"github.com/pdiddy/deep-research/internal/orchestrator"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/session"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// components holds the wired pipeline for one command invocation. The
// SQLite store backs both the document cache and session checkpoints.
type components struct {
	cfg    types.PipelineConfig
	kv     *kvstore.SQLiteStore
	cache  *doccache.Cache
	search *search.Aggregator
	store  *session.Store
	orch   *orchestrator.Orchestrator
}

func openStore(cfg types.CacheConfig) (*kvstore.SQLiteStore, error) {
	return kvstore.OpenSQLite(cfg.DBPath)
}

func newCache(cfg types.CacheConfig, kv kvstore.Store, logger *zap.Logger) (*doccache.Cache, error) {
	conv, err := convert.New(cfg.Converter, container.DetectRuntime)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cfg.Timeout}
	fetcher := acquire.NewFetcher(client, conv, cfg, logger.Named("fetch"))
	return doccache.New(fetcher, kv, cfg, doccache.WithLogger(logger.Named("cache"))), nil
}

func newAggregator(cfg types.SearchConfig, logger *zap.Logger) *search.Aggregator {
	client := &http.Client{Timeout: cfg.Timeout}
	return search.NewAggregator(search.NewBackends(client, cfg), cfg, search.WithLogger(logger.Named("search")))
}

// newCollaborator selects the reasoning collaborator named by cfg.Backend.
func newCollaborator(ctx context.Context, cfg types.StageConfig) (stage.Collaborator, error) {
	switch cfg.Backend {
	case "", types.StageGemini:
		return stage.NewGeminiCollaborator(ctx, cfg)
	case types.StageFixture:
		if cfg.FixturesPath == "" {
			return nil, fmt.Errorf("stage backend %q needs stage.fixtures_path", cfg.Backend)
		}
		return stage.LoadFixtures(cfg.FixturesPath)
	default:
		return nil, fmt.Errorf("unknown stage backend %q (want gemini or fixture)", cfg.Backend)
	}
}

// newComponents wires the full pipeline. Close must be called when done.
func newComponents(ctx context.Context, cfg types.PipelineConfig, logger *zap.Logger) (*components, error) {
	kv, err := openStore(cfg.Cache)
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, kv: kv}

	c.cache, err = newCache(cfg.Cache, kv, logger)
	if err != nil {
		kv.Close()
		return nil, err
	}
	c.search = newAggregator(cfg.Search, logger)
	c.store = session.New(kv, session.WithLogger(logger.Named("session")))

	collab, err := newCollaborator(ctx, cfg.Stage)
	if err != nil {
		kv.Close()
		return nil, err
	}
	inv := stage.New(collab, cfg.Stage, stage.WithLogger(logger.Named("stage")))
	c.orch = orchestrator.New(c.store, c.search, c.cache, inv, cfg.Orchestrator,
		orchestrator.WithLogger(logger.Named("orchestrator")))
	return c, nil
}

// Close waits for in-flight document fetches so their outcomes are
// persisted, then closes the database.
func (c *components) Close() error {
	if c.cache != nil {
		c.cache.Wait()
	}
	return c.kv.Close()
}
