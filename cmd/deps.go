package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/mirkored-07/tenderpilot/internal/cost"
	"github.com/mirkored-07/tenderpilot/internal/evidence"
	"github.com/mirkored-07/tenderpilot/internal/pipeline"
	"github.com/mirkored-07/tenderpilot/internal/store"
	"github.com/mirkored-07/tenderpilot/pkg/anthropic"
	"github.com/mirkored-07/tenderpilot/pkg/docstruct"
	"github.com/mirkored-07/tenderpilot/pkg/objstore"
)

// openStore creates the configured store backend. sqlite is the local
// development driver; anything else means postgres.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver == "sqlite" {
		path := cfg.Store.DatabaseURL
		if path == "" {
			path = "tenderpilot.db"
		}
		return store.NewSQLite(path)
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// buildRunner wires the pipeline runner and returns it with a cleanup func.
func buildRunner(ctx context.Context, s store.Store) (*pipeline.Runner, func(), error) {
	cleanup := func() {}

	var downloader objstore.Downloader
	if !cfg.Pipeline.MockExtraction {
		if cfg.ObjStore.Bucket == "" {
			return nil, cleanup, eris.New("objstore.bucket is required unless pipeline.mock_extraction is set")
		}
		gcs, err := objstore.NewGCS(ctx, cfg.ObjStore.Bucket, cfg.ObjStore.CredentialsFile)
		if err != nil {
			return nil, cleanup, err
		}
		downloader = gcs
		cleanup = func() { _ = gcs.Close() }
	}

	doc := docstruct.NewClient(cfg.DocStruct.Key,
		docstruct.WithBaseURL(cfg.DocStruct.BaseURL),
		docstruct.WithPollRate(cfg.DocStruct.PollRatePerMin),
	)

	var llm anthropic.Client
	if !cfg.Pipeline.MockAI {
		if cfg.Anthropic.Key == "" {
			return nil, cleanup, eris.New("anthropic.key is required unless pipeline.mock_ai is set")
		}
		llm = anthropic.NewClient(cfg.Anthropic.Key)
	}

	runner := pipeline.NewRunner(
		s,
		downloader,
		doc,
		llm,
		cost.NewGuard(cfg.Pricing, cfg.Pipeline),
		evidence.NewBuilder(cfg.Evidence),
		cfg.Pipeline,
		cfg.Anthropic.Model,
	)
	return runner, cleanup, nil
}
