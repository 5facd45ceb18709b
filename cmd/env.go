package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/facturio/factura-cli/internal/agent"
	"github.com/facturio/factura-cli/internal/ai"
	"github.com/facturio/factura-cli/internal/ocr"
	"github.com/facturio/factura-cli/internal/pipeline"
	"github.com/facturio/factura-cli/internal/resilience"
	"github.com/facturio/factura-cli/internal/store"
)

// appEnv holds the initialized store and pipeline shared by the commands.
type appEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the configuration for the given mode, opens and migrates
// the store and assembles the pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	orchestrator := ai.New(cfg.AI, st)
	loader := agent.NewLoader(cfg.Agent.Dirs...)
	extractor := ocr.NewExtractor(cfg.OCR)

	return &appEnv{
		Store:    st,
		Pipeline: pipeline.New(st, orchestrator, loader, extractor),
	}, nil
}

// openStore opens the configured database backend. The Postgres connection
// is retried with backoff so the command survives a database that is still
// starting up.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 5
		retryCfg.OnRetry = resilience.RetryLogger("store", "connect")
		return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		})
	default:
		return store.NewSQLite(cfg.Store.DatabaseURL)
	}
}
