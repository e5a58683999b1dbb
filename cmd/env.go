package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/collect"
	"github.com/sells-group/opportunity-cli/internal/generate"
	"github.com/sells-group/opportunity-cli/internal/orchestrator"
	"github.com/sells-group/opportunity-cli/internal/store"
	"github.com/sells-group/opportunity-cli/pkg/anthropic"
	"github.com/sells-group/opportunity-cli/pkg/jina"
)

// appEnv holds the store and the orchestrator built over it.
type appEnv struct {
	Store store.Store
	Orch  *orchestrator.Orchestrator
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "opportunity.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// orchestratorOptions wires the optional collaborators whose credentials are
// configured.
func orchestratorOptions() []orchestrator.Option {
	opts := []orchestrator.Option{orchestrator.WithRetry(cfg.Retry)}

	if cfg.Jina.Key != "" {
		jc := newJinaClient()
		opts = append(opts,
			orchestrator.WithEvidenceSource(collect.NewJinaSource(jc, cfg.Collect)),
			orchestrator.WithDiscoverer(collect.NewDiscoverer(jc, cfg.Collect.Breaker)),
		)
	} else {
		zap.L().Debug("OPPORTUNITY_JINA_KEY not set, analysis uses stored evidence only")
	}

	if cfg.Anthropic.Key != "" {
		opts = append(opts, orchestrator.WithGenerator(generate.New(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic)))
	} else {
		zap.L().Debug("OPPORTUNITY_ANTHROPIC_KEY not set, opportunity generation disabled")
	}
	return opts
}

func newJinaClient() jina.Client {
	opts := []jina.Option{jina.WithRetry(cfg.Retry)}
	if cfg.Jina.BaseURL != "" {
		opts = append(opts, jina.WithBaseURL(cfg.Jina.BaseURL))
	}
	if cfg.Jina.SearchBaseURL != "" {
		opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	return jina.NewClient(cfg.Jina.Key, opts...)
}

// initEnv sets up the store and orchestrator. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	return &appEnv{
		Store: st,
		Orch:  orchestrator.New(cfg.Analysis, st, orchestratorOptions()...),
	}, nil
}
