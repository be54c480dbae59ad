package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/codegen"
	"github.com/sells-group/formflow/internal/config"
	"github.com/sells-group/formflow/internal/document"
	"github.com/sells-group/formflow/internal/extractor"
	"github.com/sells-group/formflow/internal/oracle"
	"github.com/sells-group/formflow/internal/resilience"
	"github.com/sells-group/formflow/internal/runtime"
	"github.com/sells-group/formflow/internal/store"
	"github.com/sells-group/formflow/internal/workflow"
	"github.com/sells-group/formflow/pkg/anthropic"
	"github.com/sells-group/formflow/pkg/notion"
)

// appEnv holds the services shared by the plan, extract, and serve commands.
type appEnv struct {
	Store     store.Store
	Machine   *workflow.Machine
	Runner    *runtime.Runner
	Notion    notion.Client
	Documents *document.Loader
	Breakers  *resilience.ServiceBreakers
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store == nil {
		return
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initStore opens the configured store backend. It does not migrate.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// policies builds one resilience policy per remote service, sharing a
// breaker registry so repeated failures trip per service. The registry is
// returned for health reporting.
func policies(c *config.Config) (func(service string) resilience.Policy, *resilience.ServiceBreakers) {
	retry := resilience.FromRetryConfig(
		c.Retry.MaxAttempts,
		c.Retry.InitialBackoffMs,
		c.Retry.MaxBackoffMs,
		c.Retry.Multiplier,
		c.Retry.JitterFraction,
	)
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		c.Circuit.FailureThreshold,
		c.Circuit.ResetTimeoutSecs,
	))
	return func(service string) resilience.Policy {
		return resilience.Policy{Service: service, Retry: retry, Breaker: breakers.Get(service)}
	}, breakers
}

// newMachine wires the workflow machine to an oracle and the plan generator.
func newMachine(o workflow.Oracle, st store.Store) *workflow.Machine {
	return workflow.NewMachine(o, codegen.New(cfg.Workflow.OutputDir), st, workflow.Config{
		MaxAttempts: cfg.Workflow.MaxAttempts,
		HumanReview: cfg.Workflow.HumanReview,
	})
}

// newRunner wires the staged runtime to a unit extractor.
func newRunner(x runtime.UnitExtractor) *runtime.Runner {
	return runtime.New(x, runtime.Config{
		MaxConcurrency: cfg.Runtime.MaxConcurrency,
		UnitTimeout:    time.Duration(cfg.Runtime.UnitTimeoutSecs) * time.Second,
	})
}

// initEnv validates the configuration for mode and builds every service
// that mode needs.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	policy, breakers := policies(cfg)
	env := &appEnv{Store: st, Breakers: breakers}

	pdf, err := document.NewTextExtractor(cfg.Document, policy("mistral"))
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Documents = document.NewLoader(pdf)

	if cfg.Anthropic.Key != "" {
		client := anthropic.NewClient(cfg.Anthropic.Key)

		env.Machine = newMachine(oracle.New(client, oracle.Config{
			Model:     cfg.Anthropic.DecomposeModel,
			MaxTokens: cfg.Anthropic.MaxTokens,
		}, policy("anthropic")), st)

		env.Runner = newRunner(extractor.New(client, extractor.Config{
			Model:             cfg.Anthropic.ExtractModel,
			MaxTokens:         cfg.Anthropic.ExtractMaxTokens,
			RequestsPerSecond: cfg.Runtime.RequestsPerSecond,
			PrimeCache:        cfg.Runtime.PrimeCache,
		}, policy("anthropic")))
	} else {
		zap.L().Warn("anthropic.key not set: decomposition and extraction are disabled")
	}

	if cfg.Notion.Token != "" {
		env.Notion = notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RequestsPerSecond))
	}

	return env, nil
}
