// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/browser"
	"github.com/xkilldash9x/webprobe/internal/config"
	"github.com/xkilldash9x/webprobe/internal/observability"
	"github.com/xkilldash9x/webprobe/internal/reporting"
	"github.com/xkilldash9x/webprobe/internal/snapshot"
)

const metricsNamespace = "webprobe"

// FactoryOptions selects optional parts of the component graph.
type FactoryOptions struct {
	// Oracle builds the LLM client and gateway. Crawl-only commands leave it off.
	Oracle bool
	// Store connects to store.database_url when it is set.
	Store bool
}

// ComponentFactory builds the components a command runs on. Commands depend on
// the interface so tests can substitute fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts FactoryOptions) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires the full dependency graph. A failure part way shuts down
// whatever was already built.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts FactoryOptions) (_ *Components, err error) {
	comp := &Components{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			comp.Shutdown()
		}
	}()

	// 1. Metrics
	comp.Registry = prometheus.NewRegistry()
	comp.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	comp.Metrics = observability.NewMetrics(metricsNamespace, comp.Registry)

	// 2. Browser
	comp.Browsers, err = browser.NewManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	logger.Debug("Browser manager initialized.", zap.String("driver", comp.Browsers.Driver()))

	// 3. Oracle
	var summarizer reporting.Summarizer
	if opts.Oracle {
		comp.LLM, err = InitializeLLMClient(ctx, cfg.Agent, logger)
		if err != nil {
			return nil, err
		}
		comp.Gateway = agent.NewGateway(comp.LLM, cfg.Agent, logger, comp.Metrics)
		if cfg.Report.Recommendations {
			summarizer = comp.Gateway
		}
		logger.Debug("Decision gateway initialized.")
	}

	// 4. Snapshot extraction and reporting
	budget := snapshot.NewBudget(cfg.Snapshot.TokenizerEncoding, logger)
	extractor := snapshot.NewExtractor(cfg.Snapshot, cfg.Explorer, budget, logger)
	builder := reporting.NewBuilder(nil, summarizer, logger)
	comp.Writer = reporting.NewWriter(logger)

	// 5. Agent
	deps := agent.Dependencies{
		Config:   cfg,
		Browsers: comp.Browsers,
		Capturer: extractor,
		Builder:  builder,
		Logger:   logger,
		Metrics:  comp.Metrics,
	}
	if comp.Gateway != nil {
		deps.Oracle = comp.Gateway
	}
	comp.Agent, err = agent.New(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize agent: %w", err)
	}

	// 6. Optional report store
	var reports ReportStore
	if opts.Store && cfg.Store.DatabaseURL != "" {
		comp.Store, comp.DBPool, err = InitializeStore(ctx, cfg.Store, logger)
		if err != nil {
			return nil, err
		}
		reports = comp.Store
	}

	comp.Runner = NewRunner(comp.Agent, comp.Writer, reports, logger)
	logger.Debug("Components initialized.")
	return comp, nil
}
