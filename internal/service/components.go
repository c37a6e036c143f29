// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/agent"
	"github.com/xkilldash9x/webprobe/internal/browser"
	"github.com/xkilldash9x/webprobe/internal/config"
	"github.com/xkilldash9x/webprobe/internal/observability"
	"github.com/xkilldash9x/webprobe/internal/reporting"
	"github.com/xkilldash9x/webprobe/internal/store"
)

const browserShutdownTimeout = 30 * time.Second

// Components holds everything a command needs to run sessions and owns their lifecycle.
type Components struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Browsers *browser.Manager
	LLM      schemas.LLMClient
	Gateway  *agent.Gateway
	Agent    *agent.Agent
	Writer   *reporting.Writer
	Store    *store.Store
	DBPool   *pgxpool.Pool

	Runner *Runner
}

// Shutdown releases components in reverse dependency order. It is safe on a
// partially built Components.
func (c *Components) Shutdown() {
	logger := c.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Browsers != nil {
		// The caller's context may already be canceled; browsers still need closing.
		ctx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
		defer cancel()
		if err := c.Browsers.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Debug("All components shut down.")
}
