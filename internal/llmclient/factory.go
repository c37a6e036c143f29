// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
)

// NewClient builds a TierRouter whose fast and powerful tiers are the models
// named by DefaultFastModel and DefaultPowerfulModel. Tiers that name the same
// model share one client. Untiered requests go to the powerful model.
func NewClient(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (*TierRouter, error) {
	routerCfg := cfg.LLM
	built := make(map[string]schemas.LLMClient, 2)
	routes := make(map[schemas.ModelTier]Route, 2)

	for _, tier := range []struct {
		tier  schemas.ModelTier
		alias string
	}{
		{schemas.TierFast, routerCfg.DefaultFastModel},
		{schemas.TierPowerful, routerCfg.DefaultPowerfulModel},
	} {
		c, ok := built[tier.alias]
		if !ok {
			modelCfg, defined := routerCfg.Models[tier.alias]
			if !defined {
				closeAll(built)
				return nil, fmt.Errorf("%s tier: model %q is not defined in agent.llm.models", tier.tier, tier.alias)
			}
			var err error
			if c, err = NewProviderClient(ctx, modelCfg, logger); err != nil {
				closeAll(built)
				return nil, fmt.Errorf("%s tier: failed to initialize model %q: %w", tier.tier, tier.alias, err)
			}
			built[tier.alias] = c
		}
		routes[tier.tier] = Route{Model: tier.alias, Client: c}
	}
	return NewTierRouter(logger, routes, schemas.TierPowerful)
}

func closeAll(clients map[string]schemas.LLMClient) {
	for _, c := range clients {
		_ = c.Close()
	}
}

// NewProviderClient creates the client for a single model configuration.
func NewProviderClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI)
	}
}
