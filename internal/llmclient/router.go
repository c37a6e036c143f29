package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

// Route binds a tier to the configured model alias serving it.
type Route struct {
	Model  string
	Client schemas.LLMClient
}

// TierRouter sends each request to the model configured for its tier. A
// request without a tier goes to the fallback tier.
type TierRouter struct {
	logger   *zap.Logger
	routes   map[schemas.ModelTier]Route
	fallback schemas.ModelTier
}

var _ schemas.LLMClient = (*TierRouter)(nil)

// NewTierRouter requires a route for both tiers.
func NewTierRouter(logger *zap.Logger, routes map[schemas.ModelTier]Route, fallback schemas.ModelTier) (*TierRouter, error) {
	for _, tier := range []schemas.ModelTier{schemas.TierFast, schemas.TierPowerful} {
		if r, ok := routes[tier]; !ok || r.Client == nil {
			return nil, fmt.Errorf("no client for the %s tier", tier)
		}
	}
	if _, ok := routes[fallback]; !ok {
		return nil, fmt.Errorf("fallback tier %q has no route", fallback)
	}
	return &TierRouter{
		logger:   logger.Named("llm_router"),
		routes:   routes,
		fallback: fallback,
	}, nil
}

// Generate forwards req to its tier's client. Errors name the model that produced them.
func (r *TierRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = r.fallback
	}
	route, ok := r.routes[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	start := time.Now()
	out, err := route.Client.Generate(ctx, req)
	r.logger.Debug("Routed LLM request.",
		zap.String("tier", string(tier)),
		zap.String("model", route.Model),
		zap.Duration("took", time.Since(start)),
		zap.Bool("ok", err == nil))
	if err != nil {
		return "", fmt.Errorf("model %s: %w", route.Model, err)
	}
	return out, nil
}

// Model returns the alias serving tier, or "" when none does.
func (r *TierRouter) Model(tier schemas.ModelTier) string {
	return r.routes[tier].Model
}

// Close closes each distinct underlying client once.
func (r *TierRouter) Close() error {
	var errs []error
	seen := make(map[schemas.LLMClient]struct{}, len(r.routes))
	for _, route := range r.routes {
		if _, done := seen[route.Client]; done {
			continue
		}
		seen[route.Client] = struct{}{}
		if err := route.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", route.Model, err))
		}
	}
	return errors.Join(errs...)
}
