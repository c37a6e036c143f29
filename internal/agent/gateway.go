// internal/agent/gateway.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/config"
	"github.com/xkilldash9x/webprobe/internal/llmutil"
	"github.com/xkilldash9x/webprobe/internal/observability"
)

// DecisionInput is everything the oracle sees for one decision.
type DecisionInput struct {
	Snapshot  *schemas.PageSnapshot
	Goal      string
	History   []schemas.ActionRecord
	Unvisited []string
	Step      int
	MaxSteps  int
}

// Oracle proposes the next Decision. Implementations never fail; they degrade
// to an analyze decision instead.
type Oracle interface {
	Decide(ctx context.Context, in DecisionInput) schemas.Decision
}

// Gateway is the Oracle backed by an LLM.
type Gateway struct {
	client  schemas.LLMClient
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ Oracle = (*Gateway)(nil)

// NewGateway creates a gateway. A non-positive rate limit disables limiting.
func NewGateway(client schemas.LLMClient, cfg config.AgentConfig, logger *zap.Logger, metrics *observability.Metrics) *Gateway {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.OracleTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		logger:  logger.Named("gateway"),
		metrics: metrics,
	}
}

// Decide asks the oracle for the next action. Any failure along the way yields
// an analyze decision with low confidence.
func (g *Gateway) Decide(ctx context.Context, in DecisionInput) schemas.Decision {
	if in.Snapshot == nil {
		return schemas.AnalyzeFallback("no snapshot available")
	}
	userPrompt, err := buildDecisionPrompt(in)
	if err != nil {
		return schemas.AnalyzeFallback(err.Error())
	}

	start := time.Now()
	raw, err := g.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: decisionSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	})
	if err != nil {
		g.metrics.RecordOracleCall("transport_failure", time.Since(start))
		g.logger.Warn("Oracle call failed, falling back to analyze.", zap.Error(err))
		return schemas.AnalyzeFallback("oracle unavailable: " + err.Error())
	}

	decision, err := ParseDecision(raw)
	if err != nil {
		g.metrics.RecordOracleCall("parse_failure", time.Since(start))
		g.logger.Warn("Oracle reply rejected, falling back to analyze.",
			zap.Error(err), zap.String("raw_response", llmutil.Truncate(raw, 500)))
		return schemas.AnalyzeFallback(err.Error())
	}
	g.metrics.RecordOracleCall("ok", time.Since(start))
	return decision
}

// Summarize turns the failed actions of a session into free-text
// recommendations. Callers treat errors as "no recommendations".
func (g *Gateway) Summarize(ctx context.Context, goal string, failures []schemas.ActionRecord) (string, error) {
	if len(failures) == 0 {
		return "", nil
	}
	userPrompt, err := buildSummaryPrompt(goal, failures)
	if err != nil {
		return "", err
	}
	out, err := g.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.3},
	})
	if err != nil {
		return "", fmt.Errorf("summary generation failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *Gateway) generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.client.Generate(callCtx, req)
}

// wireDecision is the JSON shape the oracle replies with.
type wireDecision struct {
	Reasoning     string                 `json:"reasoning"`
	Action        string                 `json:"action"`
	TargetText    string                 `json:"target_text"`
	TargetHref    string                 `json:"target_href"`
	TargetElement string                 `json:"target_element"`
	URL           string                 `json:"url"`
	FillData      map[string]interface{} `json:"fill_data"`
	NextSteps     interface{}            `json:"next_steps"`
	Confidence    string                 `json:"confidence"`
}

var errEmptyReply = errors.New("empty reply")

// ParseDecision validates a raw oracle reply into a Decision. Errors are *OracleParseError.
func ParseDecision(raw string) (schemas.Decision, error) {
	if strings.TrimSpace(raw) == "" {
		return schemas.Decision{}, &OracleParseError{Raw: raw, Err: errEmptyReply}
	}
	w, err := llmutil.ParseJSONResponse[wireDecision](raw)
	if err != nil {
		return schemas.Decision{}, &OracleParseError{Raw: raw, Err: err}
	}

	kind := schemas.DecisionKind(strings.ToLower(strings.TrimSpace(w.Action)))
	confidence := schemas.ParseConfidence(w.Confidence)
	reasoning := strings.TrimSpace(w.Reasoning)

	var d schemas.Decision
	switch kind {
	case schemas.KindNavigate:
		target := strings.TrimSpace(w.TargetHref)
		if target == "" {
			target = strings.TrimSpace(w.URL)
		}
		d = schemas.NewNavigateDecision(target, reasoning, confidence)
	case schemas.KindClick:
		d = schemas.NewClickDecision(schemas.ClickPayload{
			TargetText:    strings.TrimSpace(w.TargetText),
			TargetHref:    strings.TrimSpace(w.TargetHref),
			TargetElement: strings.TrimSpace(w.TargetElement),
		}, reasoning, confidence)
	case schemas.KindFill:
		d = schemas.NewFillDecision(stringifyFields(w.FillData), reasoning, confidence)
	default:
		d = schemas.Decision{Kind: kind, Reasoning: reasoning, Confidence: confidence}
	}
	d.NextSteps = normalizeNextSteps(w.NextSteps)

	if err := d.Validate(); err != nil {
		return schemas.Decision{}, &OracleParseError{Raw: raw, Err: err}
	}
	return d, nil
}

func stringifyFields(in map[string]interface{}) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		if key == "" || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case float64:
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
	return out
}

// normalizeNextSteps accepts a string or a list of strings.
func normalizeNextSteps(v interface{}) []string {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
