// Package extractor runs one extraction unit against a document with the
// Anthropic Messages API.
package extractor

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/resilience"
	"github.com/sells-group/formflow/internal/runtime"
	"github.com/sells-group/formflow/pkg/anthropic"
)

var (
	_ runtime.UnitExtractor = (*Extractor)(nil)
	_ runtime.Primer        = (*Extractor)(nil)
)

// Config selects the model and request budget for extraction.
type Config struct {
	Model             string
	MaxTokens         int64
	RequestsPerSecond float64
	PrimeCache        bool
}

// Extractor implements runtime.UnitExtractor. The document is sent as a
// cached system block so every unit of one run shares the prompt prefix.
type Extractor struct {
	client  anthropic.Client
	cfg     Config
	policy  resilience.Policy
	limiter *rate.Limiter
}

// New creates an Extractor. A RequestsPerSecond of zero or less disables
// throttling.
func New(client anthropic.Client, cfg Config, policy resilience.Policy) *Extractor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Extractor{
		client:  client,
		cfg:     cfg,
		policy:  policy,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (e *Extractor) system(doc model.Document) []anthropic.SystemBlock {
	return append(
		[]anthropic.SystemBlock{{Text: systemPrompt}},
		anthropic.BuildCachedSystemBlocks(documentBlock(doc))...,
	)
}

// call sends msg under the rate limit and the resilience policy.
func (e *Extractor) call(ctx context.Context, operation string, msg anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return resilience.Call(ctx, e.policy, operation, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extractor: rate limit")
		}
		resp, err := e.client.CreateMessage(ctx, msg)
		if err != nil {
			return nil, resilience.ClassifyStatus(err, anthropic.StatusCode(err))
		}
		return resp, nil
	})
}

// ExtractUnit asks the model for the unit's fields. A reply that cannot be
// parsed is an error; its token usage is still reported.
func (e *Extractor) ExtractUnit(ctx context.Context, req runtime.UnitRequest) (*runtime.UnitResult, error) {
	resp, err := e.call(ctx, "extract", anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    e.system(req.Document),
		Messages:  []anthropic.Message{{Role: "user", Content: buildUnitPrompt(req)}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: unit %s", req.Unit.Name)
	}
	resp.Usage.LogCost(e.cfg.Model, "extract")
	usage := toUsage(resp.Usage, e.cfg.Model)

	values, err := parseValues(resp.Text())
	if err != nil {
		zap.L().Warn("extractor: unparseable response",
			zap.String("task", req.TaskName),
			zap.String("unit", req.Unit.Name),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return &runtime.UnitResult{Usage: usage}, err
	}
	return &runtime.UnitResult{Values: values, Usage: usage}, nil
}

// Prime writes the document into the prompt cache before the units fan
// out. It is a no-op unless PrimeCache is set.
func (e *Extractor) Prime(ctx context.Context, doc model.Document) (model.TokenUsage, error) {
	if !e.cfg.PrimeCache {
		return model.TokenUsage{}, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return model.TokenUsage{}, eris.Wrap(err, "extractor: rate limit")
	}
	resp, err := anthropic.PrimerRequest(ctx, e.client, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: 16,
		System:    e.system(doc),
		Messages:  []anthropic.Message{{Role: "user", Content: primerPrompt}},
	})
	if err != nil {
		return model.TokenUsage{}, eris.Wrapf(err, "extractor: prime document %s", doc.ID)
	}
	resp.Usage.LogCost(e.cfg.Model, "prime")
	return toUsage(resp.Usage, e.cfg.Model), nil
}

func toUsage(u anthropic.TokenUsage, modelID string) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		Cost:                u.EstimateCost(modelID),
	}
}
