// Package oracle asks an LLM to decompose a form into extraction units.
package oracle

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/resilience"
	"github.com/sells-group/formflow/internal/workflow"
	"github.com/sells-group/formflow/pkg/anthropic"
)

// Config selects the model used for decomposition.
type Config struct {
	Model       string
	MaxTokens   int64
	Temperature *float64
}

// Oracle implements workflow.Oracle on top of the Anthropic Messages API.
type Oracle struct {
	client anthropic.Client
	cfg    Config
	policy resilience.Policy
}

// New creates an Oracle. Calls go through policy for retries and circuit
// breaking.
func New(client anthropic.Client, cfg Config, policy resilience.Policy) *Oracle {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return &Oracle{client: client, cfg: cfg, policy: policy}
}

var _ workflow.Oracle = (*Oracle)(nil)

// Decompose proposes a decomposition for req.Form. Failures are returned as
// *Error.
func (o *Oracle) Decompose(ctx context.Context, req workflow.OracleRequest) (*model.Decomposition, error) {
	msg := anthropic.MessageRequest{
		Model:     o.cfg.Model,
		MaxTokens: o.cfg.MaxTokens,
		System: append(
			[]anthropic.SystemBlock{{Text: systemPrompt}},
			anthropic.BuildCachedSystemBlocks(buildFormContext(req.Form))...,
		),
		Messages:    []anthropic.Message{{Role: "user", Content: buildUserPrompt(req)}},
		Temperature: o.cfg.Temperature,
	}

	resp, err := resilience.Call(ctx, o.policy, "decompose", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := o.client.CreateMessage(ctx, msg)
		if err != nil {
			return nil, resilience.ClassifyStatus(err, anthropic.StatusCode(err))
		}
		return resp, nil
	})
	if err != nil {
		return nil, &Error{Attempt: req.Attempt, Phase: PhaseCall, Err: err}
	}
	resp.Usage.LogCost(o.cfg.Model, "decompose")

	d, err := parseDecomposition(resp.Text())
	if err != nil {
		zap.L().Warn("oracle: unparseable decomposition",
			zap.Int("attempt", req.Attempt),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, &Error{Attempt: req.Attempt, Phase: PhaseParse, Err: err}
	}

	zap.L().Info("oracle: decomposition proposed",
		zap.String("form", req.Form.Name),
		zap.Int("attempt", req.Attempt),
		zap.Int("units", len(d.Units)),
		zap.Bool("with_feedback", req.Feedback != ""),
	)
	return d, nil
}
