package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/formflow/internal/config"
	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/runtime"
	"github.com/sells-group/formflow/internal/workflow"
)

type oracleFunc func(ctx context.Context, req workflow.OracleRequest) (*model.Decomposition, error)

func (f oracleFunc) Decompose(ctx context.Context, req workflow.OracleRequest) (*model.Decomposition, error) {
	return f(ctx, req)
}

type extractorFunc func(ctx context.Context, req runtime.UnitRequest) (*runtime.UnitResult, error)

func (f extractorFunc) ExtractUnit(ctx context.Context, req runtime.UnitRequest) (*runtime.UnitResult, error) {
	return f(ctx, req)
}

func trialForm() model.Form {
	return model.Form{
		Name: "Trial",
		Fields: []model.Field{
			{Name: "study_design", DataType: model.DataTypeText},
			{Name: "arms", DataType: model.DataTypeList},
			{Name: "primary_outcome", DataType: model.DataTypeText},
		},
	}
}

// trialOracle always proposes a design unit and an outcomes unit that
// depends on the study design.
func trialOracle() workflow.Oracle {
	return oracleFunc(func(_ context.Context, _ workflow.OracleRequest) (*model.Decomposition, error) {
		return &model.Decomposition{
			Units: []model.ExtractionUnit{
				{Name: "design", FieldNames: []string{"study_design", "arms"}},
				{Name: "outcomes", FieldNames: []string{"primary_outcome"}, DependsOn: []string{"study_design"}},
			},
			ReasoningTrace: "outcomes are read in light of the design",
		}, nil
	})
}

// trialExtractor answers the design unit and fails the outcomes unit.
func trialExtractor() runtime.UnitExtractor {
	return extractorFunc(func(_ context.Context, req runtime.UnitRequest) (*runtime.UnitResult, error) {
		switch req.Unit.Name {
		case "design":
			return &runtime.UnitResult{Values: map[string]model.FieldValue{
				"study_design": {Value: "RCT", Provenance: "Methods"},
				"arms":         {Value: []any{"placebo", "drug"}},
			}}, nil
		default:
			return nil, context.DeadlineExceeded
		}
	})
}

func testConfig(t *testing.T, humanReview bool) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "formflow.db"),
		},
		Workflow: config.WorkflowConfig{
			MaxAttempts: 3,
			HumanReview: humanReview,
			OutputDir:   filepath.Join(t.TempDir(), "plans"),
		},
		Runtime: config.RuntimeConfig{
			MaxConcurrency:  2,
			UnitTimeoutSecs: 5,
		},
		Server: config.ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
	}
}

// setupEnv points the package config at a fresh SQLite database and wires
// fake oracle and extractor implementations around it.
func setupEnv(t *testing.T, humanReview bool) *appEnv {
	t.Helper()
	cfg = testConfig(t, humanReview)

	st, err := openStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return &appEnv{
		Store:   st,
		Machine: newMachine(trialOracle(), st),
		Runner:  newRunner(trialExtractor()),
	}
}

// savePlan runs a session to completion and returns the generated plan.
func savePlan(t *testing.T, env *appEnv) *model.Plan {
	t.Helper()
	ctx := context.Background()
	state, err := env.Machine.Start(ctx, "", trialForm())
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, state.Status)

	plan, err := env.Store.GetPlan(ctx, state.TaskName)
	require.NoError(t, err)
	return plan
}
