package workflow

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/formflow/internal/model"
)

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Decompose(ctx context.Context, req OracleRequest) (*model.Decomposition, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Decomposition), args.Error(1)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req GenerateRequest) (*model.Plan, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Plan), args.Error(1)
}

func abcForm() model.Form {
	return model.Form{
		Name: "Trial",
		Fields: []model.Field{
			{Name: "a", DataType: model.DataTypeText},
			{Name: "b", DataType: model.DataTypeNumber},
			{Name: "c", DataType: model.DataTypeText},
		},
	}
}

func goodDecomposition() *model.Decomposition {
	return &model.Decomposition{
		Units: []model.ExtractionUnit{
			{Name: "U1", FieldNames: []string{"a", "b"}},
			{Name: "U2", FieldNames: []string{"c"}, DependsOn: []string{"a"}},
		},
		ReasoningTrace: "c is derived from a",
	}
}

func missingFieldDecomposition() *model.Decomposition {
	return &model.Decomposition{Units: []model.ExtractionUnit{
		{Name: "U1", FieldNames: []string{"a", "b"}},
	}}
}

type oracleFunc func(ctx context.Context, req OracleRequest) (*model.Decomposition, error)

func (f oracleFunc) Decompose(ctx context.Context, req OracleRequest) (*model.Decomposition, error) {
	return f(ctx, req)
}
