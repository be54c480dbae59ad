package registry

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/pkg/notion"
)

func rt(s string) []notionapi.RichText {
	return []notionapi.RichText{{PlainText: s}}
}

func makeFieldPage(id, name, typ, desc, hints string, options ...string) notionapi.Page {
	props := notionapi.Properties{
		"Name": &notionapi.TitleProperty{Title: rt(name)},
		"Type": &notionapi.SelectProperty{Select: notionapi.Option{Name: typ}},
	}
	if desc != "" {
		props["Description"] = &notionapi.RichTextProperty{RichText: rt(desc)}
	}
	if hints != "" {
		props["Hints"] = &notionapi.RichTextProperty{RichText: rt(hints)}
	}
	if len(options) > 0 {
		var opts []notionapi.Option
		for _, o := range options {
			opts = append(opts, notionapi.Option{Name: o})
		}
		props["Options"] = &notionapi.MultiSelectProperty{MultiSelect: opts}
	}
	return notionapi.Page{ID: notionapi.ObjectID(id), Properties: props}
}

func TestLoadFormFromNotion(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "forms-db", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				makeFieldPage("p1", "Study Design", "enum", "Design of the study", "", "RCT", "cohort"),
				makeFieldPage("p2", "Female (%)", "number", "", "Share of female participants"),
				makeFieldPage("p3", "", "text", "untitled row", ""),
			},
		}, nil).Once()

	form, err := LoadFormFromNotion(ctx, mc, "forms-db", "Clinical Trial")
	require.NoError(t, err)

	assert.Equal(t, "Clinical Trial", form.Name)
	require.Len(t, form.Fields, 2, "untitled row is skipped")
	assert.Equal(t, model.Field{
		Name:        "study_design",
		DataType:    model.DataTypeEnum,
		Description: "Design of the study",
		Options:     []string{"RCT", "cohort"},
	}, form.Fields[0])
	assert.Equal(t, "female_percent", form.Fields[1].Name)
	assert.Equal(t, "Share of female participants", form.Fields[1].ExtractionHints)

	mc.AssertExpectations(t)
}

func TestLoadFormFromNotion_QueryError(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "forms-db", mock.Anything).Return(nil, assert.AnError).Once()

	_, err := LoadFormFromNotion(ctx, mc, "forms-db", "Clinical Trial")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: load form from notion")
}

func TestLoadFormFromNotion_InvalidForm(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "forms-db", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{makeFieldPage("p1", "Design", "enum", "", "")},
		}, nil).Once()

	_, err := LoadFormFromNotion(ctx, mc, "forms-db", "Clinical Trial")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `enum field "design" has no options`)
}

func TestPushFormToNotion(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	form := &model.Form{Name: "Clinical Trial", Fields: []model.Field{
		{Name: "study_design", DataType: model.DataTypeEnum, Options: []string{"RCT"}, Description: "design"},
		{Name: "sample_size", DataType: model.DataTypeNumber, ExtractionHints: "randomised total"},
	}}

	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		sel, ok := req.Properties[notion.FormProperty].(notionapi.SelectProperty)
		return ok && sel.Select.Name == "Clinical Trial" && req.Parent.DatabaseID == "forms-db"
	})).Return(&notionapi.Page{ID: "new"}, nil).Twice()

	n, err := PushFormToNotion(ctx, mc, "forms-db", form)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	mc.AssertExpectations(t)
}

func TestPushFormToNotion_StopsOnError(t *testing.T) {
	mc := new(mockNotionClient)
	ctx := context.Background()

	form := &model.Form{Name: "f", Fields: []model.Field{
		{Name: "a", DataType: model.DataTypeText},
		{Name: "b", DataType: model.DataTypeText},
	}}
	mc.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "p"}, nil).Once()
	mc.On("CreatePage", ctx, mock.Anything).Return(nil, assert.AnError).Once()

	n, err := PushFormToNotion(ctx, mc, "forms-db", form)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), `registry: push field "b"`)
}

func TestFieldProperties(t *testing.T) {
	props := fieldProperties("Trial", model.Field{
		Name:            "design",
		DataType:        model.DataTypeEnum,
		Description:     "d",
		ExtractionHints: "h",
		Options:         []string{"RCT", "cohort"},
	})

	title, ok := props["Name"].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "design", title.Title[0].Text.Content)

	opts, ok := props["Options"].(notionapi.MultiSelectProperty)
	require.True(t, ok)
	assert.Len(t, opts.MultiSelect, 2)

	assert.Contains(t, props, "Description")
	assert.Contains(t, props, "Hints")

	bare := fieldProperties("Trial", model.Field{Name: "x", DataType: model.DataTypeText})
	assert.NotContains(t, bare, "Description")
	assert.NotContains(t, bare, "Options")
}
