package registry

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/pkg/notion"
)

// Notion property names of the form database. Each row is one field.
const (
	propName        = "Name"
	propType        = "Type"
	propDescription = "Description"
	propHints       = "Hints"
	propOptions     = "Options"
)

// LoadFormFromNotion reads the fields of one form from the Notion form
// database. Rows without a title are skipped with a warning.
func LoadFormFromNotion(ctx context.Context, client notion.Client, dbID, formName string) (*model.Form, error) {
	pages, err := notion.QueryFormFields(ctx, client, dbID, formName)
	if err != nil {
		return nil, eris.Wrap(err, "registry: load form from notion")
	}

	form := &model.Form{Name: formName}
	for _, p := range pages {
		f, err := parseFieldPage(p)
		if err != nil {
			zap.L().Warn("registry: skipping malformed field page",
				zap.String("form", formName),
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		form.Fields = append(form.Fields, f)
	}

	NormalizeForm(form)
	if err := ValidateForm(form); err != nil {
		return nil, err
	}

	zap.L().Info("registry: loaded form from notion",
		zap.String("form", formName),
		zap.Int("fields", len(form.Fields)),
	)
	return form, nil
}

func parseFieldPage(p notionapi.Page) (model.Field, error) {
	var f model.Field

	if tp, ok := p.Properties[propName].(*notionapi.TitleProperty); ok {
		f.Name = plainText(tp.Title)
	}
	if sp, ok := p.Properties[propType].(*notionapi.SelectProperty); ok {
		f.DataType = model.DataType(sp.Select.Name)
	}
	if rtp, ok := p.Properties[propDescription].(*notionapi.RichTextProperty); ok {
		f.Description = plainText(rtp.RichText)
	}
	if rtp, ok := p.Properties[propHints].(*notionapi.RichTextProperty); ok {
		f.ExtractionHints = plainText(rtp.RichText)
	}
	if mp, ok := p.Properties[propOptions].(*notionapi.MultiSelectProperty); ok {
		for _, o := range mp.MultiSelect {
			f.Options = append(f.Options, o.Name)
		}
	}

	if strings.TrimSpace(f.Name) == "" {
		return f, eris.New("missing Name property")
	}
	return f, nil
}

// PushFormToNotion creates one row per top-level field of form in the
// Notion form database. It returns the number of rows created; on error the
// rows created so far stay in Notion.
func PushFormToNotion(ctx context.Context, client notion.Client, dbID string, form *model.Form) (int, error) {
	created := 0
	for _, f := range form.Fields {
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: fieldProperties(form.Name, f),
		}
		if _, err := client.CreatePage(ctx, req); err != nil {
			return created, eris.Wrapf(err, "registry: push field %q", f.Name)
		}
		created++
	}
	return created, nil
}

func fieldProperties(formName string, f model.Field) notionapi.Properties {
	props := notionapi.Properties{
		propName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(f.Name),
		},
		notion.FormProperty: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: formName},
		},
		propType: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: string(f.DataType)},
		},
	}
	if f.Description != "" {
		props[propDescription] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(f.Description),
		}
	}
	if f.ExtractionHints != "" {
		props[propHints] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(f.ExtractionHints),
		}
	}
	if len(f.Options) > 0 {
		opts := make([]notionapi.Option, 0, len(f.Options))
		for _, o := range f.Options {
			opts = append(opts, notionapi.Option{Name: o})
		}
		props[propOptions] = notionapi.MultiSelectProperty{
			Type:        notionapi.PropertyTypeMultiSelect,
			MultiSelect: opts,
		}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}}
}

func plainText(rts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range rts {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}
