// Package codegen turns a finalized decomposition and stage plan into the
// plan artifact executed by the runtime.
package codegen

import (
	"context"
	"crypto/md5" //nolint:gosec // naming only, not security
	"encoding/hex"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/workflow"
)

var _ workflow.Generator = (*Generator)(nil)

// TaskName derives the deterministic task identifier for a form. A form
// with an ID is keyed by it alone. Otherwise the key is the form name plus
// its sorted field paths and types, so two different forms that happen to
// share a name do not overwrite each other's plans.
func TaskName(form model.Form) string {
	key := form.ID
	if key == "" {
		key = formFingerprint(form)
	}
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return "task_" + hex.EncodeToString(sum[:])[:8]
}

func formFingerprint(form model.Form) string {
	var paths []string
	var walk func(prefix string, fields []model.Field)
	walk = func(prefix string, fields []model.Field) {
		for _, f := range fields {
			path := prefix + f.Name
			paths = append(paths, path+":"+string(f.DataType))
			walk(path+".", f.NestedFields)
		}
	}
	walk("", form.Fields)
	slices.Sort(paths)
	return form.Name + "\n" + strings.Join(paths, "\n")
}

// ClassName turns a unit name into an exported Go-style identifier:
// "patient_demographics" becomes "PatientDemographics".
func ClassName(unitName string) string {
	words := strings.FieldsFunc(unitName, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	titler := cases.Title(language.Und, cases.NoLower)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(titler.String(w))
	}
	name := b.String()
	if name == "" {
		return "CustomUnit"
	}
	if !unicode.IsLetter([]rune(name)[0]) {
		name = "Unit" + name
	}
	return name
}

// Generator builds plans and optionally writes their manifests to disk.
type Generator struct {
	outputDir string
	now       func() time.Time
}

// New creates a Generator. An empty outputDir disables manifest files.
func New(outputDir string) *Generator {
	return &Generator{
		outputDir: outputDir,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate builds the plan for req. Every unit gets the full definitions
// of the fields it owns and a fallback mapping each of them to the
// not-reported sentinel.
func (g *Generator) Generate(ctx context.Context, req workflow.GenerateRequest) (*model.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "codegen: generate")
	}
	if req.Decomposition == nil {
		return nil, eris.New("codegen: no decomposition")
	}

	plan := &model.Plan{
		TaskName:       TaskName(req.Form),
		Form:           req.Form,
		Stages:         req.Stages,
		ReasoningTrace: req.Decomposition.ReasoningTrace,
		SessionID:      req.SessionID,
		GeneratedAt:    g.now(),
	}

	classes := make(map[string]string, len(req.Decomposition.Units))
	for _, u := range req.Decomposition.Units {
		spec, err := buildUnit(req.Form, u)
		if err != nil {
			return nil, err
		}
		if prev, ok := classes[spec.ClassName]; ok {
			return nil, eris.Errorf("codegen: units %q and %q share class name %s", prev, u.Name, spec.ClassName)
		}
		classes[spec.ClassName] = u.Name
		plan.Units = append(plan.Units, spec)
	}

	if g.outputDir != "" {
		path, err := WriteManifest(g.outputDir, plan)
		if err != nil {
			return nil, err
		}
		zap.L().Info("codegen: manifest written",
			zap.String("task", plan.TaskName),
			zap.String("path", path),
			zap.Int("units", len(plan.Units)),
		)
	}
	return plan, nil
}

func buildUnit(form model.Form, u model.ExtractionUnit) (model.UnitSpec, error) {
	spec := model.UnitSpec{
		Name:      u.Name,
		ClassName: ClassName(u.Name),
		DependsOn: append([]string(nil), u.DependsOn...),
		Fallback:  make(map[string]any, len(u.FieldNames)),
	}
	for _, name := range u.FieldNames {
		f, ok := form.FieldByName(name)
		if !ok {
			return model.UnitSpec{}, eris.Errorf("codegen: unit %q owns unknown field %q", u.Name, name)
		}
		spec.Fields = append(spec.Fields, f)
		spec.Fallback[name] = model.NotReported
	}
	return spec, nil
}
