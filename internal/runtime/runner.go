// Package runtime executes a plan against a document, stage by stage, with
// per-unit fault isolation.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/validate"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultMaxConcurrency = 5
	DefaultUnitTimeout    = 120 * time.Second
)

// UnitRequest is the input to one unit execution. Inputs holds only the
// fields named in the unit's depends_on.
type UnitRequest struct {
	TaskName string
	Unit     model.UnitSpec
	Document model.Document
	Inputs   map[string]model.FieldValue
}

// UnitResult is what an extractor produced for one unit.
type UnitResult struct {
	Values map[string]model.FieldValue
	Usage  model.TokenUsage
}

// UnitExtractor runs the extraction logic of a single unit.
type UnitExtractor interface {
	ExtractUnit(ctx context.Context, req UnitRequest) (*UnitResult, error)
}

// Primer is implemented by extractors that can warm a shared cache for a
// document before its units fan out.
type Primer interface {
	Prime(ctx context.Context, doc model.Document) (model.TokenUsage, error)
}

// Config bounds concurrency and per-unit time.
type Config struct {
	MaxConcurrency int
	UnitTimeout    time.Duration
}

// Runner executes plans. A Runner holds no per-run state and may serve
// concurrent runs.
type Runner struct {
	extractor UnitExtractor
	cfg       Config
	now       func() time.Time
}

// New creates a Runner.
func New(extractor UnitExtractor, cfg Config) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = DefaultUnitTimeout
	}
	return &Runner{
		extractor: extractor,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// run is the state of one document run.
type run struct {
	plan *model.Plan
	doc  model.Document

	mu     sync.Mutex
	fields map[string]model.FieldValue
	usage  model.TokenUsage
}

func (r *run) inputs(deps []string) map[string]model.FieldValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.FieldValue, len(deps))
	for _, name := range deps {
		if v, ok := r.fields[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (r *run) merge(values map[string]model.FieldValue, usage model.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.fields[k] = v
	}
	r.usage.Add(usage)
}

// Run executes plan against doc. Stages run in ascending order; a stage
// starts only after every unit of the previous stages has finished. A failed
// unit contributes its fallback values and never aborts the run. An error
// is returned only for a plan that cannot be executed or when ctx is
// cancelled, in which case the partial result is returned with it.
func (rn *Runner) Run(ctx context.Context, plan *model.Plan, doc model.Document) (*model.ExecutionResult, error) {
	if plan == nil {
		return nil, eris.Wrap(ErrPlanNotExecutable, "nil plan")
	}
	if errs := checkPlan(plan); len(errs) > 0 {
		return nil, planError(plan.TaskName, errs)
	}

	stages := append([]model.PipelineStage(nil), plan.Stages...)
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageNumber < stages[j].StageNumber })

	log := zap.L().With(zap.String("task", plan.TaskName), zap.String("document", doc.ID))
	result := &model.ExecutionResult{
		TaskName:   plan.TaskName,
		DocumentID: doc.ID,
		Status:     model.RunStatusRunning,
		StartedAt:  rn.now(),
	}
	state := &run{plan: plan, doc: doc, fields: make(map[string]model.FieldValue)}

	log.Info("runtime: run started", zap.Int("stages", len(stages)), zap.Int("units", len(plan.Units)))

	if p, ok := rn.extractor.(Primer); ok && len(plan.Units) > 1 {
		usage, err := p.Prime(ctx, doc)
		if err != nil {
			log.Warn("runtime: cache primer failed", zap.Error(err))
		}
		state.usage.Add(usage)
	}

	var runErr error
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = eris.Wrapf(err, "runtime: cancelled before stage %d", stage.StageNumber)
			for _, rest := range stages[i:] {
				result.Units = append(result.Units, rn.skipStage(state, rest, err)...)
			}
			break
		}
		result.Units = append(result.Units, rn.runStage(ctx, state, stage)...)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = eris.Wrap(ctx.Err(), "runtime: cancelled during final stage")
	}

	result.Fields = state.fields
	result.Usage = state.usage
	result.CompletedAt = rn.now()
	result.Degraded = len(result.FailedUnits()) > 0
	result.Status = model.RunStatusCompleted
	if runErr != nil {
		result.Status = model.RunStatusFailed
	}

	log.Info("runtime: run finished",
		zap.String("status", string(result.Status)),
		zap.Bool("degraded", result.Degraded),
		zap.Strings("failed_units", result.FailedUnits()),
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens),
		zap.Float64("cost_usd", result.Usage.Cost),
		zap.Duration("elapsed", result.CompletedAt.Sub(result.StartedAt)),
	)
	return result, runErr
}

// checkPlan rebuilds the decomposition a plan was generated from and
// verifies its stages against it.
func checkPlan(plan *model.Plan) []error {
	d := &model.Decomposition{}
	for _, u := range plan.Units {
		d.Units = append(d.Units, model.ExtractionUnit{
			Name:       u.Name,
			FieldNames: u.FieldNames(),
			DependsOn:  u.DependsOn,
		})
	}
	return validate.CheckStages(d, plan.Stages)
}

func (rn *Runner) runStage(ctx context.Context, state *run, stage model.PipelineStage) []model.UnitOutcome {
	outcomes := make([]model.UnitOutcome, len(stage.Units))

	if stage.ExecutionMode == model.ExecutionParallel && len(stage.Units) > 1 {
		var g errgroup.Group
		g.SetLimit(rn.cfg.MaxConcurrency)
		for i, name := range stage.Units {
			g.Go(func() error {
				outcomes[i] = rn.runUnit(ctx, state, stage.StageNumber, name)
				return nil
			})
		}
		_ = g.Wait()
		return outcomes
	}

	for i, name := range stage.Units {
		outcomes[i] = rn.runUnit(ctx, state, stage.StageNumber, name)
	}
	return outcomes
}

// runUnit executes one unit and merges either its values or its fallback.
func (rn *Runner) runUnit(ctx context.Context, state *run, stageNum int, name string) model.UnitOutcome {
	spec, _ := state.plan.Unit(name)
	outcome := model.UnitOutcome{Unit: name, Stage: stageNum}
	start := time.Now()

	res, err := rn.extract(ctx, state, spec)
	outcome.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		uerr := &UnitExecutionError{Unit: name, Stage: stageNum, Err: err}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			uerr.Timeout = true
		}
		outcome.Status = model.UnitFailed
		outcome.Error = uerr.Error()
		if res != nil {
			outcome.Usage = res.Usage
		}
		state.merge(fallbackValues(spec), outcome.Usage)

		zap.L().Warn("runtime: unit failed, using fallback",
			zap.String("task", state.plan.TaskName),
			zap.String("document", state.doc.ID),
			zap.String("unit", name),
			zap.Int("stage", stageNum),
			zap.Int64("duration_ms", outcome.DurationMs),
			zap.Error(uerr),
		)
		return outcome
	}

	values, missing, extra := ownedValues(spec, res.Values)
	outcome.Status = model.UnitSucceeded
	outcome.Usage = res.Usage
	state.merge(values, res.Usage)

	zap.L().Debug("runtime: unit succeeded",
		zap.String("task", state.plan.TaskName),
		zap.String("document", state.doc.ID),
		zap.String("unit", name),
		zap.Int("stage", stageNum),
		zap.Int64("duration_ms", outcome.DurationMs),
		zap.Strings("missing_fields", missing),
		zap.Strings("dropped_fields", extra),
	)
	return outcome
}

// extract calls the extractor under the unit timeout. A call still running
// when the timeout fires is abandoned; its result is discarded. A panic in
// the extractor is reported as the unit's error.
func (rn *Runner) extract(ctx context.Context, state *run, spec model.UnitSpec) (*UnitResult, error) {
	uctx, cancel := context.WithTimeout(ctx, rn.cfg.UnitTimeout)
	defer cancel()

	req := UnitRequest{
		TaskName: state.plan.TaskName,
		Unit:     spec,
		Document: state.doc,
		Inputs:   state.inputs(spec.DependsOn),
	}

	type reply struct {
		res *UnitResult
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: eris.Errorf("extractor panic: %v", p)}
			}
		}()
		res, err := rn.extractor.ExtractUnit(uctx, req)
		done <- reply{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && r.res == nil {
			r.err = eris.New("extractor returned no result")
		}
		return r.res, r.err
	case <-uctx.Done():
		return nil, uctx.Err()
	}
}

// skipStage marks every unit of a stage that never ran as failed.
func (rn *Runner) skipStage(state *run, stage model.PipelineStage, cause error) []model.UnitOutcome {
	out := make([]model.UnitOutcome, 0, len(stage.Units))
	for _, name := range stage.Units {
		spec, _ := state.plan.Unit(name)
		state.merge(fallbackValues(spec), model.TokenUsage{})
		out = append(out, model.UnitOutcome{
			Unit:   name,
			Stage:  stage.StageNumber,
			Status: model.UnitFailed,
			Error:  (&UnitExecutionError{Unit: name, Stage: stage.StageNumber, Err: cause}).Error(),
		})
	}
	return out
}

// fallbackValues returns the sentinel for every field the unit owns.
func fallbackValues(spec model.UnitSpec) map[string]model.FieldValue {
	out := make(map[string]model.FieldValue, len(spec.Fields))
	for _, name := range spec.FieldNames() {
		v, ok := spec.Fallback[name]
		if !ok {
			v = model.NotReported
		}
		out[name] = model.FieldValue{Value: v}
	}
	return out
}

// ownedValues keeps the values of fields the unit owns, filling any owned
// field the extractor left out with the sentinel. It also reports the
// missing and the dropped field names.
func ownedValues(spec model.UnitSpec, got map[string]model.FieldValue) (map[string]model.FieldValue, []string, []string) {
	out := make(map[string]model.FieldValue, len(spec.Fields))
	owned := make(map[string]bool, len(spec.Fields))
	var missing, extra []string

	for _, name := range spec.FieldNames() {
		owned[name] = true
		if v, ok := got[name]; ok {
			out[name] = v
			continue
		}
		out[name] = model.FieldValue{Value: model.NotReported}
		missing = append(missing, name)
	}
	for name := range got {
		if !owned[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return out, missing, extra
}

// Summary counts succeeded and failed units for display.
func Summary(outcomes []model.UnitOutcome) string {
	ok, failed := 0, 0
	for _, o := range outcomes {
		if o.Status == model.UnitFailed {
			failed++
		} else {
			ok++
		}
	}
	return fmt.Sprintf("%d units succeeded, %d fell back", ok, failed)
}
