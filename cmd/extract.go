package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/formflow/internal/codegen"
	"github.com/sells-group/formflow/internal/export"
	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/runtime"
	"github.com/sells-group/formflow/internal/store"
)

var (
	extractTask     string
	extractManifest string
	extractXLSX     string
	extractParallel int
)

var extractCmd = &cobra.Command{
	Use:   "extract <document>...",
	Short: "Run a generated plan against one or more documents",
	Long: `Executes a plan stage by stage against each document. The plan is loaded
from the store by task name (--task) or from a manifest written by
"formflow plan" (--manifest). Each document is recorded as a run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := loadPlan(ctx, env.Store, extractTask, extractManifest)
		if err != nil {
			return err
		}

		docs, err := env.Documents.LoadAll(ctx, args)
		if err != nil {
			return err
		}

		results, failed := extractAll(ctx, env.Store, env.Runner, plan, docs, extractParallel)

		for _, r := range results {
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", r.DocumentID, r.Status, runtime.Summary(r.Units))
		}

		if extractXLSX != "" {
			if err := export.WriteXLSX(extractXLSX, plan.Form, results); err != nil {
				return err
			}
			zap.L().Info("extract: wrote workbook", zap.String("path", extractXLSX), zap.Int("documents", len(results)))
		}

		if failed > 0 {
			return eris.Errorf("extract: %d of %d document(s) failed", failed, len(docs))
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractTask, "task", "", "task name of a stored plan")
	extractCmd.Flags().StringVar(&extractManifest, "manifest", "", "path to a plan manifest or its task directory")
	extractCmd.Flags().StringVar(&extractXLSX, "xlsx", "", "write results to this workbook")
	extractCmd.Flags().IntVar(&extractParallel, "parallel", 1, "documents processed concurrently")
	extractCmd.MarkFlagsMutuallyExclusive("task", "manifest")
	rootCmd.AddCommand(extractCmd)
}

// loadPlan resolves the plan to execute. A plan read from a manifest is
// saved to the store so its runs can be looked up by task name.
func loadPlan(ctx context.Context, st store.Store, task, manifest string) (*model.Plan, error) {
	switch {
	case task != "":
		plan, err := st.GetPlan(ctx, task)
		if err != nil {
			return nil, eris.Wrapf(err, "load plan %s", task)
		}
		return plan, nil
	case manifest != "":
		plan, err := codegen.LoadManifest(manifest)
		if err != nil {
			return nil, err
		}
		if err := st.SavePlan(ctx, plan); err != nil {
			return nil, eris.Wrap(err, "save manifest plan")
		}
		return plan, nil
	default:
		return nil, eris.New("a plan is required (--task or --manifest)")
	}
}

// executeDocument records a run for doc, executes plan against it, and
// returns the completed run. The run is completed even when execution
// fails so the failure is visible in run history.
func executeDocument(ctx context.Context, st store.Store, runner *runtime.Runner, plan *model.Plan, doc model.Document) (*model.Run, error) {
	run, err := st.CreateRun(ctx, plan.TaskName, doc.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "create run for %s", doc.ID)
	}
	return finishRun(ctx, st, runner, plan, doc, run.ID)
}

// finishRun executes plan against doc and completes the already created
// run runID with the outcome.
func finishRun(ctx context.Context, st store.Store, runner *runtime.Runner, plan *model.Plan, doc model.Document, runID string) (*model.Run, error) {
	result, runErr := runner.Run(ctx, plan, doc)

	// Record the outcome even if the caller has gone away.
	bg := context.WithoutCancel(ctx)
	if err := st.CompleteRun(bg, runID, result, runErr); err != nil {
		return nil, eris.Wrapf(err, "complete run %s", runID)
	}

	completed, err := st.GetRun(bg, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "reload run %s", runID)
	}
	return completed, runErr
}

// extractAll runs every document, at most parallel at a time. It returns
// the results that were produced and the number of documents that failed.
func extractAll(ctx context.Context, st store.Store, runner *runtime.Runner, plan *model.Plan, docs []model.Document, parallel int) ([]*model.ExecutionResult, int) {
	if parallel < 1 {
		parallel = 1
	}

	results := make([]*model.ExecutionResult, len(docs))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, doc := range docs {
		g.Go(func() error {
			run, err := executeDocument(gctx, st, runner, plan, doc)
			if err != nil {
				zap.L().Error("extract: document failed",
					zap.String("task", plan.TaskName),
					zap.String("document", doc.ID),
					zap.Error(err),
				)
			}
			mu.Lock()
			defer mu.Unlock()
			if run == nil || run.Status == model.RunStatusFailed {
				failed++
			}
			if run != nil && run.Result != nil {
				results[i] = run.Result
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*model.ExecutionResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, failed
}
