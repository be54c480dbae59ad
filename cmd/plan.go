package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/registry"
	"github.com/sells-group/formflow/internal/workflow"
	"github.com/sells-group/formflow/pkg/notion"
)

var (
	planFormPath    string
	planNotionForm  string
	planSessionID   string
	planHumanReview bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Decompose a form into extraction units and generate its plan",
	Long: `Runs the decomposition workflow for a form: the oracle proposes extraction
units, the validator checks them, and failed proposals are retried with the
validator's feedback. With --human-review the session stops for approval
before the plan is generated; continue it with "formflow review".`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("human-review") {
			cfg.Workflow.HumanReview = planHumanReview
		}

		env, err := initEnv(ctx, "plan")
		if err != nil {
			return err
		}
		defer env.Close()

		form, err := loadForm(ctx, env.Notion, planFormPath, planNotionForm)
		if err != nil {
			return err
		}

		state, err := env.Machine.Start(ctx, planSessionID, *form)
		if err != nil {
			return eris.Wrap(err, "plan")
		}

		fmt.Fprint(os.Stdout, workflow.Summary(state))
		logPlanOutcome(state)
		if state.Status == model.StatusFailed {
			return eris.Errorf("plan: session %s failed after %d attempt(s)", state.SessionID, state.Attempt)
		}
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planFormPath, "form", "", "path to a YAML or JSON form definition")
	planCmd.Flags().StringVar(&planNotionForm, "notion-form", "", "name of a form stored in the Notion form database")
	planCmd.Flags().StringVar(&planSessionID, "session", "", "session ID (default: generated)")
	planCmd.Flags().BoolVar(&planHumanReview, "human-review", false, "suspend for operator review before generating the plan")
	planCmd.MarkFlagsMutuallyExclusive("form", "notion-form")
	rootCmd.AddCommand(planCmd)
}

// loadForm reads a form from a file or, by name, from the Notion form
// database. Exactly one source must be given.
func loadForm(ctx context.Context, client notion.Client, path, notionName string) (*model.Form, error) {
	switch {
	case path != "" && notionName != "":
		return nil, eris.New("use either --form or --notion-form, not both")
	case path != "":
		return registry.LoadFormFromFile(path)
	case notionName != "":
		if client == nil {
			return nil, eris.New("notion.token is required for --notion-form")
		}
		if cfg.Notion.FormDB == "" {
			return nil, eris.New("notion.form_db is required for --notion-form")
		}
		return registry.LoadFormFromNotion(ctx, client, cfg.Notion.FormDB, notionName)
	default:
		return nil, eris.New("a form is required (--form or --notion-form)")
	}
}

func logPlanOutcome(state *model.WorkflowState) {
	zap.L().Info("plan: session paused or finished",
		zap.String("session", state.SessionID),
		zap.String("status", string(state.Status)),
		zap.String("task", state.TaskName),
		zap.Int("attempt", state.Attempt),
	)
}
