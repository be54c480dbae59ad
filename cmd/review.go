package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/workflow"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review sessions suspended for human approval",
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the decomposition awaiting review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "review show")
		}
		fmt.Fprint(os.Stdout, workflow.Summary(state))
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Approve the proposed decomposition and generate the plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resumeSession(cmd, args[0], workflow.Decision{Approve: true})
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <session-id>",
	Short: "Reject the proposed decomposition and request a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		if feedback == "" {
			return eris.New("review reject: --feedback is required")
		}
		return resumeSession(cmd, args[0], workflow.Decision{Feedback: feedback})
	},
}

func resumeSession(cmd *cobra.Command, sessionID string, d workflow.Decision) error {
	return driveSession(cmd, "review", func(ctx context.Context, m *workflow.Machine) (*model.WorkflowState, error) {
		return m.Resume(ctx, sessionID, d)
	})
}

// driveSession builds a plan-mode environment, advances one session with fn,
// and reports where it stopped.
func driveSession(cmd *cobra.Command, label string, fn func(context.Context, *workflow.Machine) (*model.WorkflowState, error)) error {
	ctx := cmd.Context()

	env, err := initEnv(ctx, "plan")
	if err != nil {
		return err
	}
	defer env.Close()

	state, err := fn(ctx, env.Machine)
	if err != nil {
		return eris.Wrap(err, label)
	}
	return reportSession(os.Stdout, label, state)
}

// reportSession prints the operator summary and fails when the session did.
func reportSession(out io.Writer, label string, state *model.WorkflowState) error {
	fmt.Fprint(out, workflow.Summary(state))
	logPlanOutcome(state)
	if state.Status == model.StatusFailed {
		return eris.Errorf("%s: session %s failed", label, state.SessionID)
	}
	return nil
}

func init() {
	reviewRejectCmd.Flags().String("feedback", "", "guidance for the next decomposition attempt")

	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}
